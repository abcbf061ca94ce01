package kms

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Plane is one DMA-BUF framebuffer returned by the helper.
type Plane struct {
	FD          int
	ConnectorID uint32
	Width       int
	Height      int
	PixelFormat uint32
	Stride      uint32
	Offset      uint32
	Modifier    uint64
	IsCombined  bool
}

// Response is one helper reply. It owns every plane fd until Close.
type Response struct {
	Result Result
	Err    string
	Planes []Plane
}

// Close closes every plane fd exactly once.
func (r *Response) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := range r.Planes {
		if r.Planes[i].FD > 0 {
			if err := unix.Close(r.Planes[i].FD); err != nil {
				errs = append(errs, err)
			}
		}
		r.Planes[i].FD = -1
	}
	return errors.Join(errs...)
}

func (r *Response) firstCombined() *Plane {
	for i := range r.Planes {
		if r.Planes[i].IsCombined {
			return &r.Planes[i]
		}
	}
	return nil
}

func (r *Response) largest() *Plane {
	if len(r.Planes) == 0 {
		return nil
	}
	best := &r.Planes[0]
	for i := 1; i < len(r.Planes); i++ {
		p := &r.Planes[i]
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

func (r *Response) byConnector(id uint32) *Plane {
	for i := range r.Planes {
		if r.Planes[i].ConnectorID == id {
			return &r.Planes[i]
		}
	}
	return nil
}
