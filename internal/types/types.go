package types

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Vec2i is an integer pixel position or size.
type Vec2i struct {
	X int
	Y int
}

func (v Vec2i) Sub(o Vec2i) Vec2i { return Vec2i{X: v.X - o.X, Y: v.Y - o.Y} }

// FourCC builds a DRM fourcc code from its four characters.
func FourCC(a, b, c, d byte) uint32 {
	return uint32(d)<<24 | uint32(c)<<16 | uint32(b)<<8 | uint32(a)
}

var (
	FourCCNV12 = FourCC('N', 'V', '1', '2')
	FourCCR8   = FourCC('R', '8', ' ', ' ')
	FourCCGR88 = FourCC('G', 'R', '8', '8')
)

// PrimeObject is one DMA-BUF backing a hardware surface.
type PrimeObject struct {
	FD       int
	Size     uint32
	Modifier uint64
}

// PrimeLayer describes one layer of a hardware surface. With separate-layer
// export each layer holds a single plane.
type PrimeLayer struct {
	DRMFormat   uint32
	NumPlanes   int
	ObjectIndex [4]uint32
	Offset      [4]uint32
	Pitch       [4]uint32
}

// PrimeDescriptor is a hardware surface exported as DMA-BUF planes. The
// descriptor owns every object fd until Close.
type PrimeDescriptor struct {
	FourCC  uint32
	Width   uint32
	Height  uint32
	Objects []PrimeObject
	Layers  []PrimeLayer
}

// PlaneFD returns the fd backing the first plane of layer i.
func (p *PrimeDescriptor) PlaneFD(layer int) (int, error) {
	if layer >= len(p.Layers) {
		return -1, errors.New("prime: layer out of range")
	}
	idx := int(p.Layers[layer].ObjectIndex[0])
	if idx >= len(p.Objects) {
		return -1, errors.New("prime: object index out of range")
	}
	return p.Objects[idx].FD, nil
}

// Close closes every object fd once. Safe to call repeatedly.
func (p *PrimeDescriptor) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	for i := range p.Objects {
		if p.Objects[i].FD > 0 {
			if err := unix.Close(p.Objects[i].FD); err != nil {
				errs = append(errs, err)
			}
		}
		p.Objects[i].FD = -1
	}
	return errors.Join(errs...)
}

// HWFrame is an encoder-owned hardware surface.
type HWFrame interface {
	// ExportPrime exports the surface as DMA-BUF planes. The caller owns the result.
	ExportPrime() (*PrimeDescriptor, error)
	Sync() error
	Free()
}

// HWDevice is a hardware encoder device bound to a fixed-size NV12 frame pool.
type HWDevice interface {
	AllocFrame() (HWFrame, error)
	Close()
}

// Cursor tracks the hardware cursor as a textured sprite.
type Cursor interface {
	ChangeWindowTarget(window uint32)
	Update(event any)
	Tick()
	Position() Vec2i
	Hotspot() Vec2i
	Size() Vec2i
	Texture() uint32
	Close()
}
