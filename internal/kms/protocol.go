package kms

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire format shared with the privileged helper. Everything is little
// endian; plane fds ride along as a single SCM_RIGHTS message in record order.
const (
	ProtocolVersion = 1
	MaxPlanes       = 16

	requestGetKMS = 1
	errMsgLen     = 128
)

// Result is the helper's status code.
type Result int32

const (
	ResultOK Result = iota
	ResultInvalidRequest
	ResultFailedToGetPlane
	ResultFailedToGetPlanes
	ResultFailedToSend
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultInvalidRequest:
		return "invalid request"
	case ResultFailedToGetPlane:
		return "failed to get plane"
	case ResultFailedToGetPlanes:
		return "failed to get planes"
	case ResultFailedToSend:
		return "failed to send"
	default:
		return fmt.Sprintf("result(%d)", int32(r))
	}
}

type request struct {
	Version uint32
	Type    uint32
}

type responseHeader struct {
	Version   uint32
	Result    int32
	ErrMsg    [errMsgLen]byte
	NumPlanes uint32
}

type planeRecord struct {
	ConnectorID uint32
	Width       uint32
	Height      uint32
	Pitch       uint32
	Offset      uint32
	PixelFormat uint32
	Modifier    uint64
	IsCombined  uint32
	Pad         uint32
}

var (
	requestSize        = binary.Size(request{})
	responseHeaderSize = binary.Size(responseHeader{})
	planeRecordSize    = binary.Size(planeRecord{})

	// maxResponseSize is the largest message the helper may send.
	maxResponseSize = responseHeaderSize + MaxPlanes*planeRecordSize
)

func marshalRequest(req request) []byte {
	var buf bytes.Buffer
	buf.Grow(requestSize)
	_ = binary.Write(&buf, binary.LittleEndian, req)
	return buf.Bytes()
}

func unmarshalRequest(b []byte) (request, error) {
	var req request
	if len(b) < requestSize {
		return req, fmt.Errorf("kms: short request: %d bytes", len(b))
	}
	err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &req)
	return req, err
}

// marshalResponse encodes a response body. Plane fds are not part of the
// body; the sender passes them separately.
func marshalResponse(result Result, errMsg string, planes []Plane) ([]byte, error) {
	if len(planes) > MaxPlanes {
		return nil, fmt.Errorf("kms: %d planes exceeds max %d", len(planes), MaxPlanes)
	}
	hdr := responseHeader{
		Version:   ProtocolVersion,
		Result:    int32(result),
		NumPlanes: uint32(len(planes)),
	}
	copy(hdr.ErrMsg[:errMsgLen-1], errMsg)

	var buf bytes.Buffer
	buf.Grow(responseHeaderSize + len(planes)*planeRecordSize)
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}
	for _, p := range planes {
		rec := planeRecord{
			ConnectorID: p.ConnectorID,
			Width:       uint32(p.Width),
			Height:      uint32(p.Height),
			Pitch:       p.Stride,
			Offset:      p.Offset,
			PixelFormat: p.PixelFormat,
			Modifier:    p.Modifier,
		}
		if p.IsCombined {
			rec.IsCombined = 1
		}
		if err := binary.Write(&buf, binary.LittleEndian, rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// unmarshalResponse decodes a response body. The returned planes carry no
// fds yet.
func unmarshalResponse(b []byte) (*Response, error) {
	if len(b) < responseHeaderSize {
		return nil, fmt.Errorf("kms: short response: %d bytes", len(b))
	}
	r := bytes.NewReader(b)

	var hdr responseHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if hdr.Version != ProtocolVersion {
		return nil, fmt.Errorf("kms: protocol version mismatch: helper %d, client %d", hdr.Version, ProtocolVersion)
	}
	if hdr.NumPlanes > MaxPlanes {
		return nil, fmt.Errorf("kms: helper reported %d planes, max %d", hdr.NumPlanes, MaxPlanes)
	}
	if want := responseHeaderSize + int(hdr.NumPlanes)*planeRecordSize; len(b) < want {
		return nil, fmt.Errorf("kms: truncated response: %d of %d bytes", len(b), want)
	}

	resp := &Response{
		Result: Result(hdr.Result),
		Err:    cString(hdr.ErrMsg[:]),
		Planes: make([]Plane, 0, hdr.NumPlanes),
	}
	for i := uint32(0); i < hdr.NumPlanes; i++ {
		var rec planeRecord
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, err
		}
		resp.Planes = append(resp.Planes, Plane{
			FD:          -1,
			ConnectorID: rec.ConnectorID,
			Width:       int(rec.Width),
			Height:      int(rec.Height),
			PixelFormat: rec.PixelFormat,
			Stride:      rec.Pitch,
			Offset:      rec.Offset,
			Modifier:    rec.Modifier,
			IsCombined:  rec.IsCombined != 0,
		})
	}
	return resp, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

var errShortWrite = errors.New("kms: short write")
