package kms

import (
	"kmscap/internal/monitor"
	"kmscap/internal/types"
)

// Selection is the plane chosen for one frame and how to draw it.
type Selection struct {
	Plane            *Plane
	RequiresRotation bool
	// Rotation is the compositor angle in radians, 0 unless rotation
	// compensation applies.
	Rotation float32
	// IsCombined is set when the plane already holds the whole composited
	// screen, so the capture rectangle is an offset into it.
	IsCombined bool
}

// Resolver picks the framebuffer plane for a capture target.
type Resolver struct {
	Target     monitor.Target
	ScreenSize types.Vec2i
}

// Resolve selects a plane from resp. Whole-screen capture prefers the first
// combined plane, then the largest. A named output tries its connector ids in
// order and falls back to the whole-screen policy when none match. The
// returned plane points into resp, which keeps ownership of every fd.
func (r Resolver) Resolve(resp *Response) (Selection, error) {
	if resp == nil || len(resp.Planes) == 0 {
		return Selection{}, ErrNoPlanes
	}

	requiresRotation := r.Target.RequiresRotation

	var plane *Plane
	if !r.Target.ScreenCapture {
		for _, id := range r.Target.ConnectorIDs {
			if plane = resp.byConnector(id); plane != nil {
				requiresRotation = r.Target.Rotation.Rotated()
				break
			}
		}
	}
	if plane == nil {
		plane = resp.firstCombined()
	}
	if plane == nil {
		plane = resp.largest()
	}

	sel := Selection{
		Plane:            plane,
		RequiresRotation: requiresRotation,
		IsCombined:       plane.IsCombined || (plane.Width == r.ScreenSize.X && plane.Height == r.ScreenSize.Y),
	}
	if requiresRotation {
		sel.Rotation = r.Target.Rotation.Radians()
	}
	return sel, nil
}
