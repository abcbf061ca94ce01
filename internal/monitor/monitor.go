// Package monitor resolves which display output a capture targets: its
// connector ids, geometry and rotation.
package monitor

import (
	"math"

	"kmscap/internal/logging"
	"kmscap/internal/types"
)

// ScreenName selects the whole composited screen instead of one output.
const ScreenName = "screen"

// MaxConnectorIDs bounds how many hardware connectors one logical output may
// aggregate.
const MaxConnectorIDs = 32

// Rotation is an X RandR rotation bit.
type Rotation uint16

const (
	Rotate0   Rotation = 1
	Rotate90  Rotation = 2
	Rotate180 Rotation = 4
	Rotate270 Rotation = 8
)

// Radians returns the angle the compositor rotates by. Reflection bits and
// unknown values map to 0.
func (r Rotation) Radians() float32 {
	switch r & 0x0f {
	case Rotate90:
		return math.Pi * 0.5
	case Rotate180:
		return math.Pi
	case Rotate270:
		return math.Pi * 1.5
	default:
		return 0
	}
}

// Degrees returns 0, 90, 180 or 270.
func (r Rotation) Degrees() int {
	switch r & 0x0f {
	case Rotate90:
		return 90
	case Rotate180:
		return 180
	case Rotate270:
		return 270
	default:
		return 0
	}
}

// Rotated reports whether r is anything other than upright.
func (r Rotation) Rotated() bool { return r.Degrees() != 0 }

func (r Rotation) String() string {
	switch r.Degrees() {
	case 90:
		return "90"
	case 180:
		return "180"
	case 270:
		return "270"
	default:
		return "0"
	}
}

// Output is one active display output as enumerated from the window system.
type Output struct {
	Name         string
	Pos          types.Vec2i
	Size         types.Vec2i
	Rotation     Rotation
	ConnectorIDs []uint32
}

// Monitor is the capture rectangle of a named output or of the whole screen.
type Monitor struct {
	Name string
	Pos  types.Vec2i
	Size types.Vec2i
}

// Target is a capture target resolved once at session start. It is not
// refreshed when the display configuration changes.
type Target struct {
	Name             string
	ScreenCapture    bool
	ConnectorIDs     []uint32
	Rotation         Rotation
	RequiresRotation bool
	NumOutputs       int
}

var log = logging.L("monitor")

// ResolveTarget walks the active outputs the way a for-each-output callback
// would. Whole-screen capture takes the rotation of the last output; a named
// output takes its own rotation and connector ids. Rotation compensation is
// only required when exactly one output is active and it is rotated, since
// multi-output layouts already carry rotation in the composited buffer.
func ResolveTarget(outputs []Output, name string) Target {
	t := Target{
		Name:          name,
		ScreenCapture: name == ScreenName,
		Rotation:      Rotate0,
	}

	for _, out := range outputs {
		t.NumOutputs++

		if t.ScreenCapture {
			t.Rotation = out.Rotation
		}
		if out.Name != name {
			continue
		}

		t.Rotation = out.Rotation
		for _, id := range out.ConnectorIDs {
			if len(t.ConnectorIDs) >= MaxConnectorIDs {
				break
			}
			t.ConnectorIDs = append(t.ConnectorIDs, id)
		}
		if len(t.ConnectorIDs) == MaxConnectorIDs {
			log.Warn("reached max connector ids", "output", out.Name, "max", MaxConnectorIDs)
		}
	}

	t.RequiresRotation = t.NumOutputs == 1 && t.Rotation.Rotated()
	return t
}

// ByName finds the geometry of the named output. For ScreenName the caller
// is expected to use the screen size instead.
func ByName(outputs []Output, name string) (Monitor, bool) {
	for _, out := range outputs {
		if out.Name == name {
			return Monitor{Name: out.Name, Pos: out.Pos, Size: out.Size}, true
		}
	}
	return Monitor{}, false
}

// Screen is the whole-screen monitor of the given size.
func Screen(size types.Vec2i) Monitor {
	return Monitor{Name: ScreenName, Size: size}
}

// EncoderDimension rounds a capture dimension down to even and at least 2,
// which hardware encoders require.
func EncoderDimension(v int) int {
	return max(2, v&^1)
}
