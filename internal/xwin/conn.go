// Package xwin talks X11 protocol to the display server: RandR output
// enumeration, screen geometry, the event pump and XFixes cursor tracking.
package xwin

import (
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/xfixes"
	"github.com/jezek/xgb/xproto"

	"kmscap/internal/logging"
	"kmscap/internal/monitor"
	"kmscap/internal/types"
)

const connectorIDAtomName = "CONNECTOR_ID"

var log = logging.L("xwin")

// Conn is an X connection with RandR and XFixes initialized.
type Conn struct {
	x           *xgb.Conn
	screen      *xproto.ScreenInfo
	connectorID xproto.Atom
}

// Open connects to display (empty means $DISPLAY).
func Open(display string) (*Conn, error) {
	x, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("connect to X display %q: %w", display, err)
	}

	c := &Conn{x: x, screen: xproto.Setup(x).DefaultScreen(x)}
	if c.screen == nil {
		x.Close()
		return nil, fmt.Errorf("X display %q has no default screen", display)
	}

	if err := randr.Init(x); err != nil {
		x.Close()
		return nil, fmt.Errorf("randr: %w", err)
	}
	if _, err := randr.QueryVersion(x, 1, 3).Reply(); err != nil {
		x.Close()
		return nil, fmt.Errorf("randr version: %w", err)
	}
	if err := xfixes.Init(x); err != nil {
		x.Close()
		return nil, fmt.Errorf("xfixes: %w", err)
	}
	// XFixes requests are rejected until the version is negotiated.
	if _, err := xfixes.QueryVersion(x, 2, 0).Reply(); err != nil {
		x.Close()
		return nil, fmt.Errorf("xfixes version: %w", err)
	}

	atom, err := xproto.InternAtom(x, false, uint16(len(connectorIDAtomName)), connectorIDAtomName).Reply()
	if err != nil {
		x.Close()
		return nil, fmt.Errorf("intern %s: %w", connectorIDAtomName, err)
	}
	c.connectorID = atom.Atom

	return c, nil
}

// ScreenSize is the size of the whole composited screen.
func (c *Conn) ScreenSize() types.Vec2i {
	return types.Vec2i{X: int(c.screen.WidthInPixels), Y: int(c.screen.HeightInPixels)}
}

func (c *Conn) RootWindow() uint32 { return uint32(c.screen.Root) }

// ForEachActiveOutput calls fn for every connected output driven by a CRTC
// with a known mode. Each output carries the connector ids of every output
// sharing its CRTC.
func (c *Conn) ForEachActiveOutput(fn func(monitor.Output)) error {
	res, err := randr.GetScreenResourcesCurrent(c.x, c.screen.Root).Reply()
	if err != nil {
		return fmt.Errorf("get screen resources: %w", err)
	}

	modes := make(map[uint32]bool, len(res.Modes))
	for _, m := range res.Modes {
		modes[m.Id] = true
	}

	for _, output := range res.Outputs {
		info, err := randr.GetOutputInfo(c.x, output, res.ConfigTimestamp).Reply()
		if err != nil {
			log.Debug("skip output", "output", output, logging.KeyError, err)
			continue
		}
		if info.Crtc == 0 || info.Connection != randr.ConnectionConnected {
			continue
		}

		crtc, err := randr.GetCrtcInfo(c.x, info.Crtc, res.ConfigTimestamp).Reply()
		if err != nil {
			log.Debug("skip crtc", "crtc", info.Crtc, logging.KeyError, err)
			continue
		}
		if !modes[uint32(crtc.Mode)] {
			continue
		}

		fn(monitor.Output{
			Name:         string(info.Name),
			Pos:          types.Vec2i{X: int(crtc.X), Y: int(crtc.Y)},
			Size:         types.Vec2i{X: int(crtc.Width), Y: int(crtc.Height)},
			Rotation:     monitor.Rotation(crtc.Rotation),
			ConnectorIDs: c.connectorIDs(crtc.Outputs),
		})
	}
	return nil
}

// Outputs collects ForEachActiveOutput into a slice.
func (c *Conn) Outputs() ([]monitor.Output, error) {
	var outputs []monitor.Output
	err := c.ForEachActiveOutput(func(o monitor.Output) {
		outputs = append(outputs, o)
	})
	return outputs, err
}

func (c *Conn) connectorIDs(outputs []randr.Output) []uint32 {
	var ids []uint32
	for _, output := range outputs {
		props, err := randr.ListOutputProperties(c.x, output).Reply()
		if err != nil || !hasAtom(props.Atoms, c.connectorID) {
			continue
		}
		prop, err := randr.GetOutputProperty(c.x, output, c.connectorID, xproto.AtomAny, 0, 128, false, false).Reply()
		if err != nil {
			continue
		}
		if id, ok := decodeConnectorID(prop.Type, prop.Format, prop.Data); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func hasAtom(atoms []xproto.Atom, atom xproto.Atom) bool {
	for _, a := range atoms {
		if a == atom {
			return true
		}
	}
	return false
}

// decodeConnectorID reads a CONNECTOR_ID property value. Only 32-bit INTEGER
// values are accepted.
func decodeConnectorID(typ xproto.Atom, format byte, data []byte) (uint32, bool) {
	if typ != xproto.AtomInteger || format != 32 || len(data) < 4 {
		return 0, false
	}
	return xgb.Get32(data), true
}

// PollEvent returns the next queued event without blocking. Protocol errors
// are logged and skipped.
func (c *Conn) PollEvent() (any, bool) {
	for {
		ev, xerr := c.x.PollForEvent()
		if ev == nil && xerr == nil {
			return nil, false
		}
		if xerr != nil {
			log.Debug("x error", logging.KeyError, xerr)
			continue
		}
		return ev, true
	}
}

func (c *Conn) Close() {
	if c == nil || c.x == nil {
		return
	}
	c.x.Close()
	c.x = nil
}
