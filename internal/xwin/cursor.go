package xwin

import (
	"fmt"

	"github.com/jezek/xgb/xfixes"
	"github.com/jezek/xgb/xproto"

	"kmscap/internal/egl"
	"kmscap/internal/logging"
	"kmscap/internal/types"
)

// cursorImage is the part of an XFixes cursor image the tracker keeps.
type cursorImage struct {
	Size    types.Vec2i
	Hotspot types.Vec2i
	Pixels  []uint32
}

// cursorSource is the X side of cursor tracking.
type cursorSource interface {
	selectCursorInput(window uint32) error
	cursorImage() (cursorImage, error)
	queryPointer(window uint32) (types.Vec2i, error)
}

type xSource struct{ c *Conn }

func (s xSource) selectCursorInput(window uint32) error {
	return xfixes.SelectCursorInputChecked(s.c.x, xproto.Window(window), xfixes.CursorNotifyMaskDisplayCursor).Check()
}

func (s xSource) cursorImage() (cursorImage, error) {
	img, err := xfixes.GetCursorImage(s.c.x).Reply()
	if err != nil {
		return cursorImage{}, err
	}
	return cursorImage{
		Size:    types.Vec2i{X: int(img.Width), Y: int(img.Height)},
		Hotspot: types.Vec2i{X: int(img.Xhot), Y: int(img.Yhot)},
		Pixels:  img.CursorImage,
	}, nil
}

func (s xSource) queryPointer(window uint32) (types.Vec2i, error) {
	p, err := xproto.QueryPointer(s.c.x, xproto.Window(window)).Reply()
	if err != nil {
		return types.Vec2i{}, err
	}
	return types.Vec2i{X: int(p.RootX), Y: int(p.RootY)}, nil
}

// Cursor tracks the pointer sprite: its image as a texture, its hotspot and
// its position relative to the target window.
type Cursor struct {
	drv    egl.Driver
	src    cursorSource
	window uint32

	texture  uint32
	size     types.Vec2i
	hotspot  types.Vec2i
	position types.Vec2i
	dirty    bool
}

// NewCursor creates a cursor tracker that uploads the sprite through drv.
func (c *Conn) NewCursor(drv egl.Driver) (types.Cursor, error) {
	cur, err := newCursor(drv, xSource{c: c})
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func newCursor(drv egl.Driver, src cursorSource) (*Cursor, error) {
	cur := &Cursor{drv: drv, src: src, dirty: true}
	cur.texture = egl.NewTexture(drv)
	if cur.texture == 0 {
		return nil, fmt.Errorf("cursor: failed to create texture")
	}
	return cur, nil
}

// ChangeWindowTarget moves cursor notifications and position queries to
// window.
func (c *Cursor) ChangeWindowTarget(window uint32) {
	if err := c.src.selectCursorInput(window); err != nil {
		log.Warn("select cursor input failed", "window", window, logging.KeyError, err)
	}
	c.window = window
	c.dirty = true
}

// Update consumes one window-system event. Only cursor-change notifications
// matter; the image is re-read on the next Tick.
func (c *Cursor) Update(event any) {
	switch event.(type) {
	case xfixes.CursorNotifyEvent, *xfixes.CursorNotifyEvent:
		c.dirty = true
	}
}

// Tick refreshes the pointer position and, if the cursor changed, the image.
func (c *Cursor) Tick() {
	if c.dirty {
		c.dirty = false
		img, err := c.src.cursorImage()
		if err != nil {
			log.Debug("get cursor image failed", logging.KeyError, err)
		} else {
			c.upload(img)
		}
	}

	pos, err := c.src.queryPointer(c.window)
	if err != nil {
		log.Debug("query pointer failed", logging.KeyError, err)
		return
	}
	c.position = pos
}

func (c *Cursor) upload(img cursorImage) {
	if img.Size.X <= 0 || img.Size.Y <= 0 || len(img.Pixels) < img.Size.X*img.Size.Y {
		return
	}
	c.size = img.Size
	c.hotspot = img.Hotspot

	c.drv.BindTexture(egl.GL_TEXTURE_2D, c.texture)
	c.drv.TexImage2D(egl.GL_TEXTURE_2D, 0, egl.GL_RGBA, int32(img.Size.X), int32(img.Size.Y),
		egl.GL_RGBA, egl.GL_UNSIGNED_BYTE, argbToRGBA(img.Pixels[:img.Size.X*img.Size.Y]))
	c.drv.BindTexture(egl.GL_TEXTURE_2D, 0)
}

// argbToRGBA unpacks XFixes ARGB32 pixels into RGBA bytes.
func argbToRGBA(pixels []uint32) []byte {
	out := make([]byte, len(pixels)*4)
	for i, p := range pixels {
		out[i*4+0] = byte(p >> 16)
		out[i*4+1] = byte(p >> 8)
		out[i*4+2] = byte(p)
		out[i*4+3] = byte(p >> 24)
	}
	return out
}

func (c *Cursor) Position() types.Vec2i { return c.position }
func (c *Cursor) Hotspot() types.Vec2i  { return c.hotspot }
func (c *Cursor) Size() types.Vec2i     { return c.size }
func (c *Cursor) Texture() uint32       { return c.texture }

// Close deletes the sprite texture. Safe to call repeatedly.
func (c *Cursor) Close() {
	if c.texture != 0 {
		c.drv.DeleteTexture(c.texture)
		c.texture = 0
	}
}
