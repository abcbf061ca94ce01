package egl

import (
	"fmt"

	"github.com/ebitengine/purego"

	"kmscap/internal/logging"
)

const (
	eglLibName = "libEGL.so.1"
	glLibName  = "libGL.so.1"
)

var log = logging.L("egl")

// Context is a GLES2 context current on a hidden window. It owns the display
// binding, surface, context, window and both library handles. Not safe for
// concurrent use; all calls must come from the thread that called Load.
type Context struct {
	fn functions

	native    NativeDisplay
	eglLib    uintptr
	glLib     uintptr
	display   uintptr
	surface   uintptr
	context   uintptr
	window    uintptr
	hasWindow bool
	loaded    bool
}

// Load resolves the driver entry points and makes a context current on a
// hidden 1x1 window of native. On return GL_BLEND is enabled with standard
// alpha blending. Any failure releases everything acquired so far.
func Load(native NativeDisplay) (*Context, error) {
	c := &Context{native: native}

	var err error
	if c.eglLib, err = openLibrary(eglLibName); err != nil {
		return nil, err
	}
	if c.glLib, err = openLibrary(glLibName); err != nil {
		c.Unload()
		return nil, err
	}

	if err := loadSymbols(eglLibName, dlsymLookup(c.eglLib), c.fn.eglTable()); err != nil {
		c.Unload()
		return nil, err
	}
	if err := loadSymbols(glLibName, dlsymLookup(c.glLib), c.fn.glTable()); err != nil {
		c.Unload()
		return nil, err
	}
	if err := loadSymbols("eglGetProcAddress", c.procLookup, c.fn.procTable()); err != nil {
		c.Unload()
		return nil, err
	}
	c.loaded = true

	if err := c.createWindow(); err != nil {
		c.Unload()
		return nil, err
	}

	c.fn.glEnable(GL_BLEND)
	c.fn.glBlendFunc(GL_SRC_ALPHA, GL_ONE_MINUS_SRC_ALPHA)

	log.Info("context ready",
		"vendor", c.fn.glGetString(GL_VENDOR),
		"renderer", c.fn.glGetString(GL_RENDERER),
		"version", c.fn.glGetString(GL_VERSION),
		"dmabuf_export", c.CanExportDMABUF())
	return c, nil
}

func (c *Context) procLookup(name string) (uintptr, error) {
	return c.fn.eglGetProcAddress(name), nil
}

func (c *Context) createWindow() error {
	window, err := c.native.CreateHiddenWindow()
	if err != nil {
		return fmt.Errorf("create gl window: %w", err)
	}
	c.window, c.hasWindow = window, true

	c.display = c.fn.eglGetDisplay(c.native.NativeHandle())
	if c.display == 0 {
		return fmt.Errorf("eglGetDisplay failed")
	}
	if c.fn.eglInitialize(c.display, nil, nil) == 0 {
		// Terminate is only valid on an initialized display.
		c.display = 0
		return fmt.Errorf("eglInitialize failed: 0x%x", c.fn.eglGetError())
	}

	attribs := []int32{
		EGL_BUFFER_SIZE, 24,
		EGL_RENDERABLE_TYPE, EGL_OPENGL_ES2_BIT,
		EGL_NONE,
	}
	var config uintptr
	var numConfig int32
	if c.fn.eglChooseConfig(c.display, &attribs[0], &config, 1, &numConfig) == 0 || numConfig != 1 {
		return fmt.Errorf("failed to find a matching config")
	}

	c.surface = c.fn.eglCreateWindowSurface(c.display, config, c.window, nil)
	if c.surface == 0 {
		return fmt.Errorf("failed to create window surface: 0x%x", c.fn.eglGetError())
	}

	ctxAttribs := []int32{
		EGL_CONTEXT_CLIENT_VERSION, 2,
		EGL_NONE,
	}
	c.context = c.fn.eglCreateContext(c.display, config, 0, &ctxAttribs[0])
	if c.context == 0 {
		return fmt.Errorf("failed to create egl context: 0x%x", c.fn.eglGetError())
	}

	if c.fn.eglMakeCurrent(c.display, c.surface, c.surface, c.context) == 0 {
		return fmt.Errorf("failed to make context current: 0x%x", c.fn.eglGetError())
	}
	return nil
}

// Unload releases everything in reverse order of acquisition. Safe on a
// partially loaded context and safe to call repeatedly.
func (c *Context) Unload() {
	if c == nil {
		return
	}
	if c.loaded {
		if c.context != 0 {
			c.fn.eglDestroyContext(c.display, c.context)
			c.context = 0
		}
		if c.surface != 0 {
			c.fn.eglDestroySurface(c.display, c.surface)
			c.surface = 0
		}
		if c.display != 0 {
			c.fn.eglTerminate(c.display)
			c.display = 0
		}
	}
	if c.hasWindow {
		c.native.DestroyWindow(c.window)
		c.window, c.hasWindow = 0, false
	}
	if c.eglLib != 0 {
		purego.Dlclose(c.eglLib)
		c.eglLib = 0
	}
	if c.glLib != 0 {
		purego.Dlclose(c.glLib)
		c.glLib = 0
	}
	c.fn = functions{}
	c.loaded = false
}

// SwapInterval sets the swap interval; 0 disables vsync.
func (c *Context) SwapInterval(interval int) {
	c.fn.eglSwapInterval(c.display, int32(interval))
}

// CanExportDMABUF reports whether the MESA image export extensions loaded.
func (c *Context) CanExportDMABUF() bool {
	return c.fn.eglExportDMABUFImageQueryMESA != nil && c.fn.eglExportDMABUFImageMESA != nil
}
