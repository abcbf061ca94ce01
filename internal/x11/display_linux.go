//go:build linux

// Package x11 owns the Xlib display connection the EGL context is created
// on, plus the invisible window backing its surface.
package x11

/*
#cgo pkg-config: x11
#include <X11/Xlib.h>
#include <X11/Xutil.h>
#include <stdlib.h>

static Display* x11_open(const char *name) {
	return XOpenDisplay(name);
}

// 1x1 unmapped window, never shown. Used only as the EGL window surface.
static Window x11_hidden_window(Display *dpy) {
	int screen = DefaultScreen(dpy);
	Window root = RootWindow(dpy, screen);

	XSetWindowAttributes attr;
	attr.override_redirect = True;
	attr.event_mask = 0;

	Window win = XCreateWindow(dpy, root, 0, 0, 1, 1, 0,
		CopyFromParent, InputOutput, CopyFromParent,
		CWOverrideRedirect | CWEventMask, &attr);
	if (win) XSync(dpy, False);
	return win;
}

static void x11_destroy_window(Display *dpy, Window win) {
	XDestroyWindow(dpy, win);
	XSync(dpy, False);
}
*/
import "C"
import (
	"fmt"
	"unsafe"

	"kmscap/internal/logging"
)

var log = logging.L("x11")

// Display is an Xlib connection. It satisfies egl.NativeDisplay.
type Display struct {
	dpy  *C.Display
	name string
}

// Open connects to the named X display. An empty name uses $DISPLAY.
func Open(name string) (*Display, error) {
	var cName *C.char
	if name != "" {
		cName = C.CString(name)
		defer C.free(unsafe.Pointer(cName))
	}

	dpy := C.x11_open(cName)
	if dpy == nil {
		return nil, fmt.Errorf("failed to open X display %q", name)
	}
	log.Debug("display opened", "display", name)
	return &Display{dpy: dpy, name: name}, nil
}

func (d *Display) NativeHandle() uintptr { return uintptr(unsafe.Pointer(d.dpy)) }

// CreateHiddenWindow creates the 1x1 window the EGL surface renders into.
func (d *Display) CreateHiddenWindow() (uintptr, error) {
	win := C.x11_hidden_window(d.dpy)
	if win == 0 {
		return 0, fmt.Errorf("failed to create hidden window on %q", d.name)
	}
	return uintptr(win), nil
}

func (d *Display) DestroyWindow(win uintptr) {
	if d.dpy == nil || win == 0 {
		return
	}
	C.x11_destroy_window(d.dpy, C.Window(win))
}

// Close disconnects from the X server. Safe to call repeatedly.
func (d *Display) Close() {
	if d == nil || d.dpy == nil {
		return
	}
	C.XCloseDisplay(d.dpy)
	d.dpy = nil
}
