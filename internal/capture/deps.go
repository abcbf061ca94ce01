package capture

import (
	"kmscap/internal/egl"
	"kmscap/internal/kms"
	"kmscap/internal/monitor"
	"kmscap/internal/types"
)

// NativeDisplay is the display connection the graphics context is created on.
type NativeDisplay interface {
	egl.NativeDisplay
	Close()
}

// WindowSystem enumerates outputs and feeds window-system events to the
// cursor tracker.
type WindowSystem interface {
	Outputs() ([]monitor.Output, error)
	ScreenSize() types.Vec2i
	RootWindow() uint32
	// PollEvent returns the next pending event without blocking.
	PollEvent() (any, bool)
	NewCursor(drv egl.Driver) (types.Cursor, error)
	Close()
}

// Graphics is a loaded graphics context.
type Graphics interface {
	egl.Driver
	SwapInterval(interval int)
	Unload()
}

// KMSClient requests framebuffer planes from the privileged helper.
type KMSClient interface {
	GetKMS() (*kms.Response, error)
	Close() error
}

// DisplayFactory opens the native display connection for name.
type DisplayFactory func(name string) (NativeDisplay, error)

// WindowSystemFactory opens the window-system connection for name.
type WindowSystemFactory func(name string) (WindowSystem, error)

// GraphicsLoader creates a graphics context on display.
type GraphicsLoader func(display NativeDisplay) (Graphics, error)

// KMSFactory connects to the helper for the given card.
type KMSFactory func(cardPath string) (KMSClient, error)

// HWDeviceFactory creates an encoder device for NV12 frames of width x height.
type HWDeviceFactory func(cardPath string, width, height int) (types.HWDevice, error)

// Deps are the collaborators a Session builds on Start.
type Deps struct {
	OpenDisplay      DisplayFactory
	OpenWindowSystem WindowSystemFactory
	LoadGraphics     GraphicsLoader
	ConnectKMS       KMSFactory
	OpenHWDevice     HWDeviceFactory
}
