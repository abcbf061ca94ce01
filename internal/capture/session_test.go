package capture

import (
	"errors"
	"math"
	"os"
	"testing"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"kmscap/internal/egl"
	"kmscap/internal/egl/egltest"
	"kmscap/internal/kms"
	"kmscap/internal/monitor"
	"kmscap/internal/types"
)

var fourccXR24 = types.FourCC('X', 'R', '2', '4')

// pipeFD returns the read end of a fresh pipe, a real descriptor that can be
// closed exactly once.
func pipeFD(t *testing.T) int {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	require.NoError(t, unix.Close(p[1]))
	return p[0]
}

func openFDs(t *testing.T) int32 {
	t.Helper()
	p, err := process.NewProcess(int32(os.Getpid()))
	require.NoError(t, err)
	n, err := p.NumFDs()
	require.NoError(t, err)
	return n
}

type fakeDisplay struct {
	trace *[]string
}

func (d *fakeDisplay) NativeHandle() uintptr                { return 1 }
func (d *fakeDisplay) CreateHiddenWindow() (uintptr, error) { return 2, nil }
func (d *fakeDisplay) DestroyWindow(uintptr)                {}
func (d *fakeDisplay) Close()                               { *d.trace = append(*d.trace, "display") }

type fakeCursor struct {
	drv     egl.Driver
	trace   *[]string
	texture uint32
	target  uint32
	pos     types.Vec2i
	hotspot types.Vec2i
	size    types.Vec2i
	events  []any
	ticks   int
}

func (c *fakeCursor) ChangeWindowTarget(window uint32) { c.target = window }
func (c *fakeCursor) Update(event any)                 { c.events = append(c.events, event) }
func (c *fakeCursor) Tick()                            { c.ticks++ }
func (c *fakeCursor) Position() types.Vec2i            { return c.pos }
func (c *fakeCursor) Hotspot() types.Vec2i             { return c.hotspot }
func (c *fakeCursor) Size() types.Vec2i                { return c.size }
func (c *fakeCursor) Texture() uint32                  { return c.texture }

func (c *fakeCursor) Close() {
	*c.trace = append(*c.trace, "cursor")
	c.drv.DeleteTexture(c.texture)
	c.texture = 0
}

type fakeWindowSystem struct {
	trace     *[]string
	outputs   []monitor.Output
	screen    types.Vec2i
	events    []any
	cursor    *fakeCursor
	cursorPos types.Vec2i
}

func (w *fakeWindowSystem) Outputs() ([]monitor.Output, error) { return w.outputs, nil }
func (w *fakeWindowSystem) ScreenSize() types.Vec2i            { return w.screen }
func (w *fakeWindowSystem) RootWindow() uint32                 { return 0x1e3 }
func (w *fakeWindowSystem) Close()                             { *w.trace = append(*w.trace, "window system") }

func (w *fakeWindowSystem) PollEvent() (any, bool) {
	if len(w.events) == 0 {
		return nil, false
	}
	ev := w.events[0]
	w.events = w.events[1:]
	return ev, true
}

func (w *fakeWindowSystem) NewCursor(drv egl.Driver) (types.Cursor, error) {
	tex := egl.NewTexture(drv)
	drv.BindTexture(egl.GL_TEXTURE_2D, tex)
	drv.TexImage2D(egl.GL_TEXTURE_2D, 0, egl.GL_RGBA, 32, 32, egl.GL_RGBA, egl.GL_UNSIGNED_BYTE, nil)
	drv.BindTexture(egl.GL_TEXTURE_2D, 0)
	w.cursor = &fakeCursor{
		drv:     drv,
		trace:   w.trace,
		texture: tex,
		pos:     w.cursorPos,
		hotspot: types.Vec2i{X: 2, Y: 3},
		size:    types.Vec2i{X: 32, Y: 32},
	}
	return w.cursor, nil
}

type tracedGraphics struct {
	*egltest.Fake
	trace *[]string
}

func (g tracedGraphics) Unload() {
	*g.trace = append(*g.trace, "graphics")
	g.Fake.Unload()
}

type fakeKMS struct {
	t         *testing.T
	trace     *[]string
	planes    []kms.Plane
	err       error
	requests  int
	responses []*kms.Response
}

func (k *fakeKMS) GetKMS() (*kms.Response, error) {
	k.requests++
	if k.err != nil {
		return nil, k.err
	}
	resp := &kms.Response{Result: kms.ResultOK}
	for _, p := range k.planes {
		p.FD = pipeFD(k.t)
		resp.Planes = append(resp.Planes, p)
	}
	k.responses = append(k.responses, resp)
	return resp, nil
}

func (k *fakeKMS) Close() error {
	*k.trace = append(*k.trace, "kms")
	return nil
}

type fakeFrame struct {
	dev    *fakeDevice
	prime  *types.PrimeDescriptor
	synced int
}

func (f *fakeFrame) ExportPrime() (*types.PrimeDescriptor, error) {
	if f.dev.exportErr != nil {
		return nil, f.dev.exportErr
	}
	w, h := uint32(f.dev.width), uint32(f.dev.height)
	f.prime = &types.PrimeDescriptor{
		FourCC: f.dev.fourcc,
		Width:  w,
		Height: h,
		Objects: []types.PrimeObject{
			{FD: pipeFD(f.dev.t), Size: w * h},
			{FD: pipeFD(f.dev.t), Size: w * h / 2},
		},
		Layers: []types.PrimeLayer{
			{DRMFormat: types.FourCCR8, NumPlanes: 1, ObjectIndex: [4]uint32{0}, Pitch: [4]uint32{w}},
			{DRMFormat: types.FourCCGR88, NumPlanes: 1, ObjectIndex: [4]uint32{1}, Pitch: [4]uint32{w}},
		},
	}
	return f.prime, nil
}

func (f *fakeFrame) Sync() error {
	f.synced++
	return nil
}

func (f *fakeFrame) Free() { *f.dev.trace = append(*f.dev.trace, "frame") }

type fakeDevice struct {
	t         *testing.T
	trace     *[]string
	width     int
	height    int
	fourcc    uint32
	allocs    int
	exportErr error
	frame     *fakeFrame
}

func (d *fakeDevice) AllocFrame() (types.HWFrame, error) {
	d.allocs++
	d.frame = &fakeFrame{dev: d}
	return d.frame, nil
}

func (d *fakeDevice) Close() { *d.trace = append(*d.trace, "device") }

type harness struct {
	t         *testing.T
	trace     []string
	ws        *fakeWindowSystem
	gfx       *egltest.Fake
	kms       *fakeKMS
	device    *fakeDevice
	deviceErr error
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, gfx: egltest.New()}
	h.ws = &fakeWindowSystem{
		trace:  &h.trace,
		screen: types.Vec2i{X: 1920, Y: 1080},
		outputs: []monitor.Output{{
			Name:         "DP-1",
			Size:         types.Vec2i{X: 1920, Y: 1080},
			Rotation:     monitor.Rotate0,
			ConnectorIDs: []uint32{77},
		}},
		cursorPos: types.Vec2i{X: 100, Y: 200},
	}
	h.kms = &fakeKMS{
		t:     t,
		trace: &h.trace,
		planes: []kms.Plane{{
			ConnectorID: 77,
			Width:       1920,
			Height:      1080,
			PixelFormat: fourccXR24,
			Stride:      1920 * 4,
		}},
	}
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		OpenDisplay: func(string) (NativeDisplay, error) {
			return &fakeDisplay{trace: &h.trace}, nil
		},
		OpenWindowSystem: func(string) (WindowSystem, error) { return h.ws, nil },
		LoadGraphics: func(NativeDisplay) (Graphics, error) {
			return tracedGraphics{Fake: h.gfx, trace: &h.trace}, nil
		},
		ConnectKMS: func(string) (KMSClient, error) { return h.kms, nil },
		OpenHWDevice: func(card string, w, hgt int) (types.HWDevice, error) {
			if h.deviceErr != nil {
				return nil, h.deviceErr
			}
			h.device = &fakeDevice{t: h.t, trace: &h.trace, width: w, height: hgt, fourcc: types.FourCCNV12}
			return h.device, nil
		},
	}
}

func (h *harness) session(display string) *Session {
	s, err := New(Params{CardPath: "/dev/dri/card0", DisplayToCapture: display}, h.deps())
	require.NoError(h.t, err)
	return s
}

// ready returns a started session whose surface setup has run.
func (h *harness) ready(display string) (*Session, types.HWFrame) {
	s := h.session(display)
	require.NoError(h.t, s.Start(&EncoderParams{}))
	frame := s.Tick()
	require.NotNil(h.t, frame)
	require.Equal(h.t, StateReady, s.State())
	return s, frame
}

func TestNewValidates(t *testing.T) {
	h := newHarness(t)

	_, err := New(Params{DisplayToCapture: "screen"}, h.deps())
	assert.Error(t, err)
	_, err = New(Params{CardPath: "/dev/dri/card0"}, h.deps())
	assert.Error(t, err)
	_, err = New(Params{CardPath: "/dev/dri/card0", DisplayToCapture: "screen"}, Deps{})
	assert.Error(t, err)

	s := h.session("screen")
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StateCreated, s.State())
}

func TestStartComputesEncoderParams(t *testing.T) {
	h := newHarness(t)
	h.ws.outputs = append(h.ws.outputs, monitor.Output{
		Name: "HDMI-1",
		Pos:  types.Vec2i{X: 1920},
		Size: types.Vec2i{X: 1367, Y: 769},
	})
	s := h.session("HDMI-1")

	var enc EncoderParams
	require.NoError(t, s.Start(&enc))
	defer s.Destroy()

	assert.Equal(t, 1366, enc.Width)
	assert.Equal(t, 768, enc.Height)
	assert.Same(t, h.device, enc.Device)
	assert.Equal(t, []int{0}, h.gfx.SwapIntervals, "vsync is disabled")
	assert.Equal(t, uint32(0x1e3), h.ws.cursor.target)
	assert.Equal(t, StateStarted, s.State())
}

func TestStartTinyScreen(t *testing.T) {
	h := newHarness(t)
	h.ws.screen = types.Vec2i{X: 1, Y: 3}
	s := h.session(monitor.ScreenName)

	var enc EncoderParams
	require.NoError(t, s.Start(&enc))
	defer s.Destroy()

	assert.Equal(t, 2, enc.Width)
	assert.Equal(t, 2, enc.Height)
}

func TestStartMonitorNotFound(t *testing.T) {
	h := newHarness(t)
	s := h.session("VGA-9")

	err := s.Start(&EncoderParams{})

	require.ErrorIs(t, err, ErrMonitorNotFound)
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, []string{"kms", "window system", "display"}, h.trace)
	assert.Zero(t, h.gfx.Unloads, "graphics were never loaded")

	s.Stop()
	assert.Len(t, h.trace, 3, "a second stop releases nothing twice")
}

func TestStartFailureTearsDown(t *testing.T) {
	h := newHarness(t)
	h.deviceErr = errors.New("no vaapi driver")
	s := h.session(monitor.ScreenName)

	err := s.Start(&EncoderParams{})

	require.ErrorContains(t, err, "no vaapi driver")
	assert.Equal(t, []string{"graphics", "kms", "window system", "display"}, h.trace)
	assert.Equal(t, StateStopped, s.State())
	assert.NotPanics(t, s.Stop)
}

func TestTickSetsUpSurfaceOnce(t *testing.T) {
	h := newHarness(t)
	s, frame := h.ready(monitor.ScreenName)
	defer s.Destroy()

	programs := len(h.gfx.Programs)
	framebuffers := len(h.gfx.Framebuffers)
	assert.Equal(t, 2, programs)
	assert.Equal(t, 2, framebuffers)

	for i := 0; i < 3; i++ {
		assert.Same(t, frame, s.Tick())
	}
	assert.Equal(t, 1, h.device.allocs)
	assert.Equal(t, 1, h.device.frame.synced)
	assert.Len(t, h.gfx.Programs, programs, "no further compositor is created")
	assert.Equal(t, 1+3, h.gfx.Clears, "every tick clears")

	y := h.gfx.Textures[s.targetTextures[0]]
	uv := h.gfx.Textures[s.targetTextures[1]]
	assert.Equal(t, int32(1920), y.Width)
	assert.Equal(t, int32(1080), y.Height)
	assert.Equal(t, int32(960), uv.Width)
	assert.Equal(t, int32(540), uv.Height)
	assert.Equal(t, uintptr(types.FourCCR8), y.Image[egl.EGL_LINUX_DRM_FOURCC_EXT])
	assert.Equal(t, uintptr(types.FourCCGR88), uv.Image[egl.EGL_LINUX_DRM_FOURCC_EXT])
}

func TestTickPumpsEventsIntoCursor(t *testing.T) {
	h := newHarness(t)
	s, _ := h.ready(monitor.ScreenName)
	defer s.Destroy()

	h.ws.events = []any{"motion", "cursor-notify"}
	s.Tick()

	assert.Equal(t, []any{"motion", "cursor-notify"}, h.ws.cursor.events)
	assert.Empty(t, h.ws.events)
}

func TestTickSetupFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{"export", func(h *harness) { h.device.exportErr = errors.New("export refused") }},
		{"fourcc", func(h *harness) { h.device.fourcc = types.FourCC('P', '0', '1', '0') }},
		{"import", func(h *harness) { h.gfx.FailCreateImage = true }},
		{"compositor", func(h *harness) { h.gfx.FailCompile = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			s := h.session(monitor.ScreenName)
			require.NoError(t, s.Start(&EncoderParams{}))
			tt.setup(h)
			before := openFDs(t)

			assert.Nil(t, s.Tick())

			stop, err := s.ShouldStop()
			assert.True(t, stop)
			assert.Error(t, err)
			assert.Equal(t, StateFailed, s.State())
			assert.ErrorIs(t, s.Capture(nil), ErrNotReady)
			assert.Nil(t, s.Tick(), "a failed session does not retry setup")

			s.Stop()
			assert.LessOrEqual(t, openFDs(t), before)
			assert.Zero(t, h.gfx.Live())
			assert.Contains(t, h.trace, "frame")
		})
	}
}

func TestCaptureEndToEnd(t *testing.T) {
	h := newHarness(t)
	s, frame := h.ready(monitor.ScreenName)
	defer s.Destroy()

	require.NoError(t, s.Capture(frame))

	assert.Equal(t, 1, h.kms.requests)
	assert.Equal(t, 1, h.gfx.Swaps)
	require.Len(t, h.gfx.Draws, 4, "two draws each for the framebuffer and the cursor")
	assert.Equal(t, s.inputTexture, h.gfx.Draws[0].Texture)
	assert.Equal(t, s.inputTexture, h.gfx.Draws[1].Texture)
	assert.Equal(t, h.ws.cursor.texture, h.gfx.Draws[2].Texture)
	assert.Equal(t, h.ws.cursor.texture, h.gfx.Draws[3].Texture)
	assert.Equal(t, 1, h.ws.cursor.ticks)

	for _, resp := range h.kms.responses {
		for _, p := range resp.Planes {
			assert.Equal(t, -1, p.FD)
		}
	}
}

func TestCaptureDoesNotLeakFDs(t *testing.T) {
	h := newHarness(t)
	h.kms.planes = append(h.kms.planes,
		kms.Plane{ConnectorID: 78, Width: 1280, Height: 1024, PixelFormat: fourccXR24},
		kms.Plane{ConnectorID: 79, Width: 3200, Height: 1080, PixelFormat: fourccXR24, IsCombined: true},
	)
	s, frame := h.ready(monitor.ScreenName)
	defer s.Destroy()

	before := openFDs(t)
	for i := 0; i < 50; i++ {
		require.NoError(t, s.Capture(frame))
	}
	assert.Equal(t, before, openFDs(t))

	h.kms.err = errors.New("helper went away")
	for i := 0; i < 5; i++ {
		assert.Error(t, s.Capture(frame))
	}
	assert.Equal(t, before, openFDs(t))
	assert.Equal(t, StateReady, s.State(), "a helper failure only fails the frame")
}

func TestCaptureNoPlanes(t *testing.T) {
	h := newHarness(t)
	h.kms.planes = nil
	s, frame := h.ready(monitor.ScreenName)
	defer s.Destroy()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, s.Capture(frame), kms.ErrNoPlanes)
	}
	assert.True(t, s.noPlanesWarned)
	assert.Equal(t, StateReady, s.State())
	stop, err := s.ShouldStop()
	assert.False(t, stop)
	assert.NoError(t, err)
	assert.Zero(t, h.gfx.Swaps)
}

func TestCaptureImportFailureFailsSession(t *testing.T) {
	h := newHarness(t)
	s, frame := h.ready(monitor.ScreenName)
	defer s.Destroy()

	before := openFDs(t)
	h.gfx.FailCreateImage = true
	err := s.Capture(frame)

	require.ErrorIs(t, err, egl.ErrImportFailed)
	assert.Equal(t, before, openFDs(t))
	stop, stopErr := s.ShouldStop()
	assert.True(t, stop)
	assert.ErrorIs(t, stopErr, egl.ErrImportFailed)
	assert.Empty(t, h.gfx.Draws)
}

func TestCaptureRotation(t *testing.T) {
	tests := []struct {
		rotation monitor.Rotation
		outputs  int
		want     float32
	}{
		{monitor.Rotate0, 1, 0},
		{monitor.Rotate90, 1, math.Pi / 2},
		{monitor.Rotate180, 1, math.Pi},
		{monitor.Rotate270, 1, 3 * math.Pi / 2},
		{monitor.Rotate90, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.rotation.String(), func(t *testing.T) {
			h := newHarness(t)
			h.ws.outputs[0].Rotation = tt.rotation
			for i := 1; i < tt.outputs; i++ {
				h.ws.outputs = append(h.ws.outputs, monitor.Output{Name: "DP-2", Rotation: tt.rotation})
			}
			s, frame := h.ready(monitor.ScreenName)
			defer s.Destroy()

			require.NoError(t, s.Capture(frame))

			require.Len(t, h.gfx.Draws, 4)
			assert.InDelta(t, tt.want, h.gfx.Draws[0].Rotation, 1e-6)
			assert.InDelta(t, tt.want, h.gfx.Draws[1].Rotation, 1e-6)
			assert.Zero(t, h.gfx.Draws[2].Rotation, "the cursor is never rotated")
		})
	}
}

func TestCaptureNamedMonitorRotationFromConnectorMatch(t *testing.T) {
	h := newHarness(t)
	h.ws.screen = types.Vec2i{X: 3000, Y: 1920}
	h.ws.outputs = []monitor.Output{
		{Name: "DP-1", Size: types.Vec2i{X: 1920, Y: 1080}, Rotation: monitor.Rotate0, ConnectorIDs: []uint32{77}},
		{Name: "DP-2", Pos: types.Vec2i{X: 1920}, Size: types.Vec2i{X: 1080, Y: 1920}, Rotation: monitor.Rotate270, ConnectorIDs: []uint32{78}},
	}
	h.kms.planes = []kms.Plane{
		{ConnectorID: 77, Width: 1920, Height: 1080, PixelFormat: fourccXR24},
		{ConnectorID: 78, Width: 1920, Height: 1080, PixelFormat: fourccXR24},
	}
	s, frame := h.ready("DP-2")
	defer s.Destroy()

	require.NoError(t, s.Capture(frame))

	assert.InDelta(t, 3*math.Pi/2, h.gfx.Draws[0].Rotation, 1e-6)
}

func TestCaptureCursorPlacement(t *testing.T) {
	h := newHarness(t)
	h.ws.screen = types.Vec2i{X: 3200, Y: 1080}
	h.ws.outputs = append(h.ws.outputs, monitor.Output{
		Name:         "HDMI-1",
		Pos:          types.Vec2i{X: 1920},
		Size:         types.Vec2i{X: 1280, Y: 1024},
		ConnectorIDs: []uint32{78},
	})
	h.ws.cursorPos = types.Vec2i{X: 2000, Y: 100}

	t.Run("per-connector plane", func(t *testing.T) {
		h.t, h.kms.t = t, t
		h.kms.planes = []kms.Plane{{ConnectorID: 78, Width: 1280, Height: 1024, PixelFormat: fourccXR24}}
		h.gfx.Draws = nil
		s, frame := h.ready("HDMI-1")
		defer s.Destroy()

		require.NoError(t, s.Capture(frame))

		// The plane holds only this output, so sampling starts at its origin.
		assert.InDelta(t, 0, h.gfx.Draws[0].Vertices[2], 1e-6)
		// cursor at 2000-2-1920, 100-3
		v := h.gfx.Draws[2].Vertices
		assert.InDelta(t, -1+2*78.0/1280, v[4], 1e-6)
		assert.InDelta(t, -1+2*97.0/1024, v[5], 1e-6)
	})

	t.Run("combined plane", func(t *testing.T) {
		h.t, h.kms.t = t, t
		h.kms.planes = []kms.Plane{{ConnectorID: 1, Width: 3200, Height: 1080, PixelFormat: fourccXR24, IsCombined: true}}
		h.gfx.Draws = nil
		s, frame := h.ready("HDMI-1")
		defer s.Destroy()

		require.NoError(t, s.Capture(frame))

		// The capture rectangle is an offset into the whole screen.
		assert.InDelta(t, 1920.0/3200, h.gfx.Draws[0].Vertices[2], 1e-6)
		v := h.gfx.Draws[2].Vertices
		assert.InDelta(t, -1+2*78.0/1280, v[4], 1e-6)
	})
}

func TestCaptureBeforeReady(t *testing.T) {
	h := newHarness(t)
	s := h.session(monitor.ScreenName)
	assert.ErrorIs(t, s.Capture(nil), ErrNotReady)

	require.NoError(t, s.Start(&EncoderParams{}))
	defer s.Destroy()
	assert.ErrorIs(t, s.Capture(nil), ErrNotReady)
	assert.Zero(t, h.kms.requests)
}

func TestRequestStop(t *testing.T) {
	h := newHarness(t)
	s, _ := h.ready(monitor.ScreenName)
	defer s.Destroy()

	stop, err := s.ShouldStop()
	assert.False(t, stop)
	assert.NoError(t, err)

	s.RequestStop()

	stop, err = s.ShouldStop()
	assert.True(t, stop)
	assert.NoError(t, err)
}

func TestStopReleasesEverythingOnce(t *testing.T) {
	h := newHarness(t)
	before := openFDs(t)
	s, frame := h.ready(monitor.ScreenName)
	require.NoError(t, s.Capture(frame))
	prime := h.device.frame.prime

	s.Stop()
	s.Stop()

	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, []string{"cursor", "frame", "device", "graphics", "kms", "window system", "display"}, h.trace)
	assert.Zero(t, h.gfx.Live(), "every texture, program, framebuffer and buffer is released")
	assert.Equal(t, 1, h.gfx.Unloads)
	for _, o := range prime.Objects {
		assert.Equal(t, -1, o.FD)
	}
	assert.Equal(t, before, openFDs(t))

	s.Destroy()
	assert.Equal(t, StateDestroyed, s.State())
	assert.Len(t, h.trace, 7)
	assert.Nil(t, s.Tick())
}
