// Package capture drives zero-copy KMS screen capture into hardware encoder
// surfaces: each frame's framebuffer is imported as a texture and drawn, with
// the cursor, into the NV12 planes of an encoder-owned surface.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"kmscap/internal/colorconv"
	"kmscap/internal/egl"
	"kmscap/internal/kms"
	"kmscap/internal/logging"
	"kmscap/internal/monitor"
	"kmscap/internal/types"
)

var (
	// ErrNotReady is returned by Capture before the first Tick completed the
	// surface setup, or after the session stopped.
	ErrNotReady = errors.New("capture: session not ready")
	// ErrMonitorNotFound is returned by Start when the named output does not
	// exist.
	ErrMonitorNotFound = errors.New("capture: monitor not found")
)

// State is a session lifecycle state.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateReady
	StateStopped
	StateDestroyed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Params select what to capture.
type Params struct {
	CardPath string
	// Display is the X display name; empty uses $DISPLAY.
	Display string
	// DisplayToCapture is an output name or monitor.ScreenName.
	DisplayToCapture string
}

// EncoderParams is filled in by Start: the even encoder dimensions and the
// hardware device whose frames the session renders into. The session owns
// Device and closes it on Stop.
type EncoderParams struct {
	Width  int
	Height int
	Device types.HWDevice
}

// Session captures one output. All methods must be called from the thread
// that called Start; only RequestStop may be called from elsewhere.
type Session struct {
	ID     string
	params Params
	deps   Deps
	log    *slog.Logger

	state         State
	stopRequested atomic.Bool
	failErr       error

	display NativeDisplay
	ws      WindowSystem
	gfx     Graphics
	kms     KMSClient
	device  types.HWDevice
	cursor  types.Cursor

	resolver    kms.Resolver
	capturePos  types.Vec2i
	captureSize types.Vec2i

	frame          types.HWFrame
	prime          *types.PrimeDescriptor
	inputTexture   uint32
	targetTextures [2]uint32
	compositor     *colorconv.Compositor
	response       *kms.Response
	noPlanesWarned bool
}

// New creates a session. Nothing is opened until Start.
func New(params Params, deps Deps) (*Session, error) {
	if params.CardPath == "" {
		return nil, errors.New("capture: card path is required")
	}
	if params.DisplayToCapture == "" {
		return nil, errors.New("capture: display to capture is required")
	}
	if deps.OpenDisplay == nil || deps.OpenWindowSystem == nil || deps.LoadGraphics == nil ||
		deps.ConnectKMS == nil || deps.OpenHWDevice == nil {
		return nil, errors.New("capture: incomplete dependencies")
	}

	id := uuid.NewString()
	return &Session{
		ID:     id,
		params: params,
		deps:   deps,
		log:    logging.L("capture").With(logging.KeySession, id),
		state:  StateCreated,
	}, nil
}

func (s *Session) State() State { return s.state }

// Start connects to the KMS helper, resolves the capture target, loads the
// graphics context and creates the encoder device. On any failure everything
// acquired so far is released and the session is left stopped.
func (s *Session) Start(enc *EncoderParams) error {
	if s.state != StateCreated {
		return fmt.Errorf("capture: start in state %s", s.state)
	}
	if err := s.start(enc); err != nil {
		s.log.Error("capture start failed", logging.KeyError, err)
		s.Stop()
		s.state = StateStopped
		return err
	}
	s.state = StateStarted
	return nil
}

func (s *Session) start(enc *EncoderParams) error {
	var err error
	if s.kms, err = s.deps.ConnectKMS(s.params.CardPath); err != nil {
		return fmt.Errorf("connect kms helper: %w", err)
	}
	if s.display, err = s.deps.OpenDisplay(s.params.Display); err != nil {
		return fmt.Errorf("open display: %w", err)
	}
	if s.ws, err = s.deps.OpenWindowSystem(s.params.Display); err != nil {
		return fmt.Errorf("open window system: %w", err)
	}

	outputs, err := s.ws.Outputs()
	if err != nil {
		return fmt.Errorf("enumerate outputs: %w", err)
	}
	target := monitor.ResolveTarget(outputs, s.params.DisplayToCapture)
	screenSize := s.ws.ScreenSize()

	var mon monitor.Monitor
	if target.ScreenCapture {
		mon = monitor.Screen(screenSize)
	} else {
		var ok bool
		if mon, ok = monitor.ByName(outputs, s.params.DisplayToCapture); !ok {
			return fmt.Errorf("%w: %q", ErrMonitorNotFound, s.params.DisplayToCapture)
		}
	}

	s.resolver = kms.Resolver{Target: target, ScreenSize: screenSize}
	s.capturePos = mon.Pos
	s.captureSize = mon.Size
	s.log.Info("capture target resolved",
		"monitor", mon.Name,
		"x", mon.Pos.X, "y", mon.Pos.Y,
		"width", mon.Size.X, "height", mon.Size.Y,
		"rotation", target.Rotation.String(),
		"requires_rotation", target.RequiresRotation,
		"connectors", len(target.ConnectorIDs))

	if s.gfx, err = s.deps.LoadGraphics(s.display); err != nil {
		return fmt.Errorf("load graphics: %w", err)
	}
	s.gfx.SwapInterval(0)

	width := monitor.EncoderDimension(s.captureSize.X)
	height := monitor.EncoderDimension(s.captureSize.Y)
	if s.device, err = s.deps.OpenHWDevice(s.params.CardPath, width, height); err != nil {
		return fmt.Errorf("create encoder device: %w", err)
	}

	if s.cursor, err = s.ws.NewCursor(s.gfx); err != nil {
		return fmt.Errorf("init cursor: %w", err)
	}
	s.cursor.ChangeWindowTarget(s.ws.RootWindow())

	if enc != nil {
		enc.Width = width
		enc.Height = height
		enc.Device = s.device
	}
	return nil
}

// Tick clears the render target, pumps window-system events into the cursor
// and, on the first call after Start, sets up the encoder surface and the
// compositor. It returns the encoder frame once the session is ready, nil
// otherwise. Setup failures are reported by ShouldStop.
func (s *Session) Tick() types.HWFrame {
	if s.state != StateStarted && s.state != StateReady {
		return nil
	}

	s.gfx.Clear(egl.GL_COLOR_BUFFER_BIT)

	for {
		ev, ok := s.ws.PollEvent()
		if !ok {
			break
		}
		s.cursor.Update(ev)
	}

	if s.state == StateStarted {
		if err := s.setupSurface(); err != nil {
			s.fail(err)
			return nil
		}
		s.state = StateReady
	}
	return s.frame
}

func (s *Session) setupSurface() error {
	frame, err := s.device.AllocFrame()
	if err != nil {
		return fmt.Errorf("allocate encoder frame: %w", err)
	}
	s.frame = frame

	if s.prime, err = frame.ExportPrime(); err != nil {
		return fmt.Errorf("export encoder surface: %w", err)
	}
	if err := frame.Sync(); err != nil {
		s.log.Warn("encoder surface sync failed", logging.KeyError, err)
	}

	s.inputTexture = egl.NewTexture(s.gfx)

	if s.prime.FourCC != types.FourCCNV12 {
		return fmt.Errorf("unexpected encoder surface fourcc 0x%08x, expected nv12", s.prime.FourCC)
	}
	if len(s.prime.Layers) < 2 {
		return fmt.Errorf("encoder surface has %d layers, expected 2", len(s.prime.Layers))
	}

	// Y is full size, the interleaved UV plane is half size in both axes.
	formats := [2]uint32{types.FourCCR8, types.FourCCGR88}
	div := [2]int{1, 2}
	for i := range s.targetTextures {
		s.targetTextures[i] = egl.NewTexture(s.gfx)

		fd, err := s.prime.PlaneFD(i)
		if err != nil {
			return fmt.Errorf("encoder surface layer %d: %w", i, err)
		}
		layer := s.prime.Layers[i]
		err = egl.ImportDMABUF(s.gfx, s.targetTextures[i], egl.DMABUF{
			FD:     fd,
			FourCC: formats[i],
			Width:  int(s.prime.Width) / div[i],
			Height: int(s.prime.Height) / div[i],
			Stride: layer.Pitch[0],
			Offset: layer.Offset[0],
		})
		if err != nil {
			return fmt.Errorf("import encoder surface layer %d: %w", i, err)
		}
	}

	if s.compositor, err = colorconv.New(s.gfx, s.targetTextures[:]); err != nil {
		return fmt.Errorf("create color conversion: %w", err)
	}

	s.log.Info("encoder surface ready", "width", s.prime.Width, "height", s.prime.Height)
	return nil
}

// ShouldStop reports whether the caller should stop the session, and the
// error that caused it if the session failed.
func (s *Session) ShouldStop() (bool, error) {
	if s.failErr != nil {
		return true, s.failErr
	}
	return s.stopRequested.Load(), nil
}

// RequestStop asks the caller loop to stop at its next ShouldStop poll.
func (s *Session) RequestStop() { s.stopRequested.Store(true) }

func (s *Session) fail(err error) {
	s.log.Error("capture session failed", logging.KeyError, err)
	s.failErr = err
	s.state = StateFailed
}

// Capture draws the current framebuffer of the target and the cursor into
// the encoder surface. Helper failures and empty responses fail only this
// frame; the caller may retry on the next one. An import failure fails the
// session. Every plane fd from the helper is closed before returning.
func (s *Session) Capture(frame types.HWFrame) error {
	if s.state != StateReady {
		return ErrNotReady
	}
	s.closeResponse()

	resp, err := s.kms.GetKMS()
	if err != nil {
		return fmt.Errorf("get kms: %w", err)
	}
	s.response = resp
	defer s.closeResponse()

	sel, err := s.resolver.Resolve(resp)
	if errors.Is(err, kms.ErrNoPlanes) {
		if !s.noPlanesWarned {
			s.noPlanesWarned = true
			s.log.Warn("no drm planes found, capture will fail")
		}
		return err
	}
	if err != nil {
		return err
	}

	plane := sel.Plane
	err = egl.ImportDMABUF(s.gfx, s.inputTexture, egl.DMABUF{
		FD:     plane.FD,
		FourCC: plane.PixelFormat,
		Width:  plane.Width,
		Height: plane.Height,
		Stride: plane.Stride,
		Offset: plane.Offset,
	})
	if err != nil {
		err = fmt.Errorf("import framebuffer of connector %d: %w", plane.ConnectorID, err)
		s.fail(err)
		return err
	}

	s.cursor.Tick()

	capturePos := s.capturePos
	cursorPos := s.cursor.Position().Sub(s.cursor.Hotspot()).Sub(capturePos)
	if !sel.IsCombined {
		capturePos = types.Vec2i{}
	}

	s.compositor.Draw(s.inputTexture,
		types.Vec2i{}, s.captureSize,
		capturePos, s.captureSize,
		sel.Rotation)

	cursorSize := s.cursor.Size()
	s.compositor.Draw(s.cursor.Texture(),
		cursorPos, cursorSize,
		types.Vec2i{}, cursorSize,
		0)

	s.gfx.SwapBuffers()
	return nil
}

func (s *Session) closeResponse() {
	if s.response == nil {
		return
	}
	if err := s.response.Close(); err != nil {
		s.log.Warn("close kms fds", logging.KeyError, err)
	}
	s.response = nil
}

// Stop releases everything Start and Tick acquired, in reverse order. It is
// safe to call repeatedly and on a partially started session.
func (s *Session) Stop() {
	if s.cursor != nil {
		s.cursor.Close()
		s.cursor = nil
	}
	if s.compositor != nil {
		s.compositor.Close()
		s.compositor = nil
	}
	if s.prime != nil {
		if err := s.prime.Close(); err != nil {
			s.log.Warn("close encoder surface fds", logging.KeyError, err)
		}
		s.prime = nil
	}
	if s.inputTexture != 0 {
		s.gfx.DeleteTexture(s.inputTexture)
		s.inputTexture = 0
	}
	for i, tex := range s.targetTextures {
		if tex != 0 {
			s.gfx.DeleteTexture(tex)
			s.targetTextures[i] = 0
		}
	}
	s.closeResponse()
	if s.frame != nil {
		s.frame.Free()
		s.frame = nil
	}
	if s.device != nil {
		s.device.Close()
		s.device = nil
	}
	if s.gfx != nil {
		s.gfx.Unload()
		s.gfx = nil
	}
	if s.kms != nil {
		if err := s.kms.Close(); err != nil {
			s.log.Warn("close kms client", logging.KeyError, err)
		}
		s.kms = nil
	}
	if s.ws != nil {
		s.ws.Close()
		s.ws = nil
	}
	if s.display != nil {
		s.display.Close()
		s.display = nil
	}

	if s.state != StateDestroyed && s.state != StateCreated {
		s.state = StateStopped
	}
}

// Destroy stops the session. The session cannot be used afterwards.
func (s *Session) Destroy() {
	s.Stop()
	s.state = StateDestroyed
}
