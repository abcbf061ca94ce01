package kms

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"kmscap/internal/logging"
)

var (
	// ErrNoPlanes means the helper answered but returned no framebuffers.
	ErrNoPlanes = errors.New("kms: no planes")
	// ErrHelperFailed means the helper reported a non-ok result.
	ErrHelperFailed = errors.New("kms: helper failed")
)

const (
	acceptTimeout   = 30 * time.Second
	helperExitGrace = 3 * time.Second
)

var log = logging.L("kms")

// Client talks to the privileged helper over a SOCK_SEQPACKET unix socket.
// It is not safe for concurrent use.
type Client struct {
	conn     *net.UnixConn
	listener *net.UnixListener
	cmd      *exec.Cmd
	exited   chan error
	tmpDir   string
	closed   bool
}

// NewClient wraps an already connected helper socket.
func NewClient(conn *net.UnixConn) *Client {
	return &Client{conn: conn}
}

// Connect starts the helper for cardPath and waits for it to connect back.
// When usePkexec is set the helper runs through pkexec, which may prompt the
// user; the accept deadline allows for that.
func Connect(cardPath, helperPath string, usePkexec bool) (*Client, error) {
	if _, err := os.Stat(cardPath); err != nil {
		return nil, fmt.Errorf("card %s: %w", cardPath, err)
	}

	tmpDir, err := os.MkdirTemp("", "kmscap-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	c := &Client{tmpDir: tmpDir}

	sockPath := filepath.Join(tmpDir, "kms.sock")
	c.listener, err = net.ListenUnix("unixpacket", &net.UnixAddr{Name: sockPath, Net: "unixpacket"})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("listen %s: %w", sockPath, err)
	}

	args := []string{helperPath, sockPath, cardPath}
	if usePkexec {
		args = append([]string{"pkexec"}, args...)
	}
	log.Info("starting kms helper", "cmd", args[0], "card", cardPath)

	c.cmd = exec.Command(args[0], args[1:]...)
	c.cmd.Stdout = os.Stderr
	c.cmd.Stderr = os.Stderr
	c.cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}
	if err := c.cmd.Start(); err != nil {
		c.cmd = nil
		c.Close()
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}

	cmd, exited := c.cmd, make(chan error, 1)
	c.exited = exited
	go func() { exited <- cmd.Wait() }()

	accepted := make(chan error, 1)
	go func() {
		if err := c.listener.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
			accepted <- err
			return
		}
		conn, err := c.listener.AcceptUnix()
		if err == nil {
			c.conn = conn
		}
		accepted <- err
	}()

	select {
	case err := <-accepted:
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("accept kms helper: %w", err)
		}
	case err := <-c.exited:
		// Unblock the accept goroutine before tearing down.
		c.listener.Close()
		<-accepted
		c.cmd, c.exited = nil, nil
		c.Close()
		return nil, fmt.Errorf("kms helper exited before connecting: %v", err)
	}

	// The listener is no longer needed once the helper is connected.
	c.listener.Close()
	c.listener = nil

	log.Info("kms helper connected")
	return c, nil
}

// GetKMS sends one request and reads one response. On success the caller
// owns the response and must Close it. On error every received fd has
// already been closed.
func (c *Client) GetKMS() (*Response, error) {
	if c.closed || c.conn == nil {
		return nil, errors.New("kms: client closed")
	}

	req := marshalRequest(request{Version: ProtocolVersion, Type: requestGetKMS})
	n, err := c.conn.Write(req)
	if err != nil {
		return nil, fmt.Errorf("kms: send request: %w", err)
	}
	if n != len(req) {
		return nil, errShortWrite
	}

	buf := make([]byte, maxResponseSize)
	oob := make([]byte, unix.CmsgSpace(MaxPlanes*4))
	n, oobn, flags, _, err := c.conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, fmt.Errorf("kms: receive response: %w", err)
	}

	fds, fdErr := parseRights(oob[:oobn])
	closeFDs := func() {
		for _, fd := range fds {
			unix.Close(fd)
		}
	}
	if fdErr != nil {
		closeFDs()
		return nil, fmt.Errorf("kms: parse control message: %w", fdErr)
	}
	if flags&unix.MSG_CTRUNC != 0 {
		closeFDs()
		return nil, errors.New("kms: control message truncated")
	}
	if n == 0 {
		closeFDs()
		return nil, errors.New("kms: helper closed the connection")
	}

	resp, err := unmarshalResponse(buf[:n])
	if err != nil {
		closeFDs()
		return nil, err
	}

	// Hand fds to planes in record order; anything left over is closed.
	for i, fd := range fds {
		if i < len(resp.Planes) {
			resp.Planes[i].FD = fd
		} else {
			unix.Close(fd)
		}
	}
	if len(fds) < len(resp.Planes) {
		resp.Close()
		return nil, fmt.Errorf("kms: helper sent %d fds for %d planes", len(fds), len(resp.Planes))
	}

	if resp.Result != ResultOK {
		resp.Close()
		return nil, fmt.Errorf("%w: %s (%s)", ErrHelperFailed, resp.Result, resp.Err)
	}
	return resp, nil
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	var errs []error
	for i := range msgs {
		got, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fds = append(fds, got...)
	}
	return fds, errors.Join(errs...)
}

// Close shuts the connection, which tells the helper to exit, waits briefly
// for it, and removes the socket directory. Safe to call repeatedly.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		c.conn = nil
	}
	if c.listener != nil {
		c.listener.Close()
		c.listener = nil
	}
	if c.exited != nil {
		select {
		case <-c.exited:
		case <-time.After(helperExitGrace):
			log.Warn("kms helper did not exit after disconnect, killing")
			if c.cmd != nil && c.cmd.Process != nil {
				c.cmd.Process.Kill()
			}
		}
		c.exited = nil
	}
	c.cmd = nil
	if c.tmpDir != "" {
		os.RemoveAll(c.tmpDir)
		c.tmpDir = ""
	}
	return errors.Join(errs...)
}
