package kms

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeHelper is the helper end of a SOCK_SEQPACKET pair.
type fakeHelper struct {
	t  *testing.T
	fd int
}

func newClientPair(t *testing.T) (*Client, *fakeHelper) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	f := os.NewFile(uintptr(fds[0]), "kms-client")
	conn, err := net.FileConn(f)
	f.Close()
	require.NoError(t, err)

	c := NewClient(conn.(*net.UnixConn))
	h := &fakeHelper{t: t, fd: fds[1]}
	t.Cleanup(func() {
		c.Close()
		unix.Close(h.fd)
	})
	return c, h
}

// serve answers one request in the background with the given planes, each
// backed by a fresh pipe read end. The returned channel closes once the
// helper has released its own copies of the fds.
func (h *fakeHelper) serve(result Result, msg string, planes []Plane, extraFDs int) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.answer(result, msg, planes, extraFDs)
	}()
	return done
}

func (h *fakeHelper) answer(result Result, msg string, planes []Plane, extraFDs int) {
	buf := make([]byte, 64)
	n, err := unix.Read(h.fd, buf)
	require.NoError(h.t, err)
	req, err := unmarshalRequest(buf[:n])
	require.NoError(h.t, err)
	require.Equal(h.t, uint32(requestGetKMS), req.Type)

	body, err := marshalResponse(result, msg, planes)
	require.NoError(h.t, err)

	var fds []int
	for i := 0; i < len(planes)+extraFDs; i++ {
		fds = append(fds, newPipeFD(h.t))
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	require.NoError(h.t, unix.Sendmsg(h.fd, body, oob, nil, 0))
	for _, fd := range fds {
		unix.Close(fd)
	}
}

func newPipeFD(t *testing.T) int {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	unix.Close(p[1])
	return p[0]
}

func isOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

func TestClientGetKMS(t *testing.T) {
	t.Run("receives planes with fds", func(t *testing.T) {
		c, h := newClientPair(t)
		planes := []Plane{
			{ConnectorID: 90, Width: 1920, Height: 1080, PixelFormat: 0x34325258, Stride: 7680, Modifier: 1 << 56},
			{ConnectorID: 0, Width: 3840, Height: 1080, PixelFormat: 0x34325258, Stride: 15360, IsCombined: true},
		}
		done := h.serve(ResultOK, "", planes, 0)

		resp, err := c.GetKMS()
		<-done
		require.NoError(t, err)
		require.Len(t, resp.Planes, 2)

		assert.Equal(t, uint32(90), resp.Planes[0].ConnectorID)
		assert.Equal(t, 1920, resp.Planes[0].Width)
		assert.Equal(t, uint32(7680), resp.Planes[0].Stride)
		assert.Equal(t, uint64(1<<56), resp.Planes[0].Modifier)
		assert.True(t, resp.Planes[1].IsCombined)

		fds := []int{resp.Planes[0].FD, resp.Planes[1].FD}
		for _, fd := range fds {
			assert.True(t, isOpen(fd))
		}

		require.NoError(t, resp.Close())
		for i, fd := range fds {
			assert.False(t, isOpen(fd))
			assert.Equal(t, -1, resp.Planes[i].FD)
		}
		assert.NoError(t, resp.Close(), "second close is a no-op")
	})

	t.Run("zero planes is not a transport error", func(t *testing.T) {
		c, h := newClientPair(t)
		done := h.serve(ResultOK, "", nil, 0)

		resp, err := c.GetKMS()
		<-done
		require.NoError(t, err)
		assert.Empty(t, resp.Planes)
	})

	t.Run("helper failure closes received fds", func(t *testing.T) {
		c, h := newClientPair(t)
		before := openFDCount(t)
		done := h.serve(ResultFailedToGetPlanes, "drmModeGetPlaneResources failed", []Plane{{Width: 1, Height: 1}}, 0)

		resp, err := c.GetKMS()
		<-done

		require.ErrorIs(t, err, ErrHelperFailed)
		assert.Contains(t, err.Error(), "drmModeGetPlaneResources failed")
		assert.Nil(t, resp)
		assert.Equal(t, before, openFDCount(t))
	})

	t.Run("surplus fds are closed", func(t *testing.T) {
		c, h := newClientPair(t)
		before := openFDCount(t)
		done := h.serve(ResultOK, "", []Plane{{Width: 1, Height: 1}}, 2)

		resp, err := c.GetKMS()
		<-done
		require.NoError(t, err)
		assert.Equal(t, before+1, openFDCount(t))

		require.NoError(t, resp.Close())
		assert.Equal(t, before, openFDCount(t))
	})

	t.Run("closed client", func(t *testing.T) {
		c, _ := newClientPair(t)
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())

		_, err := c.GetKMS()
		assert.Error(t, err)
	})
}

func openFDCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	return len(entries)
}

func TestUnmarshalResponse(t *testing.T) {
	t.Run("rejects version mismatch", func(t *testing.T) {
		body, err := marshalResponse(ResultOK, "", nil)
		require.NoError(t, err)
		body[0] = ProtocolVersion + 1

		_, err = unmarshalResponse(body)
		assert.ErrorContains(t, err, "version mismatch")
	})

	t.Run("rejects truncated records", func(t *testing.T) {
		body, err := marshalResponse(ResultOK, "", []Plane{{Width: 2, Height: 2}})
		require.NoError(t, err)

		_, err = unmarshalResponse(body[:len(body)-4])
		assert.ErrorContains(t, err, "truncated")
	})

	t.Run("error message is nul terminated", func(t *testing.T) {
		body, err := marshalResponse(ResultInvalidRequest, "bad request", nil)
		require.NoError(t, err)

		resp, err := unmarshalResponse(body)
		require.NoError(t, err)
		assert.Equal(t, "bad request", resp.Err)
		assert.Equal(t, ResultInvalidRequest, resp.Result)
	})

	t.Run("too many planes", func(t *testing.T) {
		_, err := marshalResponse(ResultOK, "", make([]Plane, MaxPlanes+1))
		assert.Error(t, err)
	})
}
