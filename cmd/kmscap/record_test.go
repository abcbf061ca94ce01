package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmscap/internal/config"
	"kmscap/internal/types"
)

type fakeFrame struct{}

func (fakeFrame) ExportPrime() (*types.PrimeDescriptor, error) { return nil, nil }
func (fakeFrame) Sync() error                                  { return nil }
func (fakeFrame) Free()                                        {}

// scriptedSource plays one step per tick.
type scriptedSource struct {
	steps    []step
	i        int
	captured int
}

type step struct {
	frame      types.HWFrame
	captureErr error
	stop       bool
	stopErr    error
}

func (s *scriptedSource) cur() step {
	if s.i < len(s.steps) {
		return s.steps[s.i]
	}
	return step{stop: true}
}

func (s *scriptedSource) Tick() types.HWFrame { return s.cur().frame }

func (s *scriptedSource) ShouldStop() (bool, error) {
	st := s.cur()
	return st.stop, st.stopErr
}

func (s *scriptedSource) Capture(frame types.HWFrame) error {
	st := s.cur()
	s.i++
	if st.captureErr == nil {
		s.captured++
	}
	return st.captureErr
}

type fakeEncoder struct {
	calls int
	err   error
}

func (e *fakeEncoder) Encode(frame types.HWFrame) ([][]byte, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return [][]byte{{0, 0, 1}, {byte(e.calls)}}, nil
}

func (e *fakeEncoder) Close() {}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func ticks(n int) <-chan time.Time {
	ch := make(chan time.Time, n)
	for i := 0; i < n; i++ {
		ch <- time.Now()
	}
	close(ch)
	return ch
}

func TestRecordLoopWritesPackets(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{frame: fakeFrame{}},
		{frame: fakeFrame{}},
	}}
	enc := &fakeEncoder{}
	var out bytes.Buffer

	err := recordLoop(src, enc, &out, ticks(2), config.Default())

	require.NoError(t, err)
	assert.Equal(t, 2, src.captured)
	assert.Equal(t, 2, enc.calls)
	assert.Equal(t, []byte{0, 0, 1, 1, 0, 0, 1, 2}, out.Bytes())
}

func TestRecordLoopSkipsFailedFrames(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{frame: fakeFrame{}, captureErr: errors.New("get kms: helper failed")},
		{frame: fakeFrame{}},
	}}
	enc := &fakeEncoder{}
	var out bytes.Buffer

	err := recordLoop(src, enc, &out, ticks(2), config.Default())

	require.NoError(t, err)
	assert.Equal(t, 1, enc.calls, "a failed capture is not encoded")
	assert.Equal(t, []byte{0, 0, 1, 1}, out.Bytes())
}

func TestRecordLoopSkipsNotReadyFrames(t *testing.T) {
	loop := &notReadySource{}
	enc := &fakeEncoder{}

	err := recordLoop(loop, enc, &bytes.Buffer{}, ticks(3), config.Default())

	require.NoError(t, err)
	assert.Equal(t, 3, loop.ticks)
	assert.Zero(t, loop.captures)
	assert.Zero(t, enc.calls)
}

type notReadySource struct {
	ticks    int
	captures int
}

func (s *notReadySource) Tick() types.HWFrame         { s.ticks++; return nil }
func (s *notReadySource) ShouldStop() (bool, error)   { return false, nil }
func (s *notReadySource) Capture(types.HWFrame) error { s.captures++; return nil }

func TestRecordLoopStopsOnRequest(t *testing.T) {
	src := &scriptedSource{steps: []step{{frame: fakeFrame{}}}}
	enc := &fakeEncoder{}

	err := recordLoop(src, enc, &bytes.Buffer{}, ticks(5), config.Default())

	require.NoError(t, err)
	assert.Equal(t, 1, enc.calls)
}

func TestRecordLoopReturnsSessionFailure(t *testing.T) {
	failure := errors.New("import framebuffer: failed")
	src := &scriptedSource{steps: []step{{stop: true, stopErr: failure}}}

	err := recordLoop(src, &fakeEncoder{}, &bytes.Buffer{}, ticks(1), config.Default())

	assert.ErrorIs(t, err, failure)
}

func TestRecordLoopEncodeErrorsAreSkipped(t *testing.T) {
	src := &scriptedSource{steps: []step{{frame: fakeFrame{}}, {frame: fakeFrame{}}}}
	enc := &fakeEncoder{err: errors.New("avcodec_send_frame: invalid")}
	var out bytes.Buffer

	err := recordLoop(src, enc, &out, ticks(2), config.Default())

	require.NoError(t, err)
	assert.Equal(t, 2, enc.calls)
	assert.Zero(t, out.Len())
}

func TestRecordLoopWriteError(t *testing.T) {
	src := &scriptedSource{steps: []step{{frame: fakeFrame{}}}}

	err := recordLoop(src, &fakeEncoder{}, failingWriter{}, ticks(1), config.Default())

	assert.ErrorContains(t, err, "disk full")
}
