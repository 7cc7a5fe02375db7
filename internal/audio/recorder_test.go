package audio

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const padBytes = 6614 // 150ms at 22050Hz, 16-bit mono

func newTestRecorder(t *testing.T, opener *fakeOpener, opts ...func(*Options)) (*Recorder, *eventLog) {
	t.Helper()
	log := newEventLog()
	o := Options{
		Config:   DefaultSessionConfig(),
		Opener:   opener,
		Listener: log,
	}
	for _, fn := range opts {
		fn(&o)
	}
	r, err := NewRecorder(o)
	require.NoError(t, err)
	t.Cleanup(func() { shutdownRecorder(t, r) })
	return r, log
}

func chunk(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestNewRecorder_RequiresOpener(t *testing.T) {
	_, err := NewRecorder(Options{Config: DefaultSessionConfig()})
	assert.Error(t, err)
}

func TestNewRecorder_RejectsUnsupportedFormat(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.Format = SampleFormat("pcm24")

	_, err := NewRecorder(Options{Config: cfg, Opener: &fakeOpener{}})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRecorder_EndWhenIdleIsNoop(t *testing.T) {
	r, log := newTestRecorder(t, &fakeOpener{source: newFakeSource()})

	err := r.End()
	assert.ErrorIs(t, err, ErrNotRecording)
	assert.Equal(t, StateIdle, r.State())
	assert.Empty(t, log.kinds())
}

func TestRecorder_FullSession(t *testing.T) {
	src := newFakeSource(
		readStep{data: chunk(0x11, 4096)},
		readStep{data: chunk(0x22, 4096)},
		readStep{data: chunk(0x33, 4096)},
	)
	opener := &fakeOpener{source: src}
	r, log := newTestRecorder(t, opener)
	sink := &memSink{}

	require.NoError(t, r.Begin(context.Background(), sink))
	assert.Equal(t, StateRecording, r.State())
	log.waitFor(t, EventStarted)

	session := r.Session()
	require.NotNil(t, session)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "mem://take", session.Location)

	src.waitDrained(t)
	require.NoError(t, r.End())

	stopped := log.waitFor(t, EventStopped)
	assert.Equal(t, "mem://take", stopped.Location)
	assert.Equal(t, []EventKind{EventStarted, EventStopped}, log.kinds())
	assert.Equal(t, StateIdle, r.State())
	assert.Nil(t, r.Session())

	data, closed, discarded := sink.snapshot()
	assert.True(t, closed)
	assert.False(t, discarded)

	payload := 2*padBytes + 3*4096
	require.Len(t, data, HeaderSize+payload)

	h, err := ReadHeader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, uint32(payload), h.Subchunk2Size)
	assert.Equal(t, uint32(payload+36), h.ChunkSize)
	assert.Equal(t, uint32(44100), h.ByteRate)
	assert.Equal(t, uint16(2), h.BlockAlign)

	body := data[HeaderSize:]
	assert.Equal(t, make([]byte, padBytes), body[:padBytes], "leading pad must be silent")
	assert.Equal(t, chunk(0x11, 4096), body[padBytes:padBytes+4096])
	assert.Equal(t, chunk(0x33, 4096), body[padBytes+8192:padBytes+12288])
	assert.Equal(t, make([]byte, padBytes), body[len(body)-padBytes:], "trailing pad must be silent")

	starts, stops, releases := src.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, releases)
}

func TestRecorder_BeginWhileRecordingIsNoop(t *testing.T) {
	src := newFakeSource()
	opener := &fakeOpener{source: src}
	r, log := newTestRecorder(t, opener)

	require.NoError(t, r.Begin(context.Background(), &memSink{}))
	log.waitFor(t, EventStarted)

	second := &memSink{}
	err := r.Begin(context.Background(), second)
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, StateRecording, r.State())
	assert.Equal(t, 1, opener.opens)

	_, closed, discarded := second.snapshot()
	assert.False(t, closed)
	assert.False(t, discarded)

	require.NoError(t, r.End())
	log.waitFor(t, EventStopped)
	assert.Equal(t, []EventKind{EventStarted, EventStopped}, log.kinds())
}

func TestRecorder_NilSink(t *testing.T) {
	opener := &fakeOpener{source: newFakeSource()}
	r, log := newTestRecorder(t, opener)

	err := r.Begin(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilSink)
	log.waitFor(t, EventError)
	assert.Equal(t, []EventKind{EventError}, log.kinds())
	assert.Equal(t, StateIdle, r.State())
	assert.Zero(t, opener.opens)
}

func TestRecorder_PermissionDenied(t *testing.T) {
	opener := &fakeOpener{source: newFakeSource()}
	deny := AuthorizerFunc(func(context.Context) error { return errors.New("no mic for you") })
	r, log := newTestRecorder(t, opener, func(o *Options) { o.Authorizer = deny })
	sink := &memSink{}

	err := r.Begin(context.Background(), sink)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	ev := log.waitFor(t, EventError)
	assert.Contains(t, ev.Message, "no mic for you")
	assert.Equal(t, StateIdle, r.State())
	assert.Zero(t, opener.opens)

	_, closed, discarded := sink.snapshot()
	assert.False(t, closed)
	assert.True(t, discarded)
}

func TestRecorder_OpenFailure(t *testing.T) {
	opener := &fakeOpener{openErr: errors.New("device busy")}
	r, log := newTestRecorder(t, opener)
	sink := &memSink{}

	err := r.Begin(context.Background(), sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")

	log.waitFor(t, EventError)
	assert.Equal(t, []EventKind{EventError}, log.kinds(), "no Started event on open failure")
	assert.Equal(t, StateIdle, r.State())

	// recovers for the next session
	opener.openErr = nil
	opener.source = newFakeSource()
	require.NoError(t, r.Begin(context.Background(), &memSink{}))
	require.NoError(t, r.End())
	log.waitFor(t, EventStopped)
}

func TestRecorder_BufferSizeFailure(t *testing.T) {
	opener := &fakeOpener{source: newFakeSource(), sizeErr: ErrBadValue}
	r, log := newTestRecorder(t, opener)

	err := r.Begin(context.Background(), &memSink{})
	assert.ErrorIs(t, err, ErrBadValue)
	log.waitFor(t, EventError)
	assert.Zero(t, opener.opens)
	assert.Equal(t, StateIdle, r.State())
}

func TestRecorder_FatalReadFinalizesSession(t *testing.T) {
	src := newFakeSource(
		readStep{data: chunk(0x44, 4096)},
		readStep{err: ErrDeadObject},
	)
	r, log := newTestRecorder(t, &fakeOpener{source: src})
	sink := &memSink{}

	require.NoError(t, r.Begin(context.Background(), sink))

	ev := log.waitFor(t, EventError)
	assert.Contains(t, ev.Message, "device no longer valid")
	log.waitFor(t, EventStopped)
	assert.Equal(t, []EventKind{EventStarted, EventError, EventStopped}, log.kinds())

	require.Eventually(t, func() bool { return r.State() == StateIdle }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, r.End(), ErrNotRecording)

	data, closed, _ := sink.snapshot()
	assert.True(t, closed)
	assert.Len(t, data, HeaderSize+2*padBytes+4096)

	_, stops, releases := src.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, releases)
}

func TestRecorder_TransientReadErrorIgnored(t *testing.T) {
	src := newFakeSource(
		readStep{data: chunk(0x01, 4096)},
		readStep{err: errors.New("overrun")},
		readStep{data: chunk(0x02, 2048), err: errors.New("short read")},
	)
	r, log := newTestRecorder(t, &fakeOpener{source: src})
	sink := &memSink{}

	require.NoError(t, r.Begin(context.Background(), sink))
	src.waitDrained(t)
	require.NoError(t, r.End())
	log.waitFor(t, EventStopped)

	assert.Equal(t, []EventKind{EventStarted, EventStopped}, log.kinds())
	data, _, _ := sink.snapshot()
	assert.Len(t, data, HeaderSize+2*padBytes+4096+2048)
}

func TestRecorder_StartFailure(t *testing.T) {
	src := newFakeSource()
	src.startErr = errors.New("stream refused")
	r, log := newTestRecorder(t, &fakeOpener{source: src})
	sink := &memSink{}

	require.NoError(t, r.Begin(context.Background(), sink))
	ev := log.waitFor(t, EventError)
	assert.Contains(t, ev.Message, "stream refused")
	log.waitFor(t, EventStopped)

	_, stops, releases := src.counts()
	assert.Zero(t, stops, "a source that never started is not stopped")
	assert.Equal(t, 1, releases)

	data, _, _ := sink.snapshot()
	assert.Len(t, data, HeaderSize)
}

func TestRecorder_WorkerPanicIsReported(t *testing.T) {
	src := newFakeSource(readStep{panic: true})
	r, log := newTestRecorder(t, &fakeOpener{source: src})
	sink := &memSink{}

	require.NoError(t, r.Begin(context.Background(), sink))
	ev := log.waitFor(t, EventError)
	assert.Contains(t, ev.Message, "panicked")
	log.waitFor(t, EventStopped)

	_, _, releases := src.counts()
	assert.Equal(t, 1, releases)
}

func TestRecorder_EncodeFailureDiscardsOutput(t *testing.T) {
	src := newFakeSource(readStep{data: chunk(0x05, 1024)})
	r, log := newTestRecorder(t, &fakeOpener{source: src})
	sink := &memSink{writeErr: errors.New("disk full")}

	require.NoError(t, r.Begin(context.Background(), sink))
	src.waitDrained(t)
	require.NoError(t, r.End())

	ev := log.waitFor(t, EventError)
	assert.Contains(t, ev.Message, "disk full")
	assert.Equal(t, []EventKind{EventStarted, EventError}, log.kinds())

	require.Eventually(t, func() bool { return r.State() == StateIdle }, time.Second, 5*time.Millisecond)
	_, closed, discarded := sink.snapshot()
	assert.False(t, closed)
	assert.True(t, discarded)
}

func TestRecorder_ShutdownFinalizesActiveSession(t *testing.T) {
	src := newFakeSource(readStep{data: chunk(0x09, 512)})
	log := newEventLog()
	r, err := NewRecorder(Options{
		Config:   DefaultSessionConfig(),
		Opener:   &fakeOpener{source: src},
		Listener: log,
	})
	require.NoError(t, err)
	sink := &memSink{}

	require.NoError(t, r.Begin(context.Background(), sink))
	src.waitDrained(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	require.NoError(t, r.Shutdown(ctx), "second shutdown is a no-op")

	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, []EventKind{EventStarted, EventStopped}, log.kinds())

	data, closed, _ := sink.snapshot()
	assert.True(t, closed)
	assert.Len(t, data, HeaderSize+2*padBytes+512)

	assert.ErrorIs(t, r.Begin(context.Background(), &memSink{}), ErrClosed)
}

type stateRecorder struct {
	mu      sync.Mutex
	states  []State
	events  []Event
	trace   []string
	encodes int
}

func (s *stateRecorder) ObserveEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	s.trace = append(s.trace, string(ev.Kind))
}

func (s *stateRecorder) ObserveState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	s.trace = append(s.trace, string(state))
}

func (s *stateRecorder) ObserveEncode(int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encodes++
}

func TestRecorder_ObserverSeesLifecycle(t *testing.T) {
	obs := &stateRecorder{}
	r, log := newTestRecorder(t, &fakeOpener{source: newFakeSource()}, func(o *Options) { o.Observer = obs })

	require.NoError(t, r.Begin(context.Background(), &memSink{}))
	require.NoError(t, r.End())
	log.waitFor(t, EventStopped)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []State{StateStarting, StateRecording, StateStopping, StateFinalizing, StateIdle}, obs.states)
	require.Len(t, obs.events, 2)
	assert.Equal(t, obs.events[0].SessionID, obs.events[1].SessionID)
	assert.Equal(t, 1, obs.encodes)

	// the outcome is observed while the session is still finalizing
	assert.Equal(t, []string{"STARTING", "started", "RECORDING", "STOPPING", "FINALIZING", "stopped", "IDLE"}, obs.trace)
}

func TestRecorder_ObserverSeesEncodeErrorBeforeIdle(t *testing.T) {
	obs := &stateRecorder{}
	r, log := newTestRecorder(t, &fakeOpener{source: newFakeSource()}, func(o *Options) { o.Observer = obs })

	require.NoError(t, r.Begin(context.Background(), &memSink{writeErr: errors.New("disk full")}))
	require.NoError(t, r.End())
	log.waitFor(t, EventError)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.NotEmpty(t, obs.trace)
	assert.Equal(t, []string{"FINALIZING", "error", "IDLE"}, obs.trace[len(obs.trace)-3:])
	assert.Equal(t, 0, obs.encodes)
}

// blockingSource blocks in Read until it is released.
type blockingSource struct {
	reading  chan struct{}
	released chan struct{}
	once     sync.Once
	readOnce sync.Once

	mu       sync.Mutex
	releases int
}

func newBlockingSource() *blockingSource {
	return &blockingSource{reading: make(chan struct{}), released: make(chan struct{})}
}

func (s *blockingSource) Start() error { return nil }

func (s *blockingSource) Read([]byte) (int, error) {
	s.readOnce.Do(func() { close(s.reading) })
	<-s.released
	return 0, ErrDeadObject
}

func (s *blockingSource) Stop() error { return nil }

func (s *blockingSource) Release() error {
	s.mu.Lock()
	s.releases++
	s.mu.Unlock()
	s.once.Do(func() { close(s.released) })
	return nil
}

type blockingOpener struct {
	source *blockingSource
}

func (o *blockingOpener) MinBufferSize(SessionConfig) (int, error) { return 4096, nil }

func (o *blockingOpener) Open(SessionConfig) (FrameSource, error) { return o.source, nil }

func TestRecorder_ShutdownReleasesHungSource(t *testing.T) {
	src := newBlockingSource()
	log := newEventLog()
	r, err := NewRecorder(Options{
		Config:   DefaultSessionConfig(),
		Opener:   &blockingOpener{source: src},
		Listener: log,
	})
	require.NoError(t, err)
	sink := &memSink{}

	require.NoError(t, r.Begin(context.Background(), sink))
	select {
	case <-src.reading:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never entered Read")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = r.Shutdown(ctx)

	log.waitFor(t, EventStopped)
	assert.Equal(t, []EventKind{EventStarted, EventError, EventStopped}, log.kinds())
	assert.Equal(t, StateIdle, r.State())

	data, closed, discarded := sink.snapshot()
	assert.True(t, closed)
	assert.False(t, discarded)
	assert.Len(t, data, HeaderSize+2*padBytes)

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.GreaterOrEqual(t, src.releases, 1)
}
