package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State represents the current state of the recorder
type State string

const (
	StateIdle       State = "IDLE"
	StateStarting   State = "STARTING"
	StateRecording  State = "RECORDING"
	StateStopping   State = "STOPPING"
	StateFinalizing State = "FINALIZING"
)

// Sink is the destination of one encoded recording. Close publishes what was
// written; Discard abandons it.
type Sink interface {
	io.Writer
	Close() error
	Discard() error
	Location() string
}

// SessionInfo contains information about the current recording session
type SessionInfo struct {
	ID        string        `json:"id"`
	StartTime time.Time     `json:"start_time"`
	Location  string        `json:"location"`
	Config    SessionConfig `json:"config"`
}

// Observer sees every event and state change synchronously. Implementations
// must not block.
type Observer interface {
	ObserveEvent(ev Event)
	ObserveState(state State)
	ObserveEncode(payloadBytes int, elapsed time.Duration)
}

// Options configures a Recorder. Only Opener is required.
type Options struct {
	Config     SessionConfig
	Opener     Opener
	Authorizer Authorizer
	Listener   Listener

	// Executor delivers Listener callbacks. A SerialExecutor owned by the
	// Recorder is used when nil.
	Executor Executor

	Observer Observer
}

// Recorder drives one capture session at a time from Begin to a finished
// container on the session's Sink.
type Recorder struct {
	cfg      SessionConfig
	opener   Opener
	auth     Authorizer
	listener Listener
	exec     Executor
	ownExec  *SerialExecutor
	observer Observer

	queue *TaskQueue
	acc   *Accumulator
	stop  atomic.Bool
	bg    sync.WaitGroup

	mu          sync.Mutex
	state       State
	session     *SessionInfo
	sink        Sink
	source      FrameSource
	workerDone  chan struct{}
	workerFault error
	closed      bool
}

// NewRecorder validates the configuration and starts the worker queue.
func NewRecorder(opts Options) (*Recorder, error) {
	if opts.Opener == nil {
		return nil, errors.New("recorder requires an opener")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	r := &Recorder{
		cfg:      opts.Config,
		opener:   opts.Opener,
		auth:     opts.Authorizer,
		listener: opts.Listener,
		exec:     opts.Executor,
		observer: opts.Observer,
		queue:    NewTaskQueue(4),
		acc:      NewAccumulator(),
		state:    StateIdle,
	}
	if r.auth == nil {
		r.auth = AllowAll
	}
	if r.listener == nil {
		r.listener = ListenerFuncs{}
	}
	if r.exec == nil {
		r.ownExec = NewSerialExecutor()
		r.exec = r.ownExec
	}
	return r, nil
}

// Config returns the session configuration.
func (r *Recorder) Config() SessionConfig {
	return r.cfg
}

// State returns the current controller state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Session returns a copy of the active session, or nil when idle.
func (r *Recorder) Session() *SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	info := *r.session
	return &info
}

// Begin starts a session writing to sink. It is a logged no-op returning
// ErrSessionActive unless the recorder is idle. On any setup failure an
// Error event is emitted, the sink is discarded and the recorder stays idle.
func (r *Recorder) Begin(ctx context.Context, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.state != StateIdle {
		slog.Warn("Begin ignored, session already in progress", "state", r.state)
		return fmt.Errorf("%w: state is %s", ErrSessionActive, r.state)
	}

	id := uuid.NewString()
	if sink == nil {
		r.emitError(id, ErrNilSink)
		return ErrNilSink
	}

	r.setState(StateStarting)

	if err := r.auth.Authorize(ctx); err != nil {
		if !errors.Is(err, ErrPermissionDenied) {
			err = fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return r.abortBegin(id, sink, nil, err)
	}

	r.acc.Reset()

	bufSize, err := r.opener.MinBufferSize(r.cfg)
	if err != nil {
		return r.abortBegin(id, sink, nil, fmt.Errorf("failed to query buffer size: %w", err))
	}
	if bufSize <= 0 {
		return r.abortBegin(id, sink, nil, fmt.Errorf("%w: device reported buffer size %d", ErrBadValue, bufSize))
	}

	source, err := r.opener.Open(r.cfg)
	if err != nil {
		return r.abortBegin(id, sink, source, fmt.Errorf("failed to open capture device: %w", err))
	}

	r.session = &SessionInfo{
		ID:        id,
		StartTime: time.Now(),
		Location:  sink.Location(),
		Config:    r.cfg,
	}
	r.sink = sink
	r.source = source
	r.workerFault = nil
	r.stop.Store(false)

	done := make(chan struct{})
	r.workerDone = done
	worker := &captureWorker{
		cfg:     r.cfg,
		source:  source,
		acc:     r.acc,
		bufSize: bufSize,
		stop:    &r.stop,
		report:  func(err error) { r.emitError(id, err) },
	}

	r.emitStarted(id)

	if err := r.queue.Submit(func() {
		fault := worker.run()
		r.workerFault = fault
		if fault != nil {
			r.bg.Add(1)
			go r.finishAfterFault(id)
		}
		close(done)
	}); err != nil {
		r.session, r.sink, r.source, r.workerDone = nil, nil, nil, nil
		return r.abortBegin(id, sink, source, err)
	}

	r.setState(StateRecording)
	slog.Info("Recording started",
		"session", id,
		"location", sink.Location(),
		"sample_rate", r.cfg.SampleRate,
		"format", r.cfg.Format)
	return nil
}

// abortBegin unwinds a failed Begin. Must be called with mu held.
func (r *Recorder) abortBegin(id string, sink Sink, source FrameSource, cause error) error {
	if source != nil {
		if err := source.Release(); err != nil {
			slog.Warn("Failed to release capture source", "error", err)
		}
	}
	if err := sink.Discard(); err != nil {
		slog.Warn("Failed to discard output", "location", sink.Location(), "error", err)
	}
	r.acc.Reset()
	r.setState(StateIdle)
	r.emitError(id, cause)
	return cause
}

// End stops capture, waits for the worker to finish and hands the recording
// to the queue for encoding. It is a logged no-op returning ErrNotRecording
// unless a session is recording.
func (r *Recorder) End() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		slog.Warn("End ignored, no session is recording", "state", r.state)
		return fmt.Errorf("%w: state is %s", ErrNotRecording, r.state)
	}
	return r.stopLocked(context.Background())
}

// stopLocked moves a recording session through Stopping and Finalizing. If
// ctx ends before the worker exits, the source is released to unblock it.
// Must be called with mu held.
func (r *Recorder) stopLocked(ctx context.Context) error {
	r.setState(StateStopping)
	r.stop.Store(true)

	select {
	case <-r.workerDone:
	case <-ctx.Done():
		slog.Warn("Capture worker did not stop in time, releasing device", "session", r.session.ID)
		if err := r.source.Release(); err != nil {
			slog.Warn("Failed to release capture source", "error", err)
		}
		<-r.workerDone
	}

	r.setState(StateFinalizing)

	session, sink := r.session, r.sink
	r.source = nil
	r.workerDone = nil

	if err := r.queue.Submit(func() {
		err := r.encode(session, sink)
		r.mu.Lock()
		defer r.mu.Unlock()
		r.completeLocked(session, sink, err)
	}); err != nil {
		// queue already closed, finish inline
		r.completeLocked(session, sink, r.encode(session, sink))
	}
	return nil
}

// encode writes the accumulated recording to sink. The accumulator belongs to
// the finalizing session until completeLocked resets it.
func (r *Recorder) encode(session *SessionInfo, sink Sink) error {
	start := time.Now()
	pcm := r.acc.Bytes()

	if err := EncodeContainer(sink, pcm, session.Config.SampleRate, session.Config.Channels, session.Config.Format); err != nil {
		if derr := sink.Discard(); derr != nil {
			slog.Warn("Failed to discard output", "location", sink.Location(), "error", derr)
		}
		return err
	}
	if err := sink.Close(); err != nil {
		return fmt.Errorf("failed to close output %s: %w", sink.Location(), err)
	}

	elapsed := time.Since(start)
	if r.observer != nil {
		r.observer.ObserveEncode(len(pcm), elapsed)
	}
	slog.Debug("Container written",
		"session", session.ID,
		"payload_bytes", len(pcm),
		"elapsed", elapsed)
	return nil
}

// completeLocked reports the outcome, then returns the recorder to idle. Must
// be called with mu held.
func (r *Recorder) completeLocked(session *SessionInfo, sink Sink, err error) {
	payload := r.acc.Len()
	r.acc.Reset()
	r.session = nil
	r.sink = nil

	if err != nil {
		slog.Error("Failed to write recording", "session", session.ID, "location", sink.Location(), "error", err)
		r.emitError(session.ID, err)
	} else {
		slog.Info("Recording saved",
			"session", session.ID,
			"location", sink.Location(),
			"payload_bytes", payload,
			"duration", time.Since(session.StartTime).Round(time.Millisecond))
		r.emitStopped(session.ID, sink.Location())
	}
	r.setState(StateIdle)
}

// finishAfterFault finalizes a session whose worker ended on its own.
func (r *Recorder) finishAfterFault(id string) {
	defer r.bg.Done()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording || r.session == nil || r.session.ID != id {
		return
	}
	slog.Warn("Capture ended unexpectedly, finalizing session", "session", id, "error", r.workerFault)
	_ = r.stopLocked(context.Background())
}

// Shutdown finalizes any active session, drains the queue and stops event
// delivery. It is safe to call more than once.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.state == StateRecording {
		slog.Info("Shutting down with an active session, finalizing", "session", r.session.ID)
		_ = r.stopLocked(ctx)
	}
	r.mu.Unlock()

	r.bg.Wait()
	err := r.queue.Close(ctx)
	if r.ownExec != nil {
		if err == nil {
			r.ownExec.Close()
		} else {
			// an encode is still running, its outcome must still be delivered
			go func() {
				<-r.queue.Done()
				r.ownExec.Close()
			}()
		}
	}
	return err
}

func (r *Recorder) setState(s State) {
	r.state = s
	if r.observer != nil {
		r.observer.ObserveState(s)
	}
}

func (r *Recorder) emitStarted(id string) {
	r.observe(Event{SessionID: id, Kind: EventStarted})
	r.exec.Execute(r.listener.OnStarted)
}

func (r *Recorder) emitStopped(id, location string) {
	r.observe(Event{SessionID: id, Kind: EventStopped, Location: location})
	r.exec.Execute(func() { r.listener.OnStopped(location) })
}

func (r *Recorder) emitError(id string, err error) {
	message := err.Error()
	r.observe(Event{SessionID: id, Kind: EventError, Message: message, Err: err})
	r.exec.Execute(func() { r.listener.OnError(message) })
}

func (r *Recorder) observe(ev Event) {
	if r.observer != nil {
		r.observer.ObserveEvent(ev)
	}
}
