package audio

import (
	"log/slog"
	"sync"
)

// Listener receives session status events. Methods are always invoked on the
// Executor supplied to the Recorder, never on the capture worker.
type Listener interface {
	OnStarted()
	OnStopped(location string)
	OnError(message string)
}

// ListenerFuncs adapts optional functions to Listener.
type ListenerFuncs struct {
	Started func()
	Stopped func(location string)
	Error   func(message string)
}

func (l ListenerFuncs) OnStarted() {
	if l.Started != nil {
		l.Started()
	}
}

func (l ListenerFuncs) OnStopped(location string) {
	if l.Stopped != nil {
		l.Stopped(location)
	}
}

func (l ListenerFuncs) OnError(message string) {
	if l.Error != nil {
		l.Error(message)
	}
}

// Executor runs notification callbacks on a single-threaded context, in the
// order they were handed over.
type Executor interface {
	Execute(fn func())
}

// SerialExecutor runs callbacks one at a time on its own goroutine.
type SerialExecutor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewSerialExecutor starts the executor goroutine.
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	go e.loop()
	return e
}

// Execute queues fn. Callbacks queued after Close are dropped.
func (e *SerialExecutor) Execute(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		slog.Debug("Notification dropped after executor close")
		return
	}
	e.queue = append(e.queue, fn)
	e.cond.Signal()
}

// Close runs everything already queued and stops the goroutine.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		e.cond.Signal()
	}
	e.mu.Unlock()
	<-e.done
}

func (e *SerialExecutor) loop() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.run(fn)
	}
}

func (e *SerialExecutor) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Status listener panicked", "panic", r)
		}
	}()
	fn()
}

// EventKind identifies a status event.
type EventKind string

const (
	EventStarted EventKind = "started"
	EventStopped EventKind = "stopped"
	EventError   EventKind = "error"
)

// Event is a status event as seen by observers such as metrics and history.
type Event struct {
	SessionID string
	Kind      EventKind
	Location  string
	Message   string
	Err       error
}
