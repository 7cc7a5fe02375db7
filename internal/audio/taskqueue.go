package audio

import (
	"context"
	"log/slog"
	"sync"
)

// TaskQueue runs submitted tasks one at a time, in submission order, on a
// single goroutine.
type TaskQueue struct {
	tasks chan func()
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewTaskQueue starts the worker goroutine. depth bounds the number of
// pending tasks before Submit blocks.
func NewTaskQueue(depth int) *TaskQueue {
	if depth < 1 {
		depth = 1
	}
	q := &TaskQueue{
		tasks: make(chan func(), depth),
		done:  make(chan struct{}),
	}
	go q.loop()
	return q
}

// Submit enqueues task. It returns ErrClosed once Close has been called.
func (q *TaskQueue) Submit(task func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	q.tasks <- task
	return nil
}

// Close stops accepting tasks, lets pending ones finish and waits for the
// worker to exit or ctx to end.
func (q *TaskQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the worker has exited after Close.
func (q *TaskQueue) Done() <-chan struct{} {
	return q.done
}

func (q *TaskQueue) loop() {
	defer close(q.done)
	for task := range q.tasks {
		q.run(task)
	}
}

func (q *TaskQueue) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Queued task panicked", "panic", r)
		}
	}()
	task()
}
