package planning

import (
	"context"
	"fmt"
	"sync"
)

// Status is the lifecycle state of a Task.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Outcome is the observable result of a finished task.
type Outcome[T any] struct {
	Value  T
	Err    error
	Status Status
}

// Task is a cancellable asynchronous computation with three observable
// outcomes: a value, an error, or cancellation. Cancellation is cooperative:
// the function's context is cancelled and whatever it eventually returns is
// discarded.
type Task[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status Status
	value  T
	err    error
}

// Go starts fn on its own goroutine.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Task[T] {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task[T]{
		cancel: cancel,
		done:   make(chan struct{}),
		status: StatusPending,
	}
	go t.run(ctx, fn)
	return t
}

// Completed returns a task that already finished with the given value or error.
func Completed[T any](value T, err error) *Task[T] {
	t := &Task[T]{
		cancel: func() {},
		done:   make(chan struct{}),
		value:  value,
		err:    err,
		status: StatusSucceeded,
	}
	if err != nil {
		t.status = StatusFailed
	}
	close(t.done)
	return t
}

func (t *Task[T]) run(ctx context.Context, fn func(ctx context.Context) (T, error)) {
	defer close(t.done)
	defer t.cancel()

	t.mu.Lock()
	if t.status == StatusCancelled {
		t.mu.Unlock()
		return
	}
	t.status = StatusRunning
	t.mu.Unlock()

	value, err := call(ctx, fn)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusCancelled {
		return
	}
	if err != nil {
		t.status = StatusFailed
		t.err = err
		return
	}
	t.status = StatusSucceeded
	t.value = value
}

func call[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("planning task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Cancel requests cancellation. It has no effect on a finished task.
func (t *Task[T]) Cancel() {
	t.mu.Lock()
	if !t.status.Finished() {
		t.status = StatusCancelled
	}
	t.mu.Unlock()
	t.cancel()
}

// Poll never blocks. It returns the outcome and true once the task finished
// or was cancelled.
func (t *Task[T]) Poll() (Outcome[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.status.Finished() {
		return Outcome[T]{Status: t.status}, false
	}
	return Outcome[T]{Value: t.value, Err: t.err, Status: t.status}, true
}

func (t *Task[T]) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Done is closed when the task's goroutine has returned.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task[T]) Wait(ctx context.Context) (Outcome[T], error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return Outcome[T]{}, ctx.Err()
	}
	out, _ := t.Poll()
	return out, nil
}
