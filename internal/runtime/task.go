package runtime

import (
	"context"
	"time"

	"github.com/shardroute/dbproxy/pkg/coderr"
)

// ErrTimeout is raised when a wait deadline elapses before any task
// completes.
var ErrTimeout = coderr.NewCodeError(coderr.NoSuitableBackend, "operation timed out")

// Result is what a Task reports on completion.
type Result[T any] struct {
	Value T
	Err   error
}

// Task is a cancellable, single-shot unit of work running on its own
// goroutine — the Go stand-in for the source runtime's coroutine, per
// spec.md §9: spawn/cancel map onto a goroutine plus a context.CancelFunc.
type Task[T any] struct {
	done   chan Result[T]
	cancel context.CancelFunc
}

// Spawn starts fn on a new goroutine bound to a child of ctx. Cancelling
// the returned Task cancels that child context; fn must observe ctx.Done()
// at its suspension points (network I/O) to actually stop promptly, exactly
// as the source runtime's cancellation-on-next-suspension model requires.
func Spawn[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	childCtx, cancel := context.WithCancel(ctx)
	t := &Task[T]{
		done:   make(chan Result[T], 1),
		cancel: cancel,
	}
	go func() {
		v, err := fn(childCtx)
		t.done <- Result[T]{Value: v, Err: err}
	}()
	return t
}

// Cancel requests the task stop; safe to call more than once, and safe to
// call after the task has already completed.
func (t *Task[T]) Cancel() {
	t.cancel()
}

// Done exposes the completion channel for use in a select statement.
func (t *Task[T]) Done() <-chan Result[T] {
	return t.done
}

// Wait blocks for the task to complete or the deadline to elapse. On
// timeout the task is left running (the caller decides whether to cancel
// it); ok is false in that case.
func Wait[T any](t *Task[T], d time.Duration) (Result[T], bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case r := <-t.done:
		return r, true
	case <-timer.C:
		return Result[T]{}, false
	}
}

// RaceTwo waits on t1 and, once started, t2 (t2 may be nil if no hedge was
// spawned) up to deadline, returning whichever completes first. The loser
// is cancelled. This implements the "wait-any-of-two-with-cancel" pattern
// the hedge read (spec §4.5 talk) and any other two-way race need.
func RaceTwo[T any](t1, t2 *Task[T], deadline time.Duration) (Result[T], error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var c2 <-chan Result[T]
	if t2 != nil {
		c2 = t2.done
	}

	select {
	case r := <-t1.done:
		if t2 != nil {
			t2.Cancel()
		}
		return r, nil
	case r := <-c2:
		t1.Cancel()
		return r, nil
	case <-timer.C:
		t1.Cancel()
		if t2 != nil {
			t2.Cancel()
		}
		return Result[T]{}, ErrTimeout
	}
}
