package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// invokeTask runs task, turning a panic into a PanicError.
func invokeTask[T any](ctx context.Context, task TaskRequest[T]) (value T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var zero T
			value = zero
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	if task == nil {
		return value, errors.New("nil task request")
	}
	return task(ctx)
}

// BlockingHandle is a one-shot result container for a task submitted across
// the runtime boundary. The submitting goroutine waits on it; the runtime
// goroutine fills it exactly once.
type BlockingHandle[T any] struct {
	id   TaskID
	task TaskRequest[T]

	mu       sync.Mutex
	done     chan struct{}
	finished bool
	value    T
	err      error

	// onRuntime reports whether the caller is on the runtime goroutine.
	onRuntime func() bool
	// onFinish is invoked on the runtime goroutine after the result is stored.
	onFinish func(err error)
}

func newBlockingHandle[T any](task TaskRequest[T], onRuntime func() bool, onFinish func(error)) *BlockingHandle[T] {
	return &BlockingHandle[T]{
		id:        GenerateTaskID(),
		task:      task,
		done:      make(chan struct{}),
		onRuntime: onRuntime,
		onFinish:  onFinish,
	}
}

// ID returns the task's identifier.
func (h *BlockingHandle[T]) ID() TaskID {
	return h.id
}

// run is the trampoline target. It executes on the runtime goroutine.
func (h *BlockingHandle[T]) run(ctx context.Context) {
	value, err := invokeTask(ctx, h.task)
	h.complete(value, err)
}

// complete stores the outcome once. Later calls are ignored.
func (h *BlockingHandle[T]) complete(value T, err error) bool {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return false
	}
	h.value = value
	h.err = wrapTaskError(err)
	h.finished = true
	h.mu.Unlock()

	// Bookkeeping happens before waiters are released.
	if h.onFinish != nil {
		h.onFinish(err)
	}
	close(h.done)
	return true
}

// Done is closed once the task has completed.
func (h *BlockingHandle[T]) Done() <-chan struct{} {
	return h.done
}

// IsDone reports whether the task has completed.
func (h *BlockingHandle[T]) IsDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the task completes or timeout elapses. timeout <= 0 waits
// forever. A timeout leaves the handle intact: the runtime may still finish
// it later, and a subsequent Wait will observe that result.
//
// Calling Wait from the runtime goroutine before completion would deadlock,
// so it fails with ErrWrongThread instead.
func (h *BlockingHandle[T]) Wait(timeout time.Duration) (T, error) {
	if h.IsDone() {
		return h.result()
	}
	if err := h.checkGoroutine(); err != nil {
		var zero T
		return zero, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-h.done:
		return h.result()
	case <-expired:
		var zero T
		return zero, ErrTimeout
	}
}

// WaitContext is Wait bounded by ctx. A context deadline is reported as
// ErrTimeout (wrapping ctx.Err()); plain cancellation returns ctx.Err().
func (h *BlockingHandle[T]) WaitContext(ctx context.Context) (T, error) {
	if h.IsDone() {
		return h.result()
	}
	if err := h.checkGoroutine(); err != nil {
		var zero T
		return zero, err
	}

	select {
	case <-h.done:
		return h.result()
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		return zero, ctx.Err()
	}
}

func (h *BlockingHandle[T]) checkGoroutine() error {
	if h.onRuntime != nil && h.onRuntime() {
		return ErrWrongThread
	}
	return nil
}

func (h *BlockingHandle[T]) result() (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value, h.err
}
