package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Future is a one-shot result bound to the caller's own TaskRunner.
//
// The runtime goroutine executes the task, then posts the resolution to the
// reply runner: continuations registered with OnComplete always run there,
// never on the runtime goroutine. This is the PostTaskAndReply pattern with
// the runtime as the target runner.
type Future[T any] struct {
	id          TaskID
	task        TaskRequest[T]
	replyRunner TaskRunner
	timeout     time.Duration

	mu        sync.Mutex
	done      chan struct{}
	resolved  bool
	value     T
	err       error
	callbacks []func(T, error)

	onRuntime func() bool
	onFinish  func(error)
}

type tryPoster interface {
	TryPostTask(task Task) error
}

type goroutineOwner interface {
	IsCurrentGoroutine() bool
}

func newFuture[T any](task TaskRequest[T], replyRunner TaskRunner, timeout time.Duration, onRuntime func() bool, onFinish func(error)) *Future[T] {
	return &Future[T]{
		id:          GenerateTaskID(),
		task:        task,
		replyRunner: replyRunner,
		timeout:     timeout,
		done:        make(chan struct{}),
		onRuntime:   onRuntime,
		onFinish:    onFinish,
	}
}

// ID returns the task's identifier.
func (f *Future[T]) ID() TaskID {
	return f.id
}

// run is the trampoline target. It executes on the runtime goroutine and
// only schedules the resolution.
func (f *Future[T]) run(ctx context.Context) {
	value, err := invokeTask(ctx, f.task)
	err = wrapTaskError(err)
	if f.onFinish != nil {
		f.onFinish(err)
	}

	reply := func(context.Context) {
		_ = f.resolve(value, err)
	}

	if tp, ok := f.replyRunner.(tryPoster); ok {
		if postErr := tp.TryPostTask(reply); postErr != nil {
			// The reply runner is gone; resolve off the runtime goroutine so
			// waiters are still released.
			go func() { _ = f.resolve(value, err) }()
		}
		return
	}
	f.replyRunner.PostTask(reply)
}

// resolve stores the outcome and runs continuations. A second call is a
// no-op that reports ErrAlreadyResolved.
func (f *Future[T]) resolve(value T, err error) error {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return ErrAlreadyResolved
	}
	f.value = value
	f.err = err
	f.resolved = true
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(value, err)
	}
	return nil
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// OnComplete registers fn to run on the reply runner once resolved.
// If the future is already resolved, fn is posted to the reply runner.
func (f *Future[T]) OnComplete(fn func(value T, err error)) {
	f.mu.Lock()
	if !f.resolved {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	value, err := f.value, f.err
	f.mu.Unlock()

	f.replyRunner.PostTask(func(context.Context) {
		fn(value, err)
	})
}

// ErrPending is returned by Result while the future is unresolved.
var ErrPending = errors.New("bridge: future not resolved yet")

// Result returns the outcome without blocking, or ErrPending.
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.resolved {
		var zero T
		return zero, ErrPending
	}
	return f.value, f.err
}

// Await blocks the calling goroutine until the future resolves, the timeout
// given to CallAsync elapses, or ctx ends. Giving up never retracts the task:
// the runtime still runs it and the late result resolves the future quietly.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	default:
	}

	var zero T
	if f.onRuntime != nil && f.onRuntime() {
		return zero, ErrWrongThread
	}
	if owner, ok := f.replyRunner.(goroutineOwner); ok && owner.IsCurrentGoroutine() {
		return zero, ErrWrongThread
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		return zero, ctx.Err()
	}
}
