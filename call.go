package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/Swind/go-runtime-bridge/core"
)

// Call runs task on the global stack's runtime goroutine and waits up to the
// configured call timeout.
func Call[T any](task TaskRequest[T]) (T, error) {
	d, timeout, err := globalDispatcher()
	if err != nil {
		var zero T
		return zero, err
	}
	return core.Call(d, task, timeout)
}

// CallWithTimeout is Call with an explicit timeout; timeout <= 0 waits forever.
func CallWithTimeout[T any](task TaskRequest[T], timeout time.Duration) (T, error) {
	d, _, err := globalDispatcher()
	if err != nil {
		var zero T
		return zero, err
	}
	return core.Call(d, task, timeout)
}

// Submit posts task and returns its handle without waiting.
func Submit[T any](task TaskRequest[T]) (*BlockingHandle[T], error) {
	d, _, err := globalDispatcher()
	if err != nil {
		return nil, err
	}
	return core.Submit(d, task)
}

// CallAsync posts task and returns a Future resolved on replyRunner (nil
// selects the dispatcher's reply runner).
func CallAsync[T any](replyRunner TaskRunner, task TaskRequest[T]) (*Future[T], error) {
	d, timeout, err := globalDispatcher()
	if err != nil {
		return nil, err
	}
	return core.CallAsync(d, replyRunner, task, timeout)
}

// CallExternal runs start on the runtime goroutine and waits for the
// matching Dispatcher.CompleteExternal. A ctx without a deadline gets the
// configured call timeout.
func CallExternal[T any](ctx context.Context, start func(ctx context.Context) error) (T, error) {
	var zero T
	d, timeout, err := globalDispatcher()
	if err != nil {
		return zero, err
	}
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return ExternalResult[T](d.CallWithExternalCompletion(ctx, start, nil))
}

// ExternalResult converts the untyped result of an external completion.
func ExternalResult[T any](value any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("bridge: external completion value %T is not %T", value, zero)
	}
	return typed, nil
}

// CompleteExternal reports the result of the in-flight external call on the
// global stack.
func CompleteExternal(value any, err error) error {
	d, _, derr := globalDispatcher()
	if derr != nil {
		return derr
	}
	return d.CompleteExternal(value, err)
}
