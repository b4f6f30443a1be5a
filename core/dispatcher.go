package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DispatcherConfig holds options for a Dispatcher. Zero values get defaults.
type DispatcherConfig struct {
	Logger  Logger
	Metrics Metrics

	// ReplyRunner is where CallAsync resolves futures when the caller does
	// not name one. When nil the dispatcher owns a "reply" loop and stops it
	// on Close.
	ReplyRunner TaskRunner

	// PollInterval paces the blocking callback of external completions.
	PollInterval time.Duration
}

// Dispatcher moves work from arbitrary goroutines onto a ForeignRuntime's
// single goroutine and carries results back.
//
// Every crossing goes through one trampoline: the dispatcher registers a
// handle in its ref table, posts (trampoline, ref) to the runtime and, on
// the runtime goroutine, the trampoline takes the handle back and runs it.
type Dispatcher struct {
	runtime ForeignRuntime
	refs    refTable

	signal     *CompletionSignal
	externalMu sync.Mutex
	blockingCb atomic.Pointer[func()]

	reply      TaskRunner
	ownedReply *SingleThreadTaskRunner

	logger       Logger
	metrics      Metrics
	pollInterval time.Duration
	closed       atomic.Bool
	closeOnce    sync.Once

	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	timeouts  atomic.Int64
	inFlight  atomic.Int64
}

// NewDispatcher creates a dispatcher for an initialized runtime.
func NewDispatcher(rt ForeignRuntime, config *DispatcherConfig) *Dispatcher {
	cfg := DispatcherConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Logger == nil {
		cfg.Logger = NewDefaultLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NilMetrics{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	d := &Dispatcher{
		runtime:      rt,
		signal:       NewCompletionSignal(cfg.Logger),
		reply:        cfg.ReplyRunner,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		pollInterval: cfg.PollInterval,
	}
	if d.reply == nil {
		d.ownedReply = NewSingleThreadTaskRunnerWithConfig(&RunnerConfig{
			Name:    "reply",
			Logger:  cfg.Logger,
			Metrics: cfg.Metrics,
		})
		d.reply = d.ownedReply
	}
	return d
}

// Close marks the dispatcher unusable. Later calls fail with ErrNotInitialized.
// It does not shut the runtime down.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		if d.ownedReply != nil {
			d.ownedReply.Stop()
		}
	})
}

// Initialized reports whether the dispatcher still accepts work.
func (d *Dispatcher) Initialized() bool {
	return d.runtime != nil && !d.closed.Load()
}

// ReplyRunner returns the default runner futures resolve on.
func (d *Dispatcher) ReplyRunner() TaskRunner {
	return d.reply
}

// IsRuntimeGoroutine reports whether the caller is the runtime goroutine.
func (d *Dispatcher) IsRuntimeGoroutine() bool {
	if checker, ok := d.runtime.(RuntimeGoroutineChecker); ok {
		return checker.IsRuntimeGoroutine()
	}
	return false
}

// SetBlockingCallback installs the default callback serviced while waiting
// for external completions. nil removes it.
func (d *Dispatcher) SetBlockingCallback(fn func()) {
	if fn == nil {
		d.blockingCb.Store(nil)
		return
	}
	d.blockingCb.Store(&fn)
}

// trampoline is the one function handed to the runtime for every crossing.
func (d *Dispatcher) trampoline(ctx context.Context, ref Ref) {
	target, ok := d.refs.take(ref)
	if !ok {
		d.logger.Error("trampoline invoked with unknown ref", F("ref", uint64(ref)))
		return
	}
	target.run(ctx)
}

// cross hands target to the runtime. On a rejected post the ref is taken
// back here, since the trampoline will never run for it.
func (d *Dispatcher) cross(target trampolineTarget) error {
	ref := d.refs.transfer(target)
	d.submitted.Add(1)
	d.inFlight.Add(1)

	status := d.runtime.PostTask(d.trampoline, ref)
	if status.IsSuccess() {
		return nil
	}

	d.refs.take(ref)
	d.inFlight.Add(-1)
	d.rejected.Add(1)
	d.logger.Warn("runtime rejected task", F("status", status.String()))
	return &SubmissionError{Status: status}
}

func (d *Dispatcher) ready() error {
	if !d.Initialized() {
		return ErrNotInitialized
	}
	return nil
}

func (d *Dispatcher) finished(error) {
	d.inFlight.Add(-1)
	d.completed.Add(1)
}

func (d *Dispatcher) record(mode CallMode, err error, start time.Time) {
	outcome := outcomeOf(err)
	if outcome == OutcomeTimeout {
		d.timeouts.Add(1)
	}
	d.metrics.RecordCall(mode, outcome, time.Since(start))
}

func outcomeOf(err error) CallOutcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrSubmissionFailed):
		return OutcomeSubmissionFailed
	case errors.Is(err, ErrNotInitialized):
		return OutcomeNotInitialized
	case errors.Is(err, ErrWrongThread):
		return OutcomeWrongThread
	case errors.Is(err, ErrSignalBusy):
		return OutcomeBusy
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	default:
		return OutcomeTaskFailure
	}
}

// =============================================================================
// Submission APIs
// =============================================================================

// Submit posts task to the runtime and returns a handle to wait on.
// It fails with ErrNotInitialized before Start or after Shutdown, and with a
// SubmissionError when the runtime rejects the post. In both cases the task
// body never runs.
func Submit[T any](d *Dispatcher, task TaskRequest[T]) (*BlockingHandle[T], error) {
	start := time.Now()
	h, err := submit(d, task)
	if err != nil {
		d.record(CallModeSubmit, err, start)
		return nil, err
	}
	d.record(CallModeSubmit, nil, start)
	return h, nil
}

func submit[T any](d *Dispatcher, task TaskRequest[T]) (*BlockingHandle[T], error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	h := newBlockingHandle(task, d.IsRuntimeGoroutine, d.finished)
	if err := d.cross(h); err != nil {
		return nil, err
	}
	return h, nil
}

// Call runs task on the runtime and waits up to timeout for its result.
// timeout <= 0 waits forever. Calling it from the runtime goroutine fails
// with ErrWrongThread without submitting anything.
func Call[T any](d *Dispatcher, task TaskRequest[T], timeout time.Duration) (T, error) {
	start := time.Now()
	var zero T

	if d.IsRuntimeGoroutine() {
		d.record(CallModeBlocking, ErrWrongThread, start)
		return zero, ErrWrongThread
	}
	h, err := submit(d, task)
	if err != nil {
		d.record(CallModeBlocking, err, start)
		return zero, err
	}
	value, err := h.Wait(timeout)
	d.record(CallModeBlocking, err, start)
	return value, err
}

// CallAsync runs task on the runtime and returns a Future resolved on
// replyRunner (the dispatcher's reply loop when nil). timeout bounds Await.
func CallAsync[T any](d *Dispatcher, replyRunner TaskRunner, task TaskRequest[T], timeout time.Duration) (*Future[T], error) {
	start := time.Now()
	if err := d.ready(); err != nil {
		d.record(CallModeAsync, err, start)
		return nil, err
	}
	if replyRunner == nil {
		replyRunner = d.reply
	}

	f := newFuture(task, replyRunner, timeout, d.IsRuntimeGoroutine, func(err error) {
		d.finished(err)
		d.record(CallModeAsync, err, start)
	})
	if err := d.cross(f); err != nil {
		d.record(CallModeAsync, err, start)
		return nil, err
	}
	return f, nil
}

// =============================================================================
// External completion
// =============================================================================

// CallWithExternalCompletion runs start on the runtime to begin an operation
// whose result is reported later through CompleteExternal or
// CompleteExternalToken. It waits, servicing blockingCallback (or the one set
// with SetBlockingCallback) until that completion arrives or ctx ends.
//
// start can read its cycle's token with CompletionTokenFromContext. If start
// fails, or the runtime rejects it, the cycle completes with that error.
// External calls are serialized; plain Submit/Call traffic is not blocked.
func (d *Dispatcher) CallWithExternalCompletion(ctx context.Context, start func(ctx context.Context) error, blockingCallback func()) (any, error) {
	begin := time.Now()
	value, err := d.callExternal(ctx, start, blockingCallback)
	d.record(CallModeExternal, err, begin)
	return value, err
}

func (d *Dispatcher) callExternal(ctx context.Context, start func(ctx context.Context) error, blockingCallback func()) (any, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	if d.IsRuntimeGoroutine() {
		return nil, ErrWrongThread
	}
	if blockingCallback == nil {
		if cb := d.blockingCb.Load(); cb != nil {
			blockingCallback = *cb
		}
	}

	d.externalMu.Lock()
	defer d.externalMu.Unlock()

	token, err := d.signal.Reset()
	if err != nil {
		return nil, err
	}

	starter := func(ctx context.Context) (struct{}, error) {
		return struct{}{}, start(withCompletionToken(ctx, token))
	}
	h, err := submit(d, TaskRequest[struct{}](starter))
	if err != nil {
		_ = d.signal.CompleteToken(token, nil, err)
		return d.signal.AwaitCompletion(ctx, d.pollInterval, nil)
	}

	if _, err := h.WaitContext(ctx); err != nil {
		if errors.Is(err, ErrTaskFailure) {
			// The operation never started; no runtime callback will follow.
			_ = d.signal.CompleteToken(token, nil, err)
		} else {
			// Caller gave up before start ran; close the cycle so a late
			// completion is dropped as stale.
			d.signal.abandon(token)
			return nil, err
		}
	}

	return d.signal.AwaitCompletion(ctx, d.pollInterval, blockingCallback)
}

// CompleteExternal reports the result of the in-flight external operation.
// Runtime-side callbacks call it exactly once per cycle; a second call
// returns ErrDoubleCompletion.
func (d *Dispatcher) CompleteExternal(value any, err error) error {
	return d.signal.Complete(value, err)
}

// CompleteExternalToken is CompleteExternal for a specific cycle.
func (d *Dispatcher) CompleteExternalToken(token CompletionToken, value any, err error) error {
	return d.signal.CompleteToken(token, value, err)
}

// Stats returns a snapshot of dispatcher traffic.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Submitted:        d.submitted.Load(),
		Completed:        d.completed.Load(),
		Rejected:         d.rejected.Load(),
		Timeouts:         d.timeouts.Load(),
		InFlight:         d.inFlight.Load(),
		ExternalInFlight: d.signal.InFlight(),
		OutstandingRefs:  d.refs.outstanding(),
		Initialized:      d.Initialized(),
	}
}
