package core

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrRunnerClosed is returned when posting to a runner after Shutdown.
	ErrRunnerClosed = errors.New("runner is closed")

	// ErrQueueFull is returned when the runner's bounded queue has no room.
	ErrQueueFull = errors.New("runner queue is full")
)

// SingleThreadTaskRunner binds a dedicated goroutine to execute tasks sequentially.
// It guarantees that all tasks submitted to it run on the same goroutine (Thread Affinity),
// and with LockOSThread set, on the same OS thread.
//
// It is the engine behind LoopRuntime and the default reply loop that futures
// resolve on.
//
// Shutdown stops intake but the loop still drains every task it accepted, so
// a successful TryPostTask always means the task will run exactly once.
type SingleThreadTaskRunner struct {
	workQueue chan Task

	// Lifecycle control
	ctx    context.Context
	cancel context.CancelFunc

	// postMu orders the closed transition against in-progress sends so the
	// drain in runLoop sees every accepted task.
	postMu       sync.RWMutex
	closed       atomic.Bool
	stopped      chan struct{}
	shutdownChan chan struct{}
	shutdownOnce sync.Once

	goroutineID atomic.Uint64
	running     atomic.Bool

	executed   atomic.Int64
	rejected   atomic.Int64
	panicked   atomic.Int64
	lastTaskAt atomic.Int64

	cfg RunnerConfig
}

// NewSingleThreadTaskRunner creates and starts a runner with default config.
func NewSingleThreadTaskRunner() *SingleThreadTaskRunner {
	return NewSingleThreadTaskRunnerWithConfig(DefaultRunnerConfig())
}

// NewSingleThreadTaskRunnerWithConfig creates and starts a runner.
// It immediately spawns the dedicated goroutine.
func NewSingleThreadTaskRunnerWithConfig(config *RunnerConfig) *SingleThreadTaskRunner {
	cfg := config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	r := &SingleThreadTaskRunner{
		workQueue:    make(chan Task, cfg.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
		stopped:      make(chan struct{}),
		shutdownChan: make(chan struct{}),
		cfg:          cfg,
	}

	started := make(chan struct{})
	go r.runLoop(started)
	<-started

	return r
}

// Name returns the name of the task runner
func (r *SingleThreadTaskRunner) Name() string {
	return r.cfg.Name
}

// TryPostTask queues a task, reporting why it could not be queued.
func (r *SingleThreadTaskRunner) TryPostTask(task Task) error {
	r.postMu.RLock()
	defer r.postMu.RUnlock()

	if r.closed.Load() {
		r.rejected.Add(1)
		r.cfg.Metrics.RecordTaskRejected(r.cfg.Name, "shutdown")
		return ErrRunnerClosed
	}

	select {
	case r.workQueue <- task:
		r.cfg.Metrics.RecordQueueDepth(r.cfg.Name, len(r.workQueue))
		return nil
	default:
		r.rejected.Add(1)
		r.cfg.Metrics.RecordTaskRejected(r.cfg.Name, "queue_full")
		return ErrQueueFull
	}
}

// PostTask submits a task for execution. Rejections go to the RejectedTaskHandler.
func (r *SingleThreadTaskRunner) PostTask(task Task) {
	if err := r.TryPostTask(task); err != nil {
		reason := "queue_full"
		if errors.Is(err, ErrRunnerClosed) {
			reason = "shutdown"
		}
		r.cfg.RejectedTaskHandler.HandleRejectedTask(r.cfg.Name, reason)
	}
}

// PostDelayedTask submits a task after delay.
// Uses time.AfterFunc so timers do not occupy the runner goroutine.
func (r *SingleThreadTaskRunner) PostDelayedTask(task Task, delay time.Duration) {
	if r.closed.Load() {
		return
	}
	time.AfterFunc(delay, func() {
		r.PostTask(task)
	})
}

// Shutdown stops intake. Already queued tasks still run; the loop exits once
// the queue is drained. Safe to call from a task on this runner.
func (r *SingleThreadTaskRunner) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.postMu.Lock()
		r.closed.Store(true)
		r.postMu.Unlock()

		r.cancel()
		close(r.shutdownChan)
	})
}

// IsClosed returns true once Shutdown has been called
func (r *SingleThreadTaskRunner) IsClosed() bool {
	return r.closed.Load()
}

// Stop shuts the runner down and waits for the loop to drain and exit.
// Called from the runner's own goroutine it only shuts down, since waiting
// for itself would never return.
func (r *SingleThreadTaskRunner) Stop() {
	r.Shutdown()
	if r.IsCurrentGoroutine() {
		return
	}
	<-r.stopped
}

// Done is closed when the loop goroutine has exited.
func (r *SingleThreadTaskRunner) Done() <-chan struct{} {
	return r.stopped
}

// IsCurrentGoroutine reports whether the caller is running on this runner's goroutine.
func (r *SingleThreadTaskRunner) IsCurrentGoroutine() bool {
	id := r.goroutineID.Load()
	return id != 0 && id == getGoroutineID()
}

// runLoop is the core of this runner, it occupies a dedicated goroutine
func (r *SingleThreadTaskRunner) runLoop(started chan<- struct{}) {
	if r.cfg.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	r.goroutineID.Store(getGoroutineID())
	r.running.Store(true)
	defer func() {
		r.running.Store(false)
		r.goroutineID.Store(0)
		close(r.stopped)
	}()
	close(started)

	// Tasks get a context that outlives Shutdown so the drain can finish them.
	runCtx := context.WithValue(context.Background(), taskRunnerKey, TaskRunner(r))

	for {
		select {
		case task := <-r.workQueue:
			r.execute(runCtx, task)

		case <-r.ctx.Done():
			for {
				select {
				case task := <-r.workQueue:
					r.execute(runCtx, task)
				default:
					return
				}
			}
		}
	}
}

func (r *SingleThreadTaskRunner) execute(ctx context.Context, task Task) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.panicked.Add(1)
			r.cfg.Metrics.RecordTaskPanic(r.cfg.Name, rec)
			r.cfg.PanicHandler.HandlePanic(ctx, r.cfg.Name, rec, debug.Stack())
		}
		r.executed.Add(1)
		r.lastTaskAt.Store(time.Now().UnixNano())
		r.cfg.Metrics.RecordTaskDuration(r.cfg.Name, time.Since(start))
	}()
	task(ctx)
}

// =============================================================================
// Synchronization Methods
// =============================================================================

// WaitIdle blocks until all currently queued tasks have completed execution.
// This is implemented by posting a barrier task and waiting for it to execute.
//
// Returns error if:
// - Context is cancelled or deadline exceeded
// - Runner is closed when WaitIdle is called
// - WaitIdle is called from the runner's own goroutine
func (r *SingleThreadTaskRunner) WaitIdle(ctx context.Context) error {
	if r.IsCurrentGoroutine() {
		return ErrWrongThread
	}

	done := make(chan struct{})
	if err := r.TryPostTask(func(context.Context) { close(done) }); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitShutdown blocks until Shutdown() is called on this runner.
func (r *SingleThreadTaskRunner) WaitShutdown(ctx context.Context) error {
	select {
	case <-r.shutdownChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the runner state.
func (r *SingleThreadTaskRunner) Stats() RunnerStats {
	stats := RunnerStats{
		Name:     r.cfg.Name,
		Pending:  len(r.workQueue),
		Running:  r.running.Load(),
		Executed: r.executed.Load(),
		Rejected: r.rejected.Load(),
		Panicked: r.panicked.Load(),
		Closed:   r.closed.Load(),
	}
	if ts := r.lastTaskAt.Load(); ts != 0 {
		stats.LastTaskAt = time.Unix(0, ts)
	}
	return stats
}
