package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	loopStateNew int32 = iota
	loopStateRunning
	loopStateShutdown
)

var statusMessages = map[StatusCode]string{
	StatusOK:              "no error",
	StatusIncorrectState:  "incorrect state",
	StatusNoMemory:        "no memory",
	StatusInvalidArgument: "invalid argument",
	StatusStatusReport:    "status report received from peer",
	StatusQueueFull:       "task queue full",
	StatusNotInitialized:  "runtime not initialized",
	StatusShutdown:        "runtime shut down",
	StatusInternal:        "internal error",
}

// LoopRuntime is an in-process ForeignRuntime: a single goroutine, pinned to
// its OS thread, that executes every posted trampoline in order.
//
// The zero value is not usable; create one with NewLoopRuntime.
type LoopRuntime struct {
	cfg RunnerConfig

	lifecycleMu sync.Mutex
	state       atomic.Int32
	runner      atomic.Pointer[SingleThreadTaskRunner]

	storage            Storage
	serverInteractions bool

	logFn atomic.Pointer[LogFunc]
}

var (
	_ ForeignRuntime          = (*LoopRuntime)(nil)
	_ RuntimeGoroutineChecker = (*LoopRuntime)(nil)
)

// NewLoopRuntime creates a runtime. The loop goroutine starts in Init.
func NewLoopRuntime(config *RunnerConfig) *LoopRuntime {
	cfg := config.withDefaults()
	if cfg.Name == "" {
		cfg.Name = "runtime"
	}
	cfg.LockOSThread = true
	return &LoopRuntime{cfg: cfg}
}

// Init starts the loop goroutine with the given storage handle.
func (l *LoopRuntime) Init(storage Storage, serverInteractionsEnabled bool) Status {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()

	switch l.state.Load() {
	case loopStateRunning:
		return StatusOf(StatusIncorrectState, "runtime already initialized")
	case loopStateShutdown:
		return StatusOf(StatusIncorrectState, "runtime cannot be restarted after shutdown")
	}
	if storage == nil {
		return StatusOf(StatusInvalidArgument, "storage handle is required")
	}

	l.storage = storage
	l.serverInteractions = serverInteractionsEnabled

	cfg := l.cfg
	l.runner.Store(NewSingleThreadTaskRunnerWithConfig(&cfg))
	l.state.Store(loopStateRunning)

	l.Log("Loop", LogCategoryProgress, "runtime loop started")
	return OK
}

// Shutdown stops intake, drains accepted tasks and stops the loop goroutine.
func (l *LoopRuntime) Shutdown() Status {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()

	if l.state.Load() != loopStateRunning {
		return StatusOf(StatusIncorrectState, "runtime is not running")
	}
	l.state.Store(loopStateShutdown)

	l.Log("Loop", LogCategoryProgress, "runtime loop stopping")
	l.runner.Load().Stop()
	return OK
}

// PostTask queues fn(ctx, ref) for the loop goroutine.
func (l *LoopRuntime) PostTask(fn Trampoline, ref Ref) Status {
	if fn == nil {
		return StatusOf(StatusInvalidArgument, "nil trampoline")
	}
	return l.post(func(ctx context.Context) {
		fn(ctx, ref)
	})
}

// Post queues a plain task on the loop goroutine. Runtime-side callbacks
// (for example the late half of a handshake) are delivered this way.
func (l *LoopRuntime) Post(task Task) Status {
	if task == nil {
		return StatusOf(StatusInvalidArgument, "nil task")
	}
	return l.post(task)
}

// PostDelayedTask queues task on the loop goroutine after delay.
func (l *LoopRuntime) PostDelayedTask(task Task, delay time.Duration) Status {
	runner, status := l.activeRunner()
	if !status.IsSuccess() {
		return status
	}
	runner.PostDelayedTask(l.bind(task), delay)
	return OK
}

func (l *LoopRuntime) post(task Task) Status {
	runner, status := l.activeRunner()
	if !status.IsSuccess() {
		return status
	}

	err := runner.TryPostTask(l.bind(task))
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrQueueFull):
		return StatusOf(StatusQueueFull, err.Error())
	case errors.Is(err, ErrRunnerClosed):
		return StatusOf(StatusShutdown, err.Error())
	default:
		return StatusOf(StatusInternal, err.Error())
	}
}

func (l *LoopRuntime) activeRunner() (*SingleThreadTaskRunner, Status) {
	switch l.state.Load() {
	case loopStateNew:
		return nil, StatusOf(StatusNotInitialized, "runtime not initialized")
	case loopStateShutdown:
		return nil, StatusOf(StatusShutdown, "runtime shut down")
	}
	return l.runner.Load(), OK
}

func (l *LoopRuntime) bind(task Task) Task {
	storage := l.storage
	return func(ctx context.Context) {
		ctx = context.WithValue(ctx, loopRuntimeKey, l)
		ctx = context.WithValue(ctx, storageKey, storage)
		task(ctx)
	}
}

// SetLogFunction installs the sink for runtime log lines. nil silences them.
func (l *LoopRuntime) SetLogFunction(fn LogFunc) Status {
	if fn == nil {
		l.logFn.Store(nil)
		return OK
	}
	l.logFn.Store(&fn)
	return OK
}

// Log emits a line through the installed log function.
func (l *LoopRuntime) Log(module string, category LogCategory, message string) {
	if fn := l.logFn.Load(); fn != nil {
		(*fn)(time.Now(), module, category, message)
	}
}

// ErrorToString returns a human readable description for code.
func (l *LoopRuntime) ErrorToString(code StatusCode) string {
	if msg, ok := statusMessages[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsRuntimeGoroutine reports whether the caller runs on the loop goroutine.
func (l *LoopRuntime) IsRuntimeGoroutine() bool {
	runner := l.runner.Load()
	return runner != nil && runner.IsCurrentGoroutine()
}

// ServerInteractionsEnabled reports the flag passed to Init.
func (l *LoopRuntime) ServerInteractionsEnabled() bool {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()
	return l.serverInteractions
}

// WaitIdle blocks until every task queued before the call has run.
func (l *LoopRuntime) WaitIdle(ctx context.Context) error {
	runner, status := l.activeRunner()
	if !status.IsSuccess() {
		return &RuntimeError{Code: status.Code, Message: l.ErrorToString(status.Code)}
	}
	return runner.WaitIdle(ctx)
}

// Stats returns the loop's runner snapshot.
func (l *LoopRuntime) Stats() RunnerStats {
	runner := l.runner.Load()
	if runner == nil {
		return RunnerStats{Name: l.cfg.Name}
	}
	return runner.Stats()
}

// =============================================================================
// Context accessors for tasks running on the loop
// =============================================================================

type loopRuntimeKeyType struct{}
type storageKeyType struct{}

var (
	loopRuntimeKey loopRuntimeKeyType
	storageKey     storageKeyType
)

// LoopRuntimeFromContext returns the runtime executing the current task.
func LoopRuntimeFromContext(ctx context.Context) *LoopRuntime {
	l, _ := ctx.Value(loopRuntimeKey).(*LoopRuntime)
	return l
}

// StorageFromContext returns the storage handle the runtime was initialized with.
func StorageFromContext(ctx context.Context) Storage {
	s, _ := ctx.Value(storageKey).(Storage)
	return s
}
