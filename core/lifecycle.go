package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Subsystem is a named initializer run once the runtime is up. It may use
// the dispatcher to execute setup work on the runtime goroutine.
type Subsystem struct {
	Name string
	Init func(d *Dispatcher) error
}

// StorageOpener opens the storage delegate backing the runtime.
type StorageOpener func(path string) (StorageDelegate, error)

// LifecycleOptions configures a Lifecycle. Loader and StorageOpener are required.
type LifecycleOptions struct {
	Loader        RuntimeLoader
	StorageOpener StorageOpener

	// Logger receives lifecycle and dispatcher logs, and runtime logs when
	// the log bridge is installed.
	Logger Logger

	// InstallDefaultLogHandler installs the log bridge even without a Logger,
	// routing runtime logs to the default logger.
	InstallDefaultLogHandler bool

	// LogModulePrefix is prepended to runtime module names.
	LogModulePrefix string

	Subsystems   []Subsystem
	Metrics      Metrics
	PollInterval time.Duration
	ReplyRunner  TaskRunner
}

// Lifecycle owns the runtime handle, its storage and the dispatcher between
// Start and Shutdown.
type Lifecycle struct {
	opts   LifecycleOptions
	logger Logger
	bridge *LogBridge

	mu                 sync.Mutex
	valid              bool
	stopping           bool
	runtime            ForeignRuntime
	runtimePath        string
	storage            StorageDelegate
	dispatcher         *Dispatcher
	serverInteractions bool
}

// NewLifecycle creates a stopped lifecycle.
func NewLifecycle(opts LifecycleOptions) *Lifecycle {
	logger := opts.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	return &Lifecycle{
		opts:   opts,
		logger: logger,
		bridge: NewLogBridge(logger, opts.LogModulePrefix),
	}
}

// Start loads the runtime, installs the log bridge, opens storage, initializes
// the runtime with the storage handle and runs the subsystem initializers.
// Any failure undoes the steps already taken.
func (l *Lifecycle) Start(storagePath string, serverInteractionsEnabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.valid || l.stopping {
		return ErrAlreadyStarted
	}
	if l.opts.Loader == nil || l.opts.StorageOpener == nil {
		return errors.New("bridge: lifecycle needs a runtime loader and a storage opener")
	}

	rt, path, err := l.opts.Loader()
	if err != nil {
		return fmt.Errorf("load runtime: %w", err)
	}
	l.logger.Info("runtime loaded", F("path", path))

	if l.opts.Logger != nil || l.opts.InstallDefaultLogHandler {
		if status := rt.SetLogFunction(l.bridge.Func()); !status.IsSuccess() {
			return fmt.Errorf("install log function: %w", ErrorFromStatus(rt, status))
		}
	}

	delegate, err := l.opts.StorageOpener(storagePath)
	if err != nil {
		return fmt.Errorf("open storage %q: %w", storagePath, err)
	}

	if status := rt.Init(delegate.Storage(), serverInteractionsEnabled); !status.IsSuccess() {
		initErr := ErrorFromStatus(rt, status)
		if err := delegate.Shutdown(); err != nil {
			l.logger.Warn("storage shutdown after failed init", F("error", err))
		}
		return fmt.Errorf("init runtime: %w", initErr)
	}

	d := NewDispatcher(rt, &DispatcherConfig{
		Logger:       l.logger,
		Metrics:      l.opts.Metrics,
		ReplyRunner:  l.opts.ReplyRunner,
		PollInterval: l.opts.PollInterval,
	})

	for _, sub := range l.opts.Subsystems {
		if sub.Init == nil {
			continue
		}
		if err := sub.Init(d); err != nil {
			d.Close()
			if status := rt.Shutdown(); !status.IsSuccess() {
				l.logger.Warn("runtime shutdown after failed subsystem", F("status", status.String()))
			}
			if err := delegate.Shutdown(); err != nil {
				l.logger.Warn("storage shutdown after failed subsystem", F("error", err))
			}
			return fmt.Errorf("init subsystem %s: %w", sub.Name, err)
		}
		l.logger.Debug("subsystem initialized", F("name", sub.Name))
	}

	l.runtime = rt
	l.runtimePath = path
	l.storage = delegate
	l.dispatcher = d
	l.serverInteractions = serverInteractionsEnabled
	l.valid = true

	l.logger.Info("runtime started",
		F("storage", storagePath),
		F("server_interactions", serverInteractionsEnabled))
	return nil
}

// Shutdown invalidates the handle, then stops the runtime and after it the
// storage. A second call returns ErrNotInitialized. Start is refused until
// the storage has been shut down.
func (l *Lifecycle) Shutdown() error {
	l.mu.Lock()
	if !l.valid {
		l.mu.Unlock()
		return ErrNotInitialized
	}
	rt, storage, dispatcher := l.runtime, l.storage, l.dispatcher
	l.valid = false
	l.stopping = true
	l.runtime = nil
	l.storage = nil
	l.dispatcher = nil
	l.mu.Unlock()

	// Draining tasks may call back into the lifecycle, so l.mu is not held here.
	var errs []error
	if status := rt.Shutdown(); !status.IsSuccess() {
		errs = append(errs, fmt.Errorf("shutdown runtime: %w", ErrorFromStatus(rt, status)))
	}
	if err := storage.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("shutdown storage: %w", err))
	}
	dispatcher.Close()

	l.mu.Lock()
	l.stopping = false
	l.mu.Unlock()

	l.logger.Info("runtime stopped")
	return errors.Join(errs...)
}

func (l *Lifecycle) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.valid
}

// Dispatcher returns the active dispatcher or ErrNotInitialized.
func (l *Lifecycle) Dispatcher() (*Dispatcher, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.valid {
		return nil, ErrNotInitialized
	}
	return l.dispatcher, nil
}

// Runtime returns the loaded runtime or ErrNotInitialized.
func (l *Lifecycle) Runtime() (ForeignRuntime, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.valid {
		return nil, ErrNotInitialized
	}
	return l.runtime, nil
}

// StorageManager returns the storage delegate opened by Start.
func (l *Lifecycle) StorageManager() (StorageDelegate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.valid {
		return nil, ErrNotInitialized
	}
	return l.storage, nil
}

// RuntimePath is where the loader found the runtime.
func (l *Lifecycle) RuntimePath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runtimePath
}

// ServerInteractionsEnabled reports the flag given to Start.
func (l *Lifecycle) ServerInteractionsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.valid && l.serverInteractions
}

// SetLogFunction replaces the runtime's log sink. nil reinstalls the bridge,
// routing runtime logs to the lifecycle's logger.
func (l *Lifecycle) SetLogFunction(fn LogFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.valid {
		return ErrNotInitialized
	}
	if fn == nil {
		fn = l.bridge.Func()
	}
	if status := l.runtime.SetLogFunction(fn); !status.IsSuccess() {
		return ErrorFromStatus(l.runtime, status)
	}
	return nil
}

// ErrorFromStatus translates status through the active runtime.
func (l *Lifecycle) ErrorFromStatus(status Status) error {
	l.mu.Lock()
	rt := l.runtime
	l.mu.Unlock()
	return ErrorFromStatus(rt, status)
}

// ErrorFromStatus converts a non-success status into an error. Peer status
// reports become *DeviceStatusError; everything else is a *RuntimeError
// described by rt (which may be nil).
func ErrorFromStatus(rt ForeignRuntime, status Status) error {
	if status.IsSuccess() {
		return nil
	}

	msg := status.Detail
	if rt != nil {
		msg = rt.ErrorToString(status.Code)
	}

	if status.Code == StatusStatusReport && status.Report != nil {
		return &DeviceStatusError{
			ProfileID:    status.Report.ProfileID,
			StatusCode:   status.Report.StatusCode,
			SysErrorCode: status.Report.SysErrorCode,
			Message:      msg,
		}
	}
	return &RuntimeError{Code: status.Code, Message: msg}
}

// LoopRuntimeLoader returns a loader for a fresh in-process LoopRuntime.
func LoopRuntimeLoader(config *RunnerConfig) RuntimeLoader {
	return func() (ForeignRuntime, string, error) {
		rt := NewLoopRuntime(config)
		return rt, "builtin:" + rt.cfg.Name, nil
	}
}
