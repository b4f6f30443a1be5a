package bridge

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Swind/go-runtime-bridge/config"
	"github.com/Swind/go-runtime-bridge/core"
	"github.com/Swind/go-runtime-bridge/logging"
	bridgeprom "github.com/Swind/go-runtime-bridge/observability/prometheus"
	"github.com/Swind/go-runtime-bridge/storage"
)

// StackOptions configures OpenStack. Every field is optional.
type StackOptions struct {
	// Config defaults to config.Default().
	Config *config.Config

	// Loader defaults to an in-process LoopRuntime built from Config.Runtime.
	Loader core.RuntimeLoader

	// Logger defaults to a zap logger built from Config.Log.
	Logger core.Logger

	// Registerer enables Prometheus metrics when set.
	Registerer prom.Registerer

	// Metrics receives runner and call metrics when Registerer is nil.
	Metrics core.Metrics

	Subsystems []core.Subsystem
}

// Stack is a started lifecycle plus its logger and metrics.
type Stack struct {
	cfg       *config.Config
	lifecycle *core.Lifecycle
	logger    core.Logger
	zap       *zap.Logger

	metrics    *bridgeprom.MetricsExporter
	poller     *bridgeprom.SnapshotPoller
	pollCancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// OpenStack builds and starts a stack.
func OpenStack(opts StackOptions) (*Stack, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Stack{cfg: cfg}

	logger := opts.Logger
	if logger == nil {
		zl, err := logging.Setup(cfg.Log)
		if err != nil {
			return nil, err
		}
		s.zap = zl
		logger = logging.NewZapLogger(zl)
	}
	s.logger = logger

	var metrics core.Metrics = &core.NilMetrics{}
	if opts.Metrics != nil {
		metrics = opts.Metrics
	}
	if opts.Registerer != nil {
		exporter, err := bridgeprom.NewMetricsExporter(cfg.Metrics.Namespace, opts.Registerer, bridgeprom.ExporterOptions{})
		if err != nil {
			return nil, err
		}
		poller, err := bridgeprom.NewSnapshotPoller(cfg.Metrics.Namespace, opts.Registerer, cfg.Metrics.PollInterval)
		if err != nil {
			return nil, err
		}
		s.metrics = exporter
		s.poller = poller
		metrics = exporter
	}

	loader := opts.Loader
	if loader == nil {
		loader = core.LoopRuntimeLoader(&core.RunnerConfig{
			Name:         cfg.Runtime.Name,
			QueueSize:    cfg.Runtime.QueueSize,
			LockOSThread: true,
			Logger:       logger,
			Metrics:      metrics,
		})
	}

	s.lifecycle = core.NewLifecycle(core.LifecycleOptions{
		Loader: loader,
		StorageOpener: storage.Opener(storage.Options{
			InMemory: cfg.Storage.InMemory,
			Logger:   logger,
		}),
		Logger:          logger,
		LogModulePrefix: cfg.Runtime.LogPrefix,
		Subsystems:      opts.Subsystems,
		Metrics:         metrics,
		PollInterval:    cfg.Dispatcher.PollInterval,
	})

	if err := s.lifecycle.Start(cfg.Storage.Path, cfg.ServerInteractions); err != nil {
		s.syncLogger()
		return nil, err
	}

	if s.poller != nil {
		if d, err := s.lifecycle.Dispatcher(); err == nil {
			s.poller.AddDispatcher("main", d)
		}
		if rt, err := s.lifecycle.Runtime(); err == nil {
			if provider, ok := rt.(bridgeprom.RunnerSnapshotProvider); ok {
				s.poller.AddRunner(cfg.Runtime.Name, provider)
			}
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.pollCancel = cancel
		s.poller.Start(ctx)
	}

	return s, nil
}

// Config returns the effective configuration.
func (s *Stack) Config() *config.Config { return s.cfg }

// Logger returns the stack logger.
func (s *Stack) Logger() core.Logger { return s.logger }

// Lifecycle returns the underlying lifecycle.
func (s *Stack) Lifecycle() *core.Lifecycle { return s.lifecycle }

// Dispatcher returns the active dispatcher or ErrNotInitialized.
func (s *Stack) Dispatcher() (*core.Dispatcher, error) {
	return s.lifecycle.Dispatcher()
}

// CallTimeout is the timeout applied by the package-level call helpers.
func (s *Stack) CallTimeout() time.Duration { return s.cfg.Dispatcher.CallTimeout }

// Close stops metrics polling, shuts the lifecycle down and flushes the
// logger. Repeated calls return the first result.
func (s *Stack) Close() error {
	s.closeOnce.Do(func() {
		if s.poller != nil {
			s.poller.Stop()
			s.pollCancel()
		}
		s.closeErr = s.lifecycle.Shutdown()
		s.syncLogger()
	})
	return s.closeErr
}

func (s *Stack) syncLogger() {
	if s.zap != nil {
		// stderr/stdout return EINVAL on Sync on some platforms
		_ = s.zap.Sync()
	}
}

// =============================================================================
// Global Stack Helper (Singleton)
// =============================================================================

var (
	globalStack   *Stack
	globalClosing bool
	globalMu      sync.Mutex
)

// InitGlobalStack opens the global stack. It returns ErrAlreadyStarted if
// one is already running.
func InitGlobalStack(opts StackOptions) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalStack != nil || globalClosing {
		return ErrAlreadyStarted
	}
	s, err := OpenStack(opts)
	if err != nil {
		return err
	}
	globalStack = s
	return nil
}

// GetGlobalStack returns the global stack instance.
// It panics if InitGlobalStack has not been called.
func GetGlobalStack() *Stack {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalStack == nil {
		panic("GlobalStack not initialized. Call InitGlobalStack() first.")
	}
	return globalStack
}

// ShutdownGlobalStack closes the global stack. It is a no-op when none is
// running.
func ShutdownGlobalStack() error {
	globalMu.Lock()
	s := globalStack
	globalStack = nil
	if s != nil {
		globalClosing = true
	}
	globalMu.Unlock()

	if s == nil {
		return nil
	}
	// Close drains runtime callbacks that may still report through the facade,
	// so globalMu must not be held here.
	err := s.Close()

	globalMu.Lock()
	globalClosing = false
	globalMu.Unlock()
	return err
}

func globalDispatcher() (*core.Dispatcher, time.Duration, error) {
	globalMu.Lock()
	s := globalStack
	globalMu.Unlock()

	if s == nil {
		return nil, 0, ErrNotInitialized
	}
	d, err := s.Dispatcher()
	if err != nil {
		return nil, 0, err
	}
	return d, s.CallTimeout(), nil
}
