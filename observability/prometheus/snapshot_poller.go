package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-runtime-bridge/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// RunnerSnapshotProvider provides current runner stats snapshots
// (a LoopRuntime or a SingleThreadTaskRunner).
type RunnerSnapshotProvider interface {
	Stats() core.RunnerStats
}

// DispatcherSnapshotProvider provides current dispatcher stats snapshots.
type DispatcherSnapshotProvider interface {
	Stats() core.DispatcherStats
}

// SnapshotPoller periodically exports runner/dispatcher Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	runnersMu sync.RWMutex
	runners   map[string]RunnerSnapshotProvider

	dispatchersMu sync.RWMutex
	dispatchers   map[string]DispatcherSnapshotProvider

	runnerPending  *prom.GaugeVec
	runnerRunning  *prom.GaugeVec
	runnerExecuted *prom.GaugeVec
	runnerRejected *prom.GaugeVec
	runnerClosed   *prom.GaugeVec

	dispatcherInFlight    *prom.GaugeVec
	dispatcherRefs        *prom.GaugeVec
	dispatcherSubmitted   *prom.GaugeVec
	dispatcherRejected    *prom.GaugeVec
	dispatcherTimeouts    *prom.GaugeVec
	dispatcherExternal    *prom.GaugeVec
	dispatcherInitialized *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "bridge"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	p := &SnapshotPoller{
		interval:    interval,
		runners:     make(map[string]RunnerSnapshotProvider),
		dispatchers: make(map[string]DispatcherSnapshotProvider),

		runnerPending:  gauge("runner_pending", "Number of queued tasks per runner.", "runner"),
		runnerRunning:  gauge("runner_running", "Runner loop state (1=running, 0=stopped).", "runner"),
		runnerExecuted: gauge("runner_executed_total", "Runner executed task count snapshot.", "runner"),
		runnerRejected: gauge("runner_rejected_total", "Runner rejected task count snapshot.", "runner"),
		runnerClosed:   gauge("runner_closed", "Runner closed state (1=closed, 0=open).", "runner"),

		dispatcherInFlight:    gauge("dispatcher_in_flight", "Submitted tasks not yet completed.", "dispatcher"),
		dispatcherRefs:        gauge("dispatcher_outstanding_refs", "Handles currently across the runtime boundary.", "dispatcher"),
		dispatcherSubmitted:   gauge("dispatcher_submitted_total", "Dispatcher submitted task count snapshot.", "dispatcher"),
		dispatcherRejected:    gauge("dispatcher_rejected_total", "Dispatcher rejected submission count snapshot.", "dispatcher"),
		dispatcherTimeouts:    gauge("dispatcher_timeouts_total", "Dispatcher caller timeout count snapshot.", "dispatcher"),
		dispatcherExternal:    gauge("dispatcher_external_in_flight", "External completion cycle open (1) or idle (0).", "dispatcher"),
		dispatcherInitialized: gauge("dispatcher_initialized", "Dispatcher accepts work (1) or not (0).", "dispatcher"),
	}

	for _, vec := range []**prom.GaugeVec{
		&p.runnerPending, &p.runnerRunning, &p.runnerExecuted, &p.runnerRejected, &p.runnerClosed,
		&p.dispatcherInFlight, &p.dispatcherRefs, &p.dispatcherSubmitted, &p.dispatcherRejected,
		&p.dispatcherTimeouts, &p.dispatcherExternal, &p.dispatcherInitialized,
	} {
		registered, err := registerCollector(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}

	return p, nil
}

// AddRunner adds or replaces a runner snapshot provider by name.
func (p *SnapshotPoller) AddRunner(name string, provider RunnerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "runner")
	p.runnersMu.Lock()
	p.runners[name] = provider
	p.runnersMu.Unlock()
}

// AddDispatcher adds or replaces a dispatcher snapshot provider by name.
func (p *SnapshotPoller) AddDispatcher(name string, provider DispatcherSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "dispatcher")
	p.dispatchersMu.Lock()
	p.dispatchers[name] = provider
	p.dispatchersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.runnersMu.RLock()
	for name, provider := range p.runners {
		stats := provider.Stats()
		p.runnerPending.WithLabelValues(name).Set(float64(stats.Pending))
		p.runnerRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
		p.runnerExecuted.WithLabelValues(name).Set(float64(stats.Executed))
		p.runnerRejected.WithLabelValues(name).Set(float64(stats.Rejected))
		p.runnerClosed.WithLabelValues(name).Set(boolGauge(stats.Closed))
	}
	p.runnersMu.RUnlock()

	p.dispatchersMu.RLock()
	for name, provider := range p.dispatchers {
		stats := provider.Stats()
		p.dispatcherInFlight.WithLabelValues(name).Set(float64(stats.InFlight))
		p.dispatcherRefs.WithLabelValues(name).Set(float64(stats.OutstandingRefs))
		p.dispatcherSubmitted.WithLabelValues(name).Set(float64(stats.Submitted))
		p.dispatcherRejected.WithLabelValues(name).Set(float64(stats.Rejected))
		p.dispatcherTimeouts.WithLabelValues(name).Set(float64(stats.Timeouts))
		p.dispatcherExternal.WithLabelValues(name).Set(boolGauge(stats.ExternalInFlight))
		p.dispatcherInitialized.WithLabelValues(name).Set(boolGauge(stats.Initialized))
	}
	p.dispatchersMu.RUnlock()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
