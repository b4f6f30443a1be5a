package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-runtime-bridge/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type runnerStub struct {
	stats core.RunnerStats
}

func (s runnerStub) Stats() core.RunnerStats { return s.stats }

type dispatcherStub struct {
	stats core.DispatcherStats
}

func (s dispatcherStub) Stats() core.DispatcherStats { return s.stats }

func TestSnapshotPoller_CollectsRunnerAndDispatcherStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("bridge", reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddRunner("runtime", runnerStub{stats: core.RunnerStats{
		Pending:  3,
		Running:  true,
		Executed: 10,
		Rejected: 2,
		Closed:   true,
	}})
	poller.AddDispatcher("main", dispatcherStub{stats: core.DispatcherStats{
		Submitted:        12,
		InFlight:         4,
		OutstandingRefs:  4,
		Timeouts:         1,
		ExternalInFlight: true,
		Initialized:      true,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		pending := testutil.ToFloat64(poller.runnerPending.WithLabelValues("runtime"))
		inFlight := testutil.ToFloat64(poller.dispatcherInFlight.WithLabelValues("main"))
		return pending == 3 && inFlight == 4
	})

	if got := testutil.ToFloat64(poller.runnerClosed.WithLabelValues("runtime")); got != 1 {
		t.Fatalf("runner closed gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.runnerExecuted.WithLabelValues("runtime")); got != 10 {
		t.Fatalf("runner executed gauge = %v, want 10", got)
	}
	if got := testutil.ToFloat64(poller.dispatcherExternal.WithLabelValues("main")); got != 1 {
		t.Fatalf("external gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.dispatcherTimeouts.WithLabelValues("main")); got != 1 {
		t.Fatalf("timeouts gauge = %v, want 1", got)
	}
}

func TestSnapshotPoller_LiveDispatcher(t *testing.T) {
	rt := core.NewLoopRuntime(&core.RunnerConfig{Name: "runtime", Logger: core.NewNoOpLogger()})
	if status := rt.Init(memStorage{}, false); !status.IsSuccess() {
		t.Fatalf("Init: %v", status)
	}
	defer rt.Shutdown()
	d := core.NewDispatcher(rt, &core.DispatcherConfig{Logger: core.NewNoOpLogger()})
	defer d.Close()

	if _, err := core.Call(d, func(ctx context.Context) (int, error) { return 1, nil }, time.Second); err != nil {
		t.Fatalf("Call: %v", err)
	}

	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("bridge", reg, time.Hour)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}
	poller.AddRunner("runtime", rt)
	poller.AddDispatcher("main", d)
	poller.collectOnce()

	if got := testutil.ToFloat64(poller.dispatcherSubmitted.WithLabelValues("main")); got != 1 {
		t.Errorf("submitted gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.dispatcherRefs.WithLabelValues("main")); got != 0 {
		t.Errorf("refs gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(poller.runnerRunning.WithLabelValues("runtime")); got != 1 {
		t.Errorf("runner running gauge = %v, want 1", got)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("", reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

type memStorage struct{}

func (memStorage) Get(ctx context.Context, key string) ([]byte, error)      { return nil, nil }
func (memStorage) Set(ctx context.Context, key string, value []byte) error { return nil }
func (memStorage) Delete(ctx context.Context, key string) error            { return nil }

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
