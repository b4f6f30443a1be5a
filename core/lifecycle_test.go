package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// memDelegate records the order of storage calls.
type memDelegate struct {
	store  *mapStorage
	events *eventLog
	failOn string
}

func (d *memDelegate) Storage() Storage { return d.store }

func (d *memDelegate) Shutdown() error {
	d.events.add("storage.shutdown")
	if d.failOn == "shutdown" {
		return errors.New("flush failed")
	}
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, s)
}

func (e *eventLog) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.Join(e.events, ",")
}

// recordingRuntime wraps a LoopRuntime and logs lifecycle calls.
type recordingRuntime struct {
	*LoopRuntime
	events   *eventLog
	initCode StatusCode
}

func (r *recordingRuntime) Init(storage Storage, serverInteractions bool) Status {
	r.events.add("runtime.init")
	if r.initCode != StatusOK {
		return StatusOf(r.initCode, "forced")
	}
	return r.LoopRuntime.Init(storage, serverInteractions)
}

func (r *recordingRuntime) Shutdown() Status {
	r.events.add("runtime.shutdown")
	return r.LoopRuntime.Shutdown()
}

func (r *recordingRuntime) SetLogFunction(fn LogFunc) Status {
	r.events.add("runtime.log")
	return r.LoopRuntime.SetLogFunction(fn)
}

func newTestLifecycle(events *eventLog, opts LifecycleOptions) *Lifecycle {
	if opts.Loader == nil {
		opts.Loader = func() (ForeignRuntime, string, error) {
			events.add("runtime.load")
			rt := &recordingRuntime{LoopRuntime: NewLoopRuntime(&RunnerConfig{Logger: NewNoOpLogger()}), events: events}
			return rt, "test:runtime", nil
		}
	}
	if opts.StorageOpener == nil {
		opts.StorageOpener = func(path string) (StorageDelegate, error) {
			events.add("storage.open")
			return &memDelegate{store: newMapStorage(), events: events}, nil
		}
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}
	return NewLifecycle(opts)
}

// TestLifecycle_StartShutdownOrder tests collaborator ordering
// Main test items:
// 1. Start loads, installs logging, opens storage, inits, then runs subsystems
// 2. Shutdown stops the runtime before the storage
func TestLifecycle_StartShutdownOrder(t *testing.T) {
	events := &eventLog{}
	lc := newTestLifecycle(events, LifecycleOptions{
		Subsystems: []Subsystem{
			{Name: "interaction-model", Init: func(d *Dispatcher) error { events.add("sub.im"); return nil }},
			{Name: "attributes", Init: func(d *Dispatcher) error { events.add("sub.attr"); return nil }},
		},
	})

	if err := lc.Start("/tmp/bridge.db", true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !lc.Initialized() || !lc.ServerInteractionsEnabled() || lc.RuntimePath() != "test:runtime" {
		t.Errorf("state after Start: init=%v server=%v path=%q", lc.Initialized(), lc.ServerInteractionsEnabled(), lc.RuntimePath())
	}
	if err := lc.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	want := "runtime.load,runtime.log,storage.open,runtime.init,sub.im,sub.attr,runtime.shutdown,storage.shutdown"
	if got := events.String(); got != want {
		t.Errorf("events = %s\nwant     %s", got, want)
	}
}

// TestLifecycle_DispatcherWindow tests validity
// Main test items:
// 1. Dispatcher is unavailable before Start and after Shutdown
// 2. A dispatcher captured before Shutdown rejects work afterwards
// 3. A second Shutdown returns ErrNotInitialized
func TestLifecycle_DispatcherWindow(t *testing.T) {
	lc := newTestLifecycle(&eventLog{}, LifecycleOptions{})

	if _, err := lc.Dispatcher(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Dispatcher before Start = %v", err)
	}
	if err := lc.Start("", false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := lc.Start("", false); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	d, err := lc.Dispatcher()
	if err != nil {
		t.Fatalf("Dispatcher: %v", err)
	}
	got, err := Call(d, func(ctx context.Context) (int, error) { return 2 + 2, nil }, time.Second)
	if err != nil || got != 4 {
		t.Fatalf("Call = %d, %v", got, err)
	}

	if err := lc.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	ran := false
	if _, err := Call(d, func(ctx context.Context) (int, error) { ran = true; return 0, nil }, time.Second); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Call after Shutdown = %v, want ErrNotInitialized", err)
	}
	if ran {
		t.Error("task ran after Shutdown")
	}
	if _, err := lc.Dispatcher(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Dispatcher after Shutdown = %v", err)
	}
	if _, err := lc.StorageManager(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("StorageManager after Shutdown = %v", err)
	}
	if err := lc.Shutdown(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("second Shutdown = %v, want ErrNotInitialized", err)
	}
}

// TestLifecycle_InitFailure tests rollback on a failed Init
// Main test items:
// 1. The status is translated into a RuntimeError
// 2. Storage opened for the attempt is shut down
func TestLifecycle_InitFailure(t *testing.T) {
	events := &eventLog{}
	lc := newTestLifecycle(events, LifecycleOptions{
		Loader: func() (ForeignRuntime, string, error) {
			rt := &recordingRuntime{
				LoopRuntime: NewLoopRuntime(&RunnerConfig{Logger: NewNoOpLogger()}),
				events:      events,
				initCode:    StatusNoMemory,
			}
			return rt, "test:broken", nil
		},
	})

	err := lc.Start("", false)
	var rtErr *RuntimeError
	if !errors.As(err, &rtErr) || rtErr.Code != StatusNoMemory || rtErr.Message != "no memory" {
		t.Fatalf("Start = %v, want RuntimeError(no memory)", err)
	}
	if !strings.HasSuffix(events.String(), "runtime.init,storage.shutdown") {
		t.Errorf("events = %s", events.String())
	}
	if lc.Initialized() {
		t.Error("lifecycle should not be initialized")
	}
}

// TestLifecycle_SubsystemFailure tests rollback on a failed subsystem
// Main test items:
// 1. The error names the subsystem
// 2. Runtime and storage are shut down in order
func TestLifecycle_SubsystemFailure(t *testing.T) {
	events := &eventLog{}
	cause := errors.New("bad cluster")
	lc := newTestLifecycle(events, LifecycleOptions{
		Subsystems: []Subsystem{{Name: "commands", Init: func(d *Dispatcher) error { return cause }}},
	})

	err := lc.Start("", false)
	if !errors.Is(err, cause) || !strings.Contains(err.Error(), "commands") {
		t.Fatalf("Start = %v", err)
	}
	if !strings.HasSuffix(events.String(), "runtime.shutdown,storage.shutdown") {
		t.Errorf("events = %s", events.String())
	}
}

// TestLifecycle_SubsystemUsesDispatcher tests setup work on the runtime
// Main test items:
// 1. Subsystem initializers can run tasks on the runtime goroutine
func TestLifecycle_SubsystemUsesDispatcher(t *testing.T) {
	var stored string
	lc := newTestLifecycle(&eventLog{}, LifecycleOptions{
		Subsystems: []Subsystem{{Name: "attributes", Init: func(d *Dispatcher) error {
			_, err := Call(d, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, StorageFromContext(ctx).Set(ctx, "attr", []byte("on"))
			}, time.Second)
			if err != nil {
				return err
			}
			v, err := Call(d, func(ctx context.Context) ([]byte, error) {
				return StorageFromContext(ctx).Get(ctx, "attr")
			}, time.Second)
			stored = string(v)
			return err
		}}},
	})

	if err := lc.Start("", false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer lc.Shutdown()
	if stored != "on" {
		t.Errorf("stored = %q, want on", stored)
	}
}

// TestLifecycle_ShutdownJoinsStorageError tests error reporting on Shutdown
// Main test items:
// 1. A storage shutdown error is returned
// 2. The lifecycle is invalidated anyway
func TestLifecycle_ShutdownJoinsStorageError(t *testing.T) {
	events := &eventLog{}
	lc := newTestLifecycle(events, LifecycleOptions{
		StorageOpener: func(path string) (StorageDelegate, error) {
			return &memDelegate{store: newMapStorage(), events: events, failOn: "shutdown"}, nil
		},
	})
	if err := lc.Start("", false); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := lc.Shutdown(); err == nil || !strings.Contains(err.Error(), "flush failed") {
		t.Errorf("Shutdown = %v, want storage error", err)
	}
	if lc.Initialized() {
		t.Error("lifecycle still initialized")
	}
}

// TestLifecycle_LogRouting tests the log bridge and SetLogFunction
// Main test items:
// 1. Runtime logs reach the lifecycle logger
// 2. A custom LogFunc replaces the bridge; nil restores it
func TestLifecycle_LogRouting(t *testing.T) {
	logger := &captureLogger{}
	var rt *LoopRuntime
	lc := NewLifecycle(LifecycleOptions{
		Logger: logger,
		Loader: func() (ForeignRuntime, string, error) {
			rt = NewLoopRuntime(&RunnerConfig{Logger: NewNoOpLogger()})
			return rt, "test", nil
		},
		StorageOpener: func(path string) (StorageDelegate, error) {
			return &memDelegate{store: newMapStorage(), events: &eventLog{}}, nil
		},
	})
	if err := lc.Start("", false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer lc.Shutdown()

	rt.Log("IM", LogCategoryError, "one")

	var custom []string
	lc.SetLogFunction(func(ts time.Time, module string, category LogCategory, message string) {
		custom = append(custom, message)
	})
	rt.Log("IM", LogCategoryError, "two")

	lc.SetLogFunction(nil)
	rt.Log("IM", LogCategoryError, "three")

	var bridged []string
	for _, l := range logger.all() {
		if l.level == "error" {
			bridged = append(bridged, l.msg)
		}
	}
	if strings.Join(bridged, "|") != "IM: one|IM: three" {
		t.Errorf("bridged = %v", bridged)
	}
	if len(custom) != 1 || custom[0] != "two" {
		t.Errorf("custom = %v", custom)
	}
}

// TestErrorFromStatus tests status translation
// Main test items:
// 1. Success maps to nil
// 2. Status reports become DeviceStatusError with the system error code
func TestErrorFromStatus(t *testing.T) {
	if err := ErrorFromStatus(nil, OK); err != nil {
		t.Errorf("ErrorFromStatus(OK) = %v", err)
	}

	sys := uint32(5)
	err := ErrorFromStatus(NewLoopRuntime(nil), Status{
		Code:   StatusStatusReport,
		Report: &StatusReport{ProfileID: 0x0001, StatusCode: 3, SysErrorCode: &sys},
	})
	var dse *DeviceStatusError
	if !errors.As(err, &dse) {
		t.Fatalf("err = %T, want *DeviceStatusError", err)
	}
	if dse.Error() != "status report received from peer (system err 5)" {
		t.Errorf("message = %q", dse.Error())
	}

	err = ErrorFromStatus(nil, StatusOf(StatusInternal, "boom"))
	var rtErr *RuntimeError
	if !errors.As(err, &rtErr) || rtErr.Message != "boom" {
		t.Errorf("err = %v, want RuntimeError with detail", err)
	}
}

// TestLifecycle_ShutdownWithQueuedCallbacks tests callbacks drained during Shutdown
// Main test items:
// 1. A queued task that calls back into the lifecycle does not block Shutdown
// 2. The callback sees the lifecycle as already invalid
// 3. Runtime still stops before storage, and Start is allowed again afterwards
func TestLifecycle_ShutdownWithQueuedCallbacks(t *testing.T) {
	events := &eventLog{}
	lc := newTestLifecycle(events, LifecycleOptions{})
	if err := lc.Start("", false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rt, err := lc.Runtime()
	if err != nil {
		t.Fatalf("Runtime: %v", err)
	}
	loop := rt.(*recordingRuntime)

	gate := make(chan struct{})
	callbackErrs := make(chan error, 2)
	if status := loop.Post(func(ctx context.Context) { <-gate }); !status.IsSuccess() {
		t.Fatalf("Post gate: %v", status)
	}
	if status := loop.Post(func(ctx context.Context) {
		_, err := lc.StorageManager()
		callbackErrs <- err
		_, err = lc.Dispatcher()
		callbackErrs <- err
	}); !status.IsSuccess() {
		t.Fatalf("Post callback: %v", status)
	}

	done := make(chan error, 1)
	go func() { done <- lc.Shutdown() }()
	time.Sleep(10 * time.Millisecond)
	close(gate)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked by a draining callback")
	}

	for i := 0; i < 2; i++ {
		if err := <-callbackErrs; !errors.Is(err, ErrNotInitialized) {
			t.Errorf("callback %d saw %v, want ErrNotInitialized", i, err)
		}
	}
	if got := events.String(); !strings.HasSuffix(got, "runtime.shutdown,storage.shutdown") {
		t.Errorf("events = %s", got)
	}

	if err := lc.Start("", false); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := lc.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
