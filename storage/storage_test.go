package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Swind/go-runtime-bridge/core"
)

type fabric struct {
	ID      uint64
	Label   string
	Created time.Time
	Nodes   []uint32
}

func newBadger(t *testing.T) *Badger {
	t.Helper()
	b, err := OpenBadger(BadgerOptions{InMemory: true, Logger: core.NewNoOpLogger()})
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() { b.Shutdown() })
	return b
}

func delegates(t *testing.T) map[string]core.StorageDelegate {
	return map[string]core.StorageDelegate{
		"memory": NewMemory(),
		"badger": newBadger(t),
	}
}

func TestDelegate_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, d := range delegates(t) {
		t.Run(name, func(t *testing.T) {
			s := d.Storage()

			if _, err := s.Get(ctx, "fabric/1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get missing = %v, want ErrNotFound", err)
			}
			if err := s.Set(ctx, "fabric/1", []byte("hello")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := s.Get(ctx, "fabric/1")
			if err != nil || string(got) != "hello" {
				t.Fatalf("Get = %q, %v", got, err)
			}
			if err := s.Set(ctx, "fabric/1", []byte("world")); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			if got, _ := s.Get(ctx, "fabric/1"); string(got) != "world" {
				t.Fatalf("Get after overwrite = %q", got)
			}
			if err := s.Delete(ctx, "fabric/1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete(ctx, "fabric/1"); err != nil {
				t.Fatalf("Delete missing: %v", err)
			}
			if _, err := s.Get(ctx, "fabric/1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get after delete = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestDelegate_ClosedAfterShutdown(t *testing.T) {
	ctx := context.Background()
	for name, d := range delegates(t) {
		t.Run(name, func(t *testing.T) {
			if err := d.Shutdown(); err != nil {
				t.Fatalf("Shutdown: %v", err)
			}
			if _, err := d.Storage().Get(ctx, "k"); !errors.Is(err, ErrClosed) {
				t.Errorf("Get after Shutdown = %v, want ErrClosed", err)
			}
			if err := d.Storage().Set(ctx, "k", nil); !errors.Is(err, ErrClosed) {
				t.Errorf("Set after Shutdown = %v, want ErrClosed", err)
			}
		})
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	in := []byte("abc")
	m.Set(ctx, "k", in)
	in[0] = 'x'

	out, _ := m.Get(ctx, "k")
	out[1] = 'y'

	again, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value mutated to %q", again)
	}
}

func TestTypedValues(t *testing.T) {
	ctx := context.Background()
	s := newBadger(t)

	want := fabric{ID: 7, Label: "home", Created: time.Unix(1700000000, 0).UTC(), Nodes: []uint32{1, 2, 3}}
	if err := SetValue(ctx, s, "fabric/7", want); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	got, err := GetValue[fabric](ctx, s, "fabric/7")
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if got.ID != want.ID || got.Label != want.Label || !got.Created.Equal(want.Created) || len(got.Nodes) != 3 {
		t.Errorf("GetValue = %+v, want %+v", got, want)
	}

	if _, err := GetValue[fabric](ctx, s, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetValue missing = %v, want ErrNotFound", err)
	}

	s.Set(ctx, "garbage", []byte{0xc1})
	if _, err := GetValue[fabric](ctx, s, "garbage"); err == nil {
		t.Error("GetValue on garbage should fail")
	}
}

func TestOpen_SelectsDelegate(t *testing.T) {
	d, err := Open(Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := d.(*Memory); !ok {
		t.Errorf("Open(empty) = %T, want *Memory", d)
	}

	dir := t.TempDir()
	d, err = Opener(Options{Logger: core.NewNoOpLogger()})(dir)
	if err != nil {
		t.Fatalf("Opener(dir): %v", err)
	}
	if _, ok := d.(*Badger); !ok {
		t.Errorf("Opener(dir) = %T, want *Badger", d)
	}

	ctx := context.Background()
	d.Storage().Set(ctx, "persist", []byte("yes"))
	if err := d.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	reopened, err := OpenBadger(BadgerOptions{Dir: dir, Logger: core.NewNoOpLogger()})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Shutdown()
	if got, err := reopened.Get(ctx, "persist"); err != nil || string(got) != "yes" {
		t.Errorf("after reopen Get = %q, %v", got, err)
	}

	if _, err := OpenBadger(BadgerOptions{}); err == nil {
		t.Error("OpenBadger without Dir should fail")
	}
}

func TestDelegate_BacksLoopRuntime(t *testing.T) {
	b := newBadger(t)
	lc := core.NewLifecycle(core.LifecycleOptions{
		Logger:        core.NewNoOpLogger(),
		Loader:        core.LoopRuntimeLoader(&core.RunnerConfig{Logger: core.NewNoOpLogger()}),
		StorageOpener: func(string) (core.StorageDelegate, error) { return b, nil },
	})
	if err := lc.Start("", false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d, _ := lc.Dispatcher()

	_, err := core.Call(d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, SetValue(ctx, core.StorageFromContext(ctx), "counter", 41)
	}, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if err := lc.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, err := b.Get(context.Background(), "counter"); !errors.Is(err, ErrClosed) {
		t.Errorf("storage should be shut down with the lifecycle, got %v", err)
	}
}
