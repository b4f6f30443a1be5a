package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// trampolineTarget is a handle that can be executed by the trampoline.
type trampolineTarget interface {
	run(ctx context.Context)
}

// refTable holds handles while they are on the far side of the runtime
// boundary. A Ref is the ownership token for one entry: transfer creates it,
// take consumes it, and whichever path takes it first (the trampoline, or the
// submitter after a rejected post) is the only one that ever sees the handle.
type refTable struct {
	next    atomic.Uintptr
	entries sync.Map // map[Ref]trampolineTarget
	live    atomic.Int64
}

// transfer registers target and returns the Ref to pass across the boundary.
func (t *refTable) transfer(target trampolineTarget) Ref {
	ref := Ref(t.next.Add(1))
	t.entries.Store(ref, target)
	t.live.Add(1)
	return ref
}

// take consumes ref. The second take of the same ref reports false.
func (t *refTable) take(ref Ref) (trampolineTarget, bool) {
	v, ok := t.entries.LoadAndDelete(ref)
	if !ok {
		return nil, false
	}
	t.live.Add(-1)
	return v.(trampolineTarget), true
}

// outstanding is the number of handles currently across the boundary.
func (t *refTable) outstanding() int {
	return int(t.live.Load())
}
