// Package bridge dispatches work from arbitrary goroutines onto a single
// runtime goroutine and carries results back.
//
// The runtime owns one goroutine (locked to its OS thread) and every task
// submitted through the bridge runs there. Callers either block for the
// result, receive it later on a reply runner, or wait for a runtime-side
// callback to complete an external operation.
//
// # Quick Start
//
// Bring up the global stack at application startup:
//
//	if err := bridge.InitGlobalStack(bridge.StackOptions{}); err != nil {
//		log.Fatal(err)
//	}
//	defer bridge.ShutdownGlobalStack()
//
// Run a task on the runtime goroutine and wait for its result:
//
//	sum, err := bridge.Call(func(ctx context.Context) (int, error) {
//		return 2 + 2, nil
//	})
//
// # Key Concepts
//
// Dispatcher: submits TaskRequests to the runtime. Call blocks with a
// timeout, Submit returns a BlockingHandle, CallAsync returns a Future that
// resolves on a reply runner.
//
// Lifecycle: loads the runtime, opens its storage, initializes both and runs
// subsystem initializers. Shutdown stops the runtime before its storage.
//
// External completion: CallExternal starts an operation on the runtime and
// waits for a later callback to report its result through
// Dispatcher.CompleteExternal. Only one external call is in flight at a time.
//
// # Thread Safety
//
// Blocking waits from the runtime goroutine itself fail with ErrWrongThread
// instead of deadlocking. Everything else may be called from any goroutine.
package bridge
