package bridge

import "github.com/Swind/go-runtime-bridge/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the bridge package for most use cases.

// Task is a plain closure posted to a runner
type Task = core.Task

// TaskRequest is the unit of work submitted to the runtime
type TaskRequest[T any] = core.TaskRequest[T]

// TaskRunner is the interface for posting tasks
type TaskRunner = core.TaskRunner

// SingleThreadTaskRunner runs tasks on one dedicated goroutine
type SingleThreadTaskRunner = core.SingleThreadTaskRunner

// BlockingHandle is the result slot of a submitted TaskRequest
type BlockingHandle[T any] = core.BlockingHandle[T]

// Future resolves on a reply runner
type Future[T any] = core.Future[T]

type (
	Dispatcher       = core.Dispatcher
	Lifecycle        = core.Lifecycle
	LifecycleOptions = core.LifecycleOptions
	Subsystem        = core.Subsystem
	ForeignRuntime   = core.ForeignRuntime
	LoopRuntime      = core.LoopRuntime
	Status           = core.Status
	StatusCode       = core.StatusCode
	CompletionToken  = core.CompletionToken
	Logger           = core.Logger
)

// Error sentinels
var (
	ErrSubmissionFailed = core.ErrSubmissionFailed
	ErrTaskFailure      = core.ErrTaskFailure
	ErrTimeout          = core.ErrTimeout
	ErrWrongThread      = core.ErrWrongThread
	ErrNotInitialized   = core.ErrNotInitialized
	ErrDoubleCompletion = core.ErrDoubleCompletion
	ErrSignalBusy       = core.ErrSignalBusy
	ErrStaleCompletion  = core.ErrStaleCompletion
	ErrAlreadyStarted   = core.ErrAlreadyStarted
)

// NewSingleThreadTaskRunner creates a runner with a dedicated goroutine,
// usable as a reply runner for CallAsync.
func NewSingleThreadTaskRunner() *SingleThreadTaskRunner {
	return core.NewSingleThreadTaskRunner()
}

// GetCurrentTaskRunner retrieves the current TaskRunner from context
var GetCurrentTaskRunner = core.GetCurrentTaskRunner

// CompletionTokenFromContext returns the external cycle token inside a start function
var CompletionTokenFromContext = core.CompletionTokenFromContext

// StorageFromContext returns the runtime's storage inside a task
var StorageFromContext = core.StorageFromContext
