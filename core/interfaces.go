package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics on a runner goroutine.
// TaskRequests submitted through the Dispatcher never reach it: their panics
// are captured into the handle as a PanicError. It sees raw Tasks only.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	HandlePanic(ctx context.Context, runnerName string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panics through the Logger it was built with.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic value and stack.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, runnerName string, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panicked",
		F("runner", runnerName),
		F("panic", fmt.Sprint(panicInfo)),
		F("stack", string(stackTrace)))
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// CallMode names the completion protocol used for a dispatcher call.
type CallMode string

const (
	CallModeSubmit   CallMode = "submit"
	CallModeBlocking CallMode = "call"
	CallModeAsync    CallMode = "call_async"
	CallModeExternal CallMode = "external"
)

// CallOutcome classifies how a dispatcher call ended.
type CallOutcome string

const (
	OutcomeOK               CallOutcome = "ok"
	OutcomeTaskFailure      CallOutcome = "task_failure"
	OutcomeTimeout          CallOutcome = "timeout"
	OutcomeSubmissionFailed CallOutcome = "submission_failed"
	OutcomeNotInitialized   CallOutcome = "not_initialized"
	OutcomeWrongThread      CallOutcome = "wrong_thread"
	OutcomeCanceled         CallOutcome = "canceled"
	OutcomeBusy             CallOutcome = "busy"
)

// Metrics defines the interface for collecting runner and dispatcher metrics.
// Methods should be non-blocking and fast to avoid slowing the runtime goroutine.
type Metrics interface {
	// RecordTaskDuration records how long a task occupied a runner goroutine.
	RecordTaskDuration(runnerName string, duration time.Duration)

	// RecordTaskPanic records that a raw task panicked on a runner.
	RecordTaskPanic(runnerName string, panicInfo any)

	// RecordQueueDepth records the current queue depth of a runner.
	RecordQueueDepth(runnerName string, depth int)

	// RecordTaskRejected records that a runner refused a task ("shutdown", "queue_full", ...).
	RecordTaskRejected(runnerName string, reason string)

	// RecordCall records a finished dispatcher call from the caller's point of view.
	RecordCall(mode CallMode, outcome CallOutcome, duration time.Duration)
}

// NilMetrics provides a no-op metrics implementation.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(runnerName string, duration time.Duration) {}
func (m *NilMetrics) RecordTaskPanic(runnerName string, panicInfo any)            {}
func (m *NilMetrics) RecordQueueDepth(runnerName string, depth int)               {}
func (m *NilMetrics) RecordTaskRejected(runnerName string, reason string)         {}
func (m *NilMetrics) RecordCall(mode CallMode, outcome CallOutcome, duration time.Duration) {
}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a runner refuses a task posted through
// the fire-and-forget PostTask API. TryPostTask callers get an error instead.
type RejectedTaskHandler interface {
	HandleRejectedTask(runnerName string, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks at warn level.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

// HandleRejectedTask logs the rejected task.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(runnerName string, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Warn("task rejected", F("runner", runnerName), F("reason", reason))
}

// =============================================================================
// RunnerConfig: Configuration for SingleThreadTaskRunner
// =============================================================================

const defaultQueueSize = 1024

// RunnerConfig holds options for a SingleThreadTaskRunner.
// All handlers are optional; defaults are filled in by the constructor.
type RunnerConfig struct {
	// Name labels logs and metrics.
	Name string

	// QueueSize bounds the number of queued tasks. Defaults to 1024.
	QueueSize int

	// LockOSThread pins the run loop to one OS thread, for runtimes that keep
	// thread-local state.
	LockOSThread bool

	Logger              Logger
	PanicHandler        PanicHandler
	Metrics             Metrics
	RejectedTaskHandler RejectedTaskHandler
}

// DefaultRunnerConfig returns a config with default handlers.
func DefaultRunnerConfig() *RunnerConfig {
	logger := NewDefaultLogger()
	return &RunnerConfig{
		QueueSize:           defaultQueueSize,
		Logger:              logger,
		PanicHandler:        &DefaultPanicHandler{Logger: logger},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{Logger: logger},
	}
}

func (c *RunnerConfig) withDefaults() RunnerConfig {
	out := RunnerConfig{}
	if c != nil {
		out = *c
	}
	if out.QueueSize <= 0 {
		out.QueueSize = defaultQueueSize
	}
	if out.Logger == nil {
		out.Logger = NewDefaultLogger()
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{Logger: out.Logger}
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.RejectedTaskHandler == nil {
		out.RejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: out.Logger}
	}
	return out
}
