package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task is a unit of work posted to a runner (Closure)
type Task func(ctx context.Context)

// TaskRequest is the unit of work submitted across the runtime boundary.
// It runs only on the runtime goroutine and yields a single value or a failure.
type TaskRequest[T any] func(ctx context.Context) (T, error)

// TaskID identifies a submitted task in logs, history and stats.
type TaskID uuid.UUID

// GenerateTaskID returns a new random TaskID.
func GenerateTaskID() TaskID {
	return TaskID(uuid.New())
}

func (id TaskID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether the ID was never assigned.
func (id TaskID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// =============================================================================
// TaskRunner: Define task submission interface
// =============================================================================

// TaskRunner is anything that accepts tasks and runs them on its own
// execution context. Future resolutions are posted to a TaskRunner so that
// caller continuations never run on the runtime goroutine.
type TaskRunner interface {
	PostTask(task Task)
	PostDelayedTask(task Task, delay time.Duration)
}

// =============================================================================
// Context Helper
// =============================================================================
type taskRunnerKeyType struct{}

var taskRunnerKey taskRunnerKeyType

// GetCurrentTaskRunner returns the runner executing the current task, or nil.
func GetCurrentTaskRunner(ctx context.Context) TaskRunner {
	if v := ctx.Value(taskRunnerKey); v != nil {
		return v.(TaskRunner)
	}
	return nil
}
