package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSubmissionFailed: the runtime rejected the task before any execution.
	ErrSubmissionFailed = errors.New("bridge: submission failed")

	// ErrTaskFailure: the task ran and returned an error or panicked.
	ErrTaskFailure = errors.New("bridge: task failed")

	// ErrTimeout: the caller stopped waiting. The task may still complete later.
	ErrTimeout = errors.New("bridge: timed out waiting for task to finish executing on the runtime goroutine")

	// ErrWrongThread: a blocking wait was attempted from the runtime goroutine itself.
	ErrWrongThread = errors.New("bridge: blocking wait on the runtime goroutine would deadlock")

	// ErrNotInitialized: the stack has not been started or was already shut down.
	ErrNotInitialized = errors.New("bridge: runtime not initialized")

	// ErrDoubleCompletion: a completion signal was completed twice in one cycle.
	ErrDoubleCompletion = errors.New("bridge: completion signal already completed")

	// ErrSignalBusy: a completion signal was reset while a cycle is in flight.
	ErrSignalBusy = errors.New("bridge: completion signal already in flight")

	// ErrStaleCompletion: a completion carried the token of a finished cycle.
	ErrStaleCompletion = errors.New("bridge: completion token does not match the active cycle")

	// ErrAlreadyResolved: a future was resolved more than once.
	ErrAlreadyResolved = errors.New("bridge: future already resolved")

	// ErrAlreadyStarted: Start was called on a running lifecycle.
	ErrAlreadyStarted = errors.New("bridge: runtime already started")
)

// TaskFailure carries the error a TaskRequest produced.
// It matches ErrTaskFailure and unwraps to the original cause.
type TaskFailure struct {
	Cause error
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("bridge: task failed: %v", e.Cause)
}

func (e *TaskFailure) Unwrap() []error {
	return []error{ErrTaskFailure, e.Cause}
}

// PanicError is the cause recorded when a TaskRequest panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error (runtime.Error, ...).
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// SubmissionError reports a non-success status from the runtime's post call.
// The trampoline is guaranteed never to run for the rejected task.
type SubmissionError struct {
	Status Status
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("bridge: submission failed: %v", e.Status)
}

func (e *SubmissionError) Unwrap() error {
	return ErrSubmissionFailed
}

// RuntimeError is a runtime status code translated by the runtime itself.
type RuntimeError struct {
	Code    StatusCode
	Message string
}

func (e *RuntimeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("runtime error 0x%08X", uint32(e.Code))
	}
	return fmt.Sprintf("runtime error 0x%08X: %s", uint32(e.Code), e.Message)
}

// DeviceStatusError is a status report returned by a remote peer.
type DeviceStatusError struct {
	ProfileID    uint32
	StatusCode   uint16
	SysErrorCode *uint32
	Message      string
}

func (e *DeviceStatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("status report profile 0x%08X code %d", e.ProfileID, e.StatusCode)
	}
	if e.SysErrorCode != nil {
		msg = fmt.Sprintf("%s (system err %d)", msg, *e.SysErrorCode)
	}
	return msg
}

// wrapTaskError turns a task's error into a TaskFailure, leaving nil alone.
func wrapTaskError(err error) error {
	if err == nil {
		return nil
	}
	var tf *TaskFailure
	if errors.As(err, &tf) {
		return err
	}
	return &TaskFailure{Cause: err}
}
