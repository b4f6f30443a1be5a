package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// Foreign runtime contract
// =============================================================================

// StatusCode is the numeric result of a runtime entry point.
type StatusCode uint32

const (
	StatusOK              StatusCode = 0x00
	StatusIncorrectState  StatusCode = 0x03
	StatusNoMemory        StatusCode = 0x0B
	StatusInvalidArgument StatusCode = 0x2F
	StatusStatusReport    StatusCode = 0x2C
	StatusQueueFull       StatusCode = 0x4B
	StatusNotInitialized  StatusCode = 0x65
	StatusShutdown        StatusCode = 0x66
	StatusInternal        StatusCode = 0xAC
)

// Status is returned by every ForeignRuntime call.
type Status struct {
	Code   StatusCode
	Detail string

	// Report is set for StatusStatusReport results.
	Report *StatusReport
}

// StatusReport is the status a remote peer sent back.
type StatusReport struct {
	ProfileID    uint32
	StatusCode   uint16
	SysErrorCode *uint32
}

// OK is the success status.
var OK = Status{Code: StatusOK}

// StatusOf builds a Status with a detail message.
func StatusOf(code StatusCode, detail string) Status {
	return Status{Code: code, Detail: detail}
}

// IsSuccess reports whether the call succeeded.
func (s Status) IsSuccess() bool {
	return s.Code == StatusOK
}

func (s Status) String() string {
	if s.Detail == "" {
		return fmt.Sprintf("status 0x%02X", uint32(s.Code))
	}
	return fmt.Sprintf("status 0x%02X: %s", uint32(s.Code), s.Detail)
}

// Ref is an opaque reference to a handle that crossed the runtime boundary.
// The runtime only stores it and hands it back to the trampoline.
type Ref uintptr

// Trampoline is the fixed entry point the runtime invokes with a Ref it was given.
type Trampoline func(ctx context.Context, ref Ref)

// LogCategory is the runtime's log category.
type LogCategory uint8

const (
	LogCategoryNone LogCategory = iota
	LogCategoryError
	LogCategoryProgress
	LogCategoryDetail
	LogCategoryAutomation
)

func (c LogCategory) String() string {
	switch c {
	case LogCategoryError:
		return "error"
	case LogCategoryProgress:
		return "progress"
	case LogCategoryDetail:
		return "detail"
	case LogCategoryAutomation:
		return "automation"
	default:
		return "none"
	}
}

// LogFunc receives log lines emitted inside the runtime.
type LogFunc func(ts time.Time, module string, category LogCategory, message string)

// Storage is the persistent key-value handle the runtime is initialized with.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// StorageDelegate owns the storage backing a runtime.
type StorageDelegate interface {
	Storage() Storage
	Shutdown() error
}

// ForeignRuntime is the narrow contract with the single-threaded runtime loop.
type ForeignRuntime interface {
	Init(storage Storage, serverInteractionsEnabled bool) Status
	Shutdown() Status
	PostTask(fn Trampoline, ref Ref) Status
	SetLogFunction(fn LogFunc) Status
	ErrorToString(code StatusCode) string
}

// RuntimeGoroutineChecker is implemented by runtimes that can tell whether
// the caller is on the runtime goroutine. The Dispatcher uses it to fail
// blocking waits with ErrWrongThread instead of deadlocking.
type RuntimeGoroutineChecker interface {
	IsRuntimeGoroutine() bool
}

// RuntimeLoader locates and loads a runtime. path is informational.
type RuntimeLoader func() (rt ForeignRuntime, path string, err error)
