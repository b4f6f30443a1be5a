package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPollInterval is how often AwaitCompletion services its blocking
// callback while waiting.
const DefaultPollInterval = 50 * time.Millisecond

// ErrNoActiveCycle is returned when awaiting a signal that was never reset.
var ErrNoActiveCycle = errors.New("bridge: completion signal has no active cycle")

// CompletionToken identifies one Reset/Complete cycle of a CompletionSignal.
type CompletionToken struct {
	id uuid.UUID
}

func (t CompletionToken) String() string {
	return t.id.String()
}

// IsZero reports whether the token was never issued.
func (t CompletionToken) IsZero() bool {
	return t.id == uuid.Nil
}

// CompletionSignal is a single-slot, reusable result register for operations
// whose result is reported later by a separate runtime-side callback.
//
// One cycle is: Reset, submit the starting task, Complete (from the runtime),
// AwaitCompletion (from the caller). Only one cycle may be in flight.
type CompletionSignal struct {
	mu        sync.Mutex
	token     CompletionToken
	inFlight  bool
	completed bool
	value     any
	err       error
	event     chan struct{}

	logger Logger
}

// NewCompletionSignal creates an idle signal.
func NewCompletionSignal(logger Logger) *CompletionSignal {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &CompletionSignal{logger: logger}
}

// Reset clears the slot and opens a new cycle. It fails with ErrSignalBusy
// while a previous cycle has not been awaited, and never overwrites it.
func (s *CompletionSignal) Reset() (CompletionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return CompletionToken{}, ErrSignalBusy
	}
	s.token = CompletionToken{id: uuid.New()}
	s.inFlight = true
	s.completed = false
	s.value = nil
	s.err = nil
	s.event = make(chan struct{})
	return s.token, nil
}

// Complete writes the result of the active cycle.
func (s *CompletionSignal) Complete(value any, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completeLocked(s.token, value, err)
}

// CompleteToken writes the result only if token names the active cycle.
// Completions that outlive their cycle get ErrStaleCompletion.
func (s *CompletionSignal) CompleteToken(token CompletionToken, value any, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completeLocked(token, value, err)
}

// Fail completes the active cycle with err.
func (s *CompletionSignal) Fail(err error) error {
	return s.Complete(nil, err)
}

func (s *CompletionSignal) completeLocked(token CompletionToken, value any, err error) error {
	// A finished cycle keeps its token, so a repeat is still a double.
	if s.completed && token == s.token {
		s.logger.Error("completion signal completed twice", F("token", token.String()))
		return ErrDoubleCompletion
	}
	if !s.inFlight || token != s.token {
		s.logger.Warn("completion for inactive cycle dropped", F("token", token.String()))
		return ErrStaleCompletion
	}
	s.value = value
	s.err = err
	s.completed = true
	close(s.event)
	return nil
}

// InFlight reports whether a cycle is open.
func (s *CompletionSignal) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// AwaitCompletion waits for the active cycle to complete. Each iteration runs
// blockingCallback (if any) on the calling goroutine, then waits up to
// pollInterval for the event. There is no timeout at this layer: ctx is the
// caller's own deadline. Giving up closes the cycle, so a late completion is
// rejected as stale instead of leaking into the next one.
//
// The carried error, if any, is returned as-is.
func (s *CompletionSignal) AwaitCompletion(ctx context.Context, pollInterval time.Duration, blockingCallback func()) (any, error) {
	s.mu.Lock()
	if !s.inFlight {
		s.mu.Unlock()
		return nil, ErrNoActiveCycle
	}
	event := s.event
	token := s.token
	s.mu.Unlock()

	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if blockingCallback != nil {
			blockingCallback()
		}

		select {
		case <-event:
			return s.finish(token)
		case <-ticker.C:
		case <-ctx.Done():
			s.abandon(token)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
			}
			return nil, ctx.Err()
		}
	}
}

func (s *CompletionSignal) finish(token CompletionToken) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, err := s.value, s.err
	if s.token == token {
		s.inFlight = false
	}
	return value, err
}

func (s *CompletionSignal) abandon(token CompletionToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == token && s.inFlight {
		s.inFlight = false
		s.logger.Warn("completion cycle abandoned by caller", F("token", token.String()))
	}
}

// =============================================================================
// Context helper
// =============================================================================

type completionTokenKeyType struct{}

var completionTokenKey completionTokenKeyType

func withCompletionToken(ctx context.Context, token CompletionToken) context.Context {
	return context.WithValue(ctx, completionTokenKey, token)
}

// CompletionTokenFromContext returns the token of the external completion
// cycle a starting task belongs to.
func CompletionTokenFromContext(ctx context.Context) (CompletionToken, bool) {
	token, ok := ctx.Value(completionTokenKey).(CompletionToken)
	return token, ok
}
