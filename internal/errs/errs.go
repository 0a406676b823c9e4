// Package errs defines the pool's error kinds, matching spec section 7.
// Kinds that carry structured fields are concrete types so callers can use
// errors.As to inspect them instead of parsing error strings; kinds without
// fields are sentinel values matched with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

// ErrPoolClosed is returned by Acquire once the pool has started closing.
var ErrPoolClosed = errors.New("fibersql: pool closed")

// ErrAcquireTimeout is returned when a caller waited past its deadline
// without receiving a connection.
var ErrAcquireTimeout = errors.New("fibersql: acquire timeout")

// ErrCircuitOpen is returned when the circuit breaker is refusing new
// connection creations.
var ErrCircuitOpen = errors.New("fibersql: circuit breaker open")

// ErrDoubleRelease is returned when a Lease is released with a stale or
// already-released token.
var ErrDoubleRelease = errors.New("fibersql: double release")

// CreateFailed wraps a factory error, recording whether it was classified
// as permanent (bypasses circuit-breaker backoff) or transient.
type CreateFailed struct {
	Cause     error
	Permanent bool
}

func (e *CreateFailed) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("fibersql: connection create failed (%s): %v", kind, e.Cause)
}

func (e *CreateFailed) Unwrap() error { return e.Cause }

// ValidationFailed is surfaced once the bounded validation-retry budget is
// exhausted (spec section 4.1: "restart acquisition ... up to min(3,
// maxConnections) attempts before surfacing").
type ValidationFailed struct {
	Attempts  int
	LastCause error
}

func (e *ValidationFailed) Error() string {
	return fmt.Sprintf("fibersql: validation failed after %d attempt(s): %v", e.Attempts, e.LastCause)
}

func (e *ValidationFailed) Unwrap() error { return e.LastCause }

// HookPhase identifies which lifecycle hook failed.
type HookPhase string

const (
	HookPhaseBefore HookPhase = "before"
	HookPhaseAfter  HookPhase = "after"
)

// HookFailed wraps a lifecycle-hook error. The entry carrying the failed
// hook is always destroyed (outcome forced to BROKEN), per spec section 4.5.
type HookFailed struct {
	Phase HookPhase
	Cause error
}

func (e *HookFailed) Error() string {
	return fmt.Sprintf("fibersql: %s hook failed: %v", e.Phase, e.Cause)
}

func (e *HookFailed) Unwrap() error { return e.Cause }

// LeakDetected is a diagnostic-only error: it is never returned from
// Acquire/Release, only logged and counted in the leaks-detected metric.
// See internal/leak.
type LeakDetected struct {
	EntryID    int64
	Elapsed    string
	StackTrace string
}

func (e *LeakDetected) Error() string {
	return fmt.Sprintf("fibersql: possible leak on entry %d, leased for %s", e.EntryID, e.Elapsed)
}
