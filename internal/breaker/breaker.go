// Package breaker implements the pool's CircuitBreaker: a three-state
// (CLOSED/OPEN/HALF_OPEN) gate over connection creation, grounded on
// internal/proxy/circuit_breaker.go from the teacher, generalized to match
// spec section 4.2 exactly: a single in-flight probe per HALF_OPEN window,
// and an openDelay that starts at 30s and doubles per reopen up to a 5m
// cap (the teacher's breaker instead used a fixed Timeout and allowed
// MaxRequests probes per half-open window).
package breaker

import (
	"sync"
	"time"

	"github.com/kafitramarna/fibersql/internal/clock"
)

// State is one of CLOSED, OPEN, HALF_OPEN.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config configures the breaker's thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// CLOSED -> OPEN. Spec default: 5.
	FailureThreshold int
	// InitialOpenDelay is the backoff before the first HALF_OPEN probe.
	// Spec default: 30s.
	InitialOpenDelay time.Duration
	// MaxOpenDelay caps the doubling backoff. Spec default: 5m.
	MaxOpenDelay time.Duration
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		InitialOpenDelay: 30 * time.Second,
		MaxOpenDelay:     5 * time.Minute,
	}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg   Config
	clock clock.Clock

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	nextRetryAt         time.Time
	currentDelay        time.Duration
	halfOpenProbeInFlight bool
}

// New creates a Breaker driven by the given clock.
func New(cfg Config, c clock.Clock) *Breaker {
	return &Breaker{cfg: cfg, clock: c, state: Closed}
}

// Allow reports whether a creation attempt may proceed right now, and
// reserves the HALF_OPEN probe slot if this call is the one permitted to
// probe. Callers that get allow=false must not call the factory; callers
// that get allow=true and isProbe=true must call RecordResult exactly
// once to release the probe slot.
func (b *Breaker) Allow() (allow bool, isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch b.state {
	case Closed:
		return true, false
	case Open:
		if !now.Before(b.nextRetryAt) {
			b.state = HalfOpen
			b.halfOpenProbeInFlight = true
			return true, true
		}
		return false, false
	case HalfOpen:
		if b.halfOpenProbeInFlight {
			return false, false
		}
		b.halfOpenProbeInFlight = true
		return true, true
	default:
		return true, false
	}
}

// RecordResult reports the outcome of a creation attempt. permanent errors
// (bad credentials, unknown database) bypass failure counting entirely per
// spec section 6 — the caller should not call RecordResult for those at
// all, surfacing them directly instead, except for a HALF_OPEN probe,
// whose result is always recorded because that call frees the probe slot.
// This method counts every call as a transient-eligible attempt.
func (b *Breaker) RecordResult(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		if success {
			b.consecutiveFailures = 0
			return
		}
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.tripOpenLocked()
		}

	case HalfOpen:
		b.halfOpenProbeInFlight = false
		if success {
			b.state = Closed
			b.consecutiveFailures = 0
			b.currentDelay = 0
		} else {
			b.tripOpenLocked()
		}

	case Open:
		// A result arriving after we've already moved on (e.g. a slow
		// probe whose deadline already elapsed and was superseded).
		// Ignore: state and delay are already being tracked by the
		// current window.
	}
}

func (b *Breaker) tripOpenLocked() {
	now := b.clock.Now()
	if b.currentDelay == 0 {
		b.currentDelay = b.cfg.InitialOpenDelay
	} else {
		b.currentDelay *= 2
		if b.currentDelay > b.cfg.MaxOpenDelay {
			b.currentDelay = b.cfg.MaxOpenDelay
		}
	}
	b.state = Open
	b.openedAt = now
	b.nextRetryAt = now.Add(b.currentDelay)
	b.halfOpenProbeInFlight = false
}

// State returns the current state (thread-safe snapshot).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak (0 once closed
// after a success, or after a successful half-open probe).
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Reset forces the breaker back to CLOSED, clearing backoff state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFailures = 0
	b.currentDelay = 0
	b.halfOpenProbeInFlight = false
}
