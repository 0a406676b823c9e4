// Package clock abstracts monotonic time and scheduled ticks behind an
// interface so the pool, housekeeper, circuit breaker and leak detector
// never call time.Now/time.NewTicker directly. Grounded on the
// ticker/timer idioms used throughout the corpus (cleanup workers, health
// checkers, AfterFunc-based wakeups) but made swappable for deterministic
// tests via Virtual.
package clock

import (
	"context"
	"time"
)

// Timer is a cancellable, possibly-repeating notification source.
type Timer interface {
	// C delivers a tick each time the timer fires.
	C() <-chan time.Time
	// Stop prevents future ticks. Safe to call more than once.
	Stop() bool
	// Reset reschedules the timer to fire after d.
	Reset(d time.Duration) bool
}

// Clock is the capability the pool subsystem is constructed with.
type Clock interface {
	Now() time.Time
	// NewTicker returns a Timer that fires repeatedly every d.
	NewTicker(d time.Duration) Timer
	// NewTimer returns a Timer that fires once after d.
	NewTimer(d time.Duration) Timer
	// Sleep blocks until d elapses or ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the production Clock, backed by the time package.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) NewTicker(d time.Duration) Timer {
	t := time.NewTicker(d)
	return &realTimer{c: t.C, stop: t.Stop, reset: t.Reset}
}

func (Real) NewTimer(d time.Duration) Timer {
	t := time.NewTimer(d)
	return &realTimer{c: t.C, stop: t.Stop, reset: t.Reset}
}

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type realTimer struct {
	c     <-chan time.Time
	stop  func() bool
	reset func(time.Duration) bool
}

func (t *realTimer) C() <-chan time.Time       { return t.c }
func (t *realTimer) Stop() bool                { return t.stop() }
func (t *realTimer) Reset(d time.Duration) bool { return t.reset(d) }
