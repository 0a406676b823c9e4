// Package leak implements the pool's LeakDetector: a one-shot timer armed
// per lease, firing a diagnostic if the lease outlives a threshold
// without being released. Grounded on the ticker/timer plumbing in
// internal/clock and the structured-diagnostic logging style of
// internal/logger/logger.go. Detection is purely observational — it never
// reclaims the entry.
package leak

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/kafitramarna/fibersql/internal/clock"
	"github.com/kafitramarna/fibersql/internal/errs"
	"github.com/kafitramarna/fibersql/internal/metrics"
)

// Detector arms and disarms per-lease timers. A zero Threshold disables
// detection entirely (Arm becomes a no-op), matching spec.md's
// `leakDetectionThreshold: off` default.
type Detector struct {
	Threshold time.Duration
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *metrics.Collector

	mu      sync.Mutex
	pending map[int64]*armedTimer
}

// armedTimer pairs a timer with a done channel waitAndFire's select also
// watches, so Disarm can tell the goroutine to exit instead of leaving it
// blocked on a timer that Stop() just silenced.
type armedTimer struct {
	timer clock.Timer
	done  chan struct{}
}

func New(threshold time.Duration, c clock.Clock, logger *slog.Logger, collector *metrics.Collector) *Detector {
	return &Detector{
		Threshold: threshold,
		Clock:     c,
		Logger:    logger,
		Metrics:   collector,
		pending:   make(map[int64]*armedTimer),
	}
}

// Arm schedules a leak diagnostic for entryID, capturing the caller's
// stack trace now so the eventual diagnostic points at the acquire site.
func (d *Detector) Arm(entryID int64, acquiredAt time.Time) {
	if d.Threshold <= 0 {
		return
	}
	stack := captureStack()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.pending[entryID]; exists {
		return
	}
	at := &armedTimer{timer: d.Clock.NewTimer(d.Threshold), done: make(chan struct{})}
	d.pending[entryID] = at
	go d.waitAndFire(entryID, acquiredAt, stack, at)
}

func (d *Detector) waitAndFire(entryID int64, acquiredAt time.Time, stack string, at *armedTimer) {
	select {
	case <-at.done:
		return
	case <-at.timer.C():
	}

	d.mu.Lock()
	_, stillPending := d.pending[entryID]
	if stillPending {
		delete(d.pending, entryID)
	}
	d.mu.Unlock()
	if !stillPending {
		return
	}

	elapsed := d.Clock.Now().Sub(acquiredAt)
	diag := &errs.LeakDetected{EntryID: entryID, Elapsed: elapsed.String(), StackTrace: stack}
	if d.Logger != nil {
		d.Logger.Warn("possible connection leak", "entry_id", entryID, "elapsed", elapsed.String(), "stack", stack)
	}
	if d.Metrics != nil {
		d.Metrics.IncLeakDetected()
	}
	_ = diag
}

// Disarm cancels the pending timer for entryID, if any, and signals its
// waitAndFire goroutine to exit rather than stay blocked past Stop().
func (d *Detector) Disarm(entryID int64) {
	if d.Threshold <= 0 {
		return
	}
	d.mu.Lock()
	at, ok := d.pending[entryID]
	if ok {
		delete(d.pending, entryID)
	}
	d.mu.Unlock()
	if ok {
		at.timer.Stop()
		close(at.done)
	}
}

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
