package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Virtual is a manually-advanced Clock for deterministic tests: idle
// eviction, max-lifetime retirement, circuit-breaker backoff and leak
// detection can all be exercised without real sleeps.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*virtualTimer
}

// NewVirtual creates a Virtual clock starting at now.
func NewVirtual(now time.Time) *Virtual {
	return &Virtual{now: now}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Advance moves the clock forward by d, firing any timers whose deadline
// has passed, in deadline order. Periodic timers are rescheduled after
// firing.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.now = target
	due := v.dueLocked(target)
	v.mu.Unlock()

	for _, t := range due {
		t.fire()
	}
}

func (v *Virtual) dueLocked(target time.Time) []*virtualTimer {
	var due []*virtualTimer
	remaining := v.waiters[:0]
	sort.Slice(v.waiters, func(i, j int) bool { return v.waiters[i].deadline.Before(v.waiters[j].deadline) })
	for _, t := range v.waiters {
		if t.stopped {
			continue
		}
		if !t.deadline.After(target) {
			due = append(due, t)
			if t.period > 0 {
				t.deadline = target.Add(t.period)
				remaining = append(remaining, t)
			}
		} else {
			remaining = append(remaining, t)
		}
	}
	v.waiters = remaining
	return due
}

func (v *Virtual) NewTicker(d time.Duration) Timer {
	t := &virtualTimer{c: make(chan time.Time, 1), period: d, parent: v}
	v.mu.Lock()
	t.deadline = v.now.Add(d)
	v.waiters = append(v.waiters, t)
	v.mu.Unlock()
	return t
}

func (v *Virtual) NewTimer(d time.Duration) Timer {
	t := &virtualTimer{c: make(chan time.Time, 1), parent: v}
	v.mu.Lock()
	t.deadline = v.now.Add(d)
	v.waiters = append(v.waiters, t)
	v.mu.Unlock()
	return t
}

// reRegister re-adds a timer to the pending list if it has fallen out of
// it (e.g. after a Stop followed by a Reset).
func (v *Virtual) reRegister(t *virtualTimer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, existing := range v.waiters {
		if existing == t {
			return
		}
	}
	v.waiters = append(v.waiters, t)
}

func (v *Virtual) Sleep(ctx context.Context, d time.Duration) error {
	t := v.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type virtualTimer struct {
	mu       sync.Mutex
	c        chan time.Time
	deadline time.Time
	period   time.Duration
	stopped  bool
	parent   *Virtual
}

func (t *virtualTimer) C() <-chan time.Time { return t.c }

func (t *virtualTimer) fire() {
	select {
	case t.c <- t.deadline:
	default:
	}
}

func (t *virtualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *virtualTimer) Reset(d time.Duration) bool {
	t.mu.Lock()
	was := !t.stopped
	t.stopped = false
	t.deadline = t.parent.Now().Add(d)
	t.mu.Unlock()
	t.parent.reRegister(t)
	return was
}
