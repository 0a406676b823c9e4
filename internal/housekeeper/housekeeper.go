// Package housekeeper implements the pool's background maintenance loop:
// idle eviction, max-lifetime retirement (both folded into EvictIdle on
// the pool side), keepalive validation, and adaptive sizing. Grounded on
// internal/proxy/backend_pool.go's cleanupWorker (ticker-driven sweep,
// launched once at pool construction) and
// JeelKantaria-db-bouncer/internal/pool/pool.go's reapLoop (oldest-first
// eviction that never drops below a configured floor).
package housekeeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/kafitramarna/fibersql/internal/clock"
	"github.com/kafitramarna/fibersql/internal/metrics"
)

// Pool is the subset of *pool.Pool[C]'s method set the Housekeeper
// drives. Any *pool.Pool[C], for any hook-context type C, satisfies this
// interface: none of these methods mention the pool's generic parameter.
type Pool interface {
	Waiting() int
	EvictIdle(now time.Time) int
	ValidateKeepalive(ctx context.Context) int
	TargetTotal() int
	SetTarget(n int)
	MinMax() (min int, max int)
}

// Housekeeper runs EvictIdle, ValidateKeepalive, and the adaptive-sizing
// decision on a fixed interval until its context is canceled.
type Housekeeper struct {
	pool     Pool
	clock    clock.Clock
	logger   *slog.Logger
	interval time.Duration

	waiterEWMA *metrics.EWMA
}

// New creates a Housekeeper. interval is the maintenance tick period;
// spec.md's documented default is 30s (matching the teacher's
// cleanupWorker ticker).
func New(p Pool, c clock.Clock, logger *slog.Logger, interval time.Duration) *Housekeeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Housekeeper{
		pool:       p,
		clock:      c,
		logger:     logger,
		interval:   interval,
		waiterEWMA: metrics.NewEWMA(2*time.Minute, interval),
	}
}

// Run blocks, ticking maintenance until ctx is done. Intended to be
// launched as `go hk.Run(ctx)` alongside the pool's own lifetime.
func (h *Housekeeper) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			h.tick(ctx)
		}
	}
}

func (h *Housekeeper) tick(ctx context.Context) {
	now := h.clock.Now()

	evicted := h.pool.EvictIdle(now)
	validated := h.pool.ValidateKeepalive(ctx)
	if evicted > 0 || validated > 0 {
		h.logger.Debug("housekeeper sweep", "evicted", evicted, "revalidated", validated)
	}

	h.adjustTarget()
}

// adjustTarget raises the adaptive target when the smoothed waiter count
// is consistently above zero and lowers it when consistently at zero,
// always clamped to [min, max] (spec's resolution: adaptive sizing
// clamps to the static minimum rather than replacing it).
func (h *Housekeeper) adjustTarget() {
	h.waiterEWMA.Observe(float64(h.pool.Waiting()))
	load := h.waiterEWMA.Value()

	min, max := h.pool.MinMax()
	target := h.pool.TargetTotal()

	switch {
	case load > 0.5 && target < max:
		h.pool.SetTarget(target + 1)
	case load < 0.05 && target > min:
		h.pool.SetTarget(target - 1)
	}
}
