package pool

import (
	"context"
	"time"

	"github.com/kafitramarna/fibersql/internal/entry"
	"github.com/kafitramarna/fibersql/internal/validator"
)

// EvictIdle destroys idle entries that have exceeded idleTimeout or
// maxLifetime, never shrinking total below the current adaptive target.
// Grounded on internal/proxy/backend_pool.go's cleanupStaleConnections and
// JeelKantaria-db-bouncer's reapIdle, both oldest-first sweeps over the
// idle set. Called by internal/housekeeper on its maintenance tick.
func (p *Pool[C]) EvictIdle(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0
	}

	kept := p.idle[:0:0]
	evicted := 0
	for _, id := range p.idle {
		e, ok := p.entries[id]
		if !ok {
			continue
		}
		stale := (p.cfg.IdleTimeout > 0 && e.IdleFor(now) >= p.cfg.IdleTimeout) ||
			(p.cfg.MaxLifetime > 0 && e.Age(now) >= p.cfg.MaxLifetime)
		if stale && p.total > p.target {
			p.destroyEntryLocked(e)
			evicted++
			continue
		}
		kept = append(kept, id)
	}
	p.idle = kept
	p.metrics.SetIdle(len(p.idle))
	return evicted
}

// ValidateKeepalive runs the validator against every idle entry whose
// keepaliveTime has elapsed since its last successful validation, pulling
// each one out of the idle set for the duration of its own check so a
// concurrent Acquire can never hand out a connection mid-validation.
// Entries that fail are destroyed (and trigger best-effort replenishment
// if total has dropped below the adaptive target); entries that pass are
// returned to idle. Grounded on the same cleanupStaleConnections sweep as
// EvictIdle, generalized to run the pool's own Validator instead of the
// teacher's inline IsHealthy peek.
func (p *Pool[C]) ValidateKeepalive(ctx context.Context) int {
	if p.cfg.KeepaliveTime <= 0 {
		return 0
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	now := p.clock.Now()
	var candidates []int64
	for _, id := range p.idle {
		if e, ok := p.entries[id]; ok && e.SinceLastValidated(now) >= p.cfg.KeepaliveTime {
			candidates = append(candidates, id)
		}
	}
	p.mu.Unlock()

	validated := 0
	for _, id := range candidates {
		p.mu.Lock()
		e, ok := p.entries[id]
		if !ok {
			p.mu.Unlock()
			continue
		}
		idx := -1
		for i, iid := range p.idle {
			if iid == id {
				idx = i
				break
			}
		}
		if idx == -1 {
			// Already reused by a concurrent Acquire; nothing to validate.
			p.mu.Unlock()
			continue
		}
		p.idle = append(p.idle[:idx], p.idle[idx+1:]...)
		e.BeginValidate()
		p.mu.Unlock()

		vctx := ctx
		var cancel context.CancelFunc
		if p.cfg.ValidationTimeout > 0 {
			vctx, cancel = context.WithTimeout(ctx, p.cfg.ValidationTimeout)
		}
		var verr error
		if pinger, ok := e.Conn().(validator.Pinger); ok {
			verr = p.validator.Validate(vctx, pinger)
		}
		if cancel != nil {
			cancel()
		}

		p.mu.Lock()
		if verr != nil {
			p.metrics.IncValidationFailure()
			p.destroyEntryLocked(e)
			needsReplenish := !p.closed && p.total < p.target
			p.mu.Unlock()
			if needsReplenish {
				go p.maybeReplenish()
			}
			continue
		}
		e.MarkValidated(p.clock.Now())
		e.EndValidate(entry.Idle)
		p.idle = append(p.idle, id)
		validated++
		p.mu.Unlock()
	}
	return validated
}

// TargetTotal returns the Housekeeper's current adaptively-computed
// desired total connection count.
func (p *Pool[C]) TargetTotal() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// SetTarget updates the adaptive target, clamped to
// [minConnections, maxConnections] per spec's resolution of the
// adaptive-sizing-vs-static-minimum open question.
func (p *Pool[C]) SetTarget(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < p.cfg.MinConnections {
		n = p.cfg.MinConnections
	}
	if n > p.cfg.MaxConnections {
		n = p.cfg.MaxConnections
	}
	p.target = n
}

// MinMax returns the pool's static configured bounds.
func (p *Pool[C]) MinMax() (min int, max int) {
	return p.cfg.MinConnections, p.cfg.MaxConnections
}

// Waiting reports how many callers are currently parked in Acquire. A
// thin accessor so internal/housekeeper can feed its waiter-load EWMA
// without needing the full Snapshot (and without importing this
// package's Snapshot type into its own, pool-agnostic interface).
func (p *Pool[C]) Waiting() int {
	return p.waiters.Len()
}
