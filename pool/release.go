package pool

import (
	"context"

	"github.com/kafitramarna/fibersql/internal/entry"
	"github.com/kafitramarna/fibersql/internal/errs"
)

// runBeforeHook runs the configured BeforeHook (if any) inside the lease
// boundary and assembles the Lease the caller receives. A hook failure
// destroys the entry and returns the wrapped error, per spec.md section 4.5.
func (p *Pool[C]) runBeforeHook(ctx context.Context, g grant) (*Lease[C], error) {
	var hookCtx C
	if p.before != nil {
		var err error
		hookCtx, err = p.before(ctx, g.entry.Conn())
		if err != nil {
			p.leaks.Disarm(g.entry.ID())
			p.destroyEntry(g.entry)
			return nil, &errs.HookFailed{Phase: errs.HookPhaseBefore, Cause: err}
		}
	}

	p.mu.Lock()
	p.hookCtxs[g.entry.ID()] = hookCtx
	p.mu.Unlock()

	return &Lease[C]{pool: p, entryID: g.entry.ID(), token: g.token, conn: g.entry.Conn(), hookCtx: hookCtx}, nil
}

// Release returns a leased connection to the pool. outcome = Broken
// forces destruction regardless of the entry's age or the pool's state.
func (l *Lease[C]) Release(ctx context.Context, outcome Outcome) error {
	return l.pool.release(ctx, l.entryID, l.token, outcome)
}

func (p *Pool[C]) release(ctx context.Context, entryID, token int64, outcome Outcome) error {
	p.mu.Lock()
	e, exists := p.entries[entryID]
	if !exists {
		p.mu.Unlock()
		return errs.ErrDoubleRelease
	}
	hookCtx := p.hookCtxs[entryID]
	p.mu.Unlock()

	if p.after != nil {
		if err := p.after(ctx, hookCtx, e.Conn()); err != nil {
			p.leaks.Disarm(entryID)
			if !p.releaseCore(e, token, Broken) {
				return errs.ErrDoubleRelease
			}
			return &errs.HookFailed{Phase: errs.HookPhaseAfter, Cause: err}
		}
	}

	p.leaks.Disarm(entryID)
	p.metrics.IncReleased()
	if !p.releaseCore(e, token, outcome) {
		return errs.ErrDoubleRelease
	}
	return nil
}

// releaseGrant releases a grant the caller never actually handed to a
// Lease (the ctx-canceled-after-grant path in awaitWaiter, and the
// best-effort replenishment path). No hooks run: the caller's code never
// got to see the connection.
func (p *Pool[C]) releaseGrant(g grant, outcome Outcome) {
	p.releaseCore(g.entry, g.token, outcome)
}

// releaseCore implements the release algorithm of spec.md section 4.1.
// Returns false if the token didn't match (double release).
func (p *Pool[C]) releaseCore(e *entry.Entry, token int64, outcome Outcome) bool {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !e.Release(token, now) {
		return false
	}

	retire := outcome == Broken ||
		(p.cfg.MaxLifetime > 0 && e.Age(now) >= p.cfg.MaxLifetime) ||
		e.RetirementFlagged() ||
		p.closed

	if retire {
		p.destroyEntryLocked(e)
		if !p.closed && p.total < p.target {
			go p.maybeReplenish()
		}
		return true
	}

	handToken := e.HandToWaiter(now)
	if p.waiters.Fulfill(grant{entry: e, token: handToken}) {
		p.metrics.SetWaiting(p.waiters.Len())
		return true
	}
	// No waiter was actually parked (or one raced away via cancellation
	// between the caller's decision to hand off and this Fulfill call):
	// hand the token back to idle instead of leaking it as ownerless IN_USE.
	e.Release(handToken, now)
	p.idle = append(p.idle, e.ID())
	p.metrics.SetIdle(len(p.idle))
	return true
}

// destroyEntry locks, removes, and destroys e.
func (p *Pool[C]) destroyEntry(e *entry.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyEntryLocked(e)
}

func (p *Pool[C]) destroyEntryLocked(e *entry.Entry) {
	delete(p.entries, e.ID())
	delete(p.hookCtxs, e.ID())
	e.MarkClosed()
	p.total--
	p.totalDestroyed++
	p.metrics.IncDestroyed()
	conn := e.Conn()
	go func() { _ = conn.Close() }()
}

// maybeReplenish attempts to create one replacement connection when
// total has dropped below the adaptive target (never lower than
// minConnections) following a destruction. It is
// best-effort: failures are logged, not surfaced, since there is no
// caller waiting on this particular creation.
func (p *Pool[C]) maybeReplenish() {
	p.mu.Lock()
	if p.closed || p.total >= p.target || p.total >= p.cfg.MaxConnections {
		p.mu.Unlock()
		return
	}
	allow, isProbe := p.breaker.Allow()
	if !allow {
		p.mu.Unlock()
		return
	}
	p.total++
	p.creating++
	p.mu.Unlock()

	g, err := p.create(context.Background(), isProbe)
	if err != nil {
		p.logger.Warn("replenish connection failed", "error", err)
		return
	}
	p.releaseGrant(g, OK)
}
