package pool

import (
	"context"
	"errors"
	"time"

	"github.com/kafitramarna/fibersql/internal/entry"
	"github.com/kafitramarna/fibersql/internal/errs"
	"github.com/kafitramarna/fibersql/internal/validator"
	"github.com/kafitramarna/fibersql/internal/waiter"
)

// maxValidationRetries bounds the bounded-retry loop spec.md section 4.1
// describes: "restart acquisition ... up to min(3, maxConnections)
// attempts before surfacing ValidationFailed".
func (p *Pool[C]) maxValidationRetries() int {
	if p.cfg.MaxConnections < 3 {
		return p.cfg.MaxConnections
	}
	return 3
}

// Acquire returns a validated, exclusively owned connection, running the
// before-hook inside the lease boundary.
func (p *Pool[C]) Acquire(ctx context.Context) (*Lease[C], error) {
	var lastValidationErr error
	attempts := 0
	maxAttempts := p.maxValidationRetries()
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempts < maxAttempts {
		attempts++
		start := p.clock.Now()
		g, err := p.decide(ctx)
		if err != nil {
			return nil, err
		}

		if ok, validationErr := p.validateGrant(ctx, g); !ok {
			lastValidationErr = validationErr
			continue
		}

		p.metrics.IncAcquired()
		p.metrics.ObserveAcquireDuration(p.clock.Now().Sub(start))
		p.leaks.Arm(g.entry.ID(), p.clock.Now())

		return p.runBeforeHook(ctx, g)
	}
	return nil, &errs.ValidationFailed{Attempts: attempts, LastCause: lastValidationErr}
}

// decide implements the acquisition decision algorithm: idle reuse, fresh
// creation, or parking a waiter.
func (p *Pool[C]) decide(ctx context.Context) (grant, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return grant{}, errs.ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		id := p.idle[n-1]
		p.idle = p.idle[:n-1]
		e := p.entries[id]
		now := p.clock.Now()
		token := e.Borrow(now)
		p.mu.Unlock()
		return grant{entry: e, token: token}, nil
	}

	if p.total < p.cfg.MaxConnections {
		if allow, isProbe := p.breaker.Allow(); allow {
			p.total++
			p.creating++
			p.mu.Unlock()
			return p.create(ctx, isProbe)
		}
		p.mu.Unlock()
		return grant{}, errs.ErrCircuitOpen
	}

	if p.cfg.ConnectionTimeout <= 0 {
		// A zero connectionTimeout allows no wait: a full pool fails at once.
		p.mu.Unlock()
		p.metrics.IncAcquireTimeout()
		return grant{}, errs.ErrAcquireTimeout
	}

	w := p.waiters.Push()
	p.mu.Unlock()
	p.metrics.SetWaiting(p.waiters.Len())

	return p.awaitWaiter(ctx, w)
}

func (p *Pool[C]) create(ctx context.Context, isProbe bool) (grant, error) {
	conn, err := p.factory.Dial(ctx)
	if err != nil {
		var cf *errs.CreateFailed
		permanent := errors.As(err, &cf) && cf.Permanent
		// A HALF_OPEN probe always reports back so its probe slot is freed.
		if !permanent || isProbe {
			p.breaker.RecordResult(false)
		}
		p.mu.Lock()
		p.total--
		p.creating--
		p.mu.Unlock()
		return grant{}, err
	}
	p.breaker.RecordResult(true)
	_ = isProbe

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	now := p.clock.Now()
	e := entry.New(id, 1, conn, now)
	token := e.Borrow(now)
	e.MarkValidated(now)
	p.entries[id] = e
	p.creating--
	p.mu.Unlock()

	p.metrics.IncCreated()
	p.totalCreated++

	return grant{entry: e, token: token}, nil
}

// awaitWaiter blocks until the waiter is fulfilled, the pool's
// connectionTimeout elapses, or ctx is canceled — whichever comes first.
// A grant that arrives after cancellation is never leaked: it is released
// back to the pool with outcome OK before the cancellation error returns.
func (p *Pool[C]) awaitWaiter(ctx context.Context, w *waiter.Waiter[grant]) (grant, error) {
	var timerCh <-chan time.Time
	if p.cfg.ConnectionTimeout > 0 {
		timer := p.clock.NewTimer(p.cfg.ConnectionTimeout)
		defer timer.Stop()
		timerCh = timer.C()
	}

	select {
	case res := <-w.Chan():
		return res.Conn, res.Err

	case <-timerCh:
		p.metrics.IncAcquireTimeout()
		p.waiters.Cancel(w, errs.ErrAcquireTimeout)
		res := w.Recv()
		if res.Err == nil {
			p.releaseGrant(res.Conn, OK)
			return grant{}, errs.ErrAcquireTimeout
		}
		return grant{}, errs.ErrAcquireTimeout

	case <-ctx.Done():
		p.waiters.Cancel(w, ctx.Err())
		res := w.Recv()
		if res.Err == nil {
			p.releaseGrant(res.Conn, OK)
		}
		return grant{}, ctx.Err()
	}
}

// validateGrant applies the fast-path skip plus bounded validation step.
// On failure it destroys the entry and reports false so the caller
// restarts acquisition.
func (p *Pool[C]) validateGrant(ctx context.Context, g grant) (bool, error) {
	now := p.clock.Now()
	if p.cfg.KeepaliveTime > 0 && g.entry.SinceLastValidated(now) < p.cfg.KeepaliveTime {
		return true, nil
	}

	g.entry.BeginValidate()
	vctx := ctx
	var cancel context.CancelFunc
	if p.cfg.ValidationTimeout > 0 {
		vctx, cancel = context.WithTimeout(ctx, p.cfg.ValidationTimeout)
		defer cancel()
	}

	pinger, ok := g.entry.Conn().(validator.Pinger)
	if !ok {
		// The connection type doesn't support validation at all; treat it
		// as always valid rather than destroying a perfectly live entry.
		g.entry.MarkValidated(p.clock.Now())
		g.entry.EndValidate(entry.InUse)
		return true, nil
	}
	err := p.validator.Validate(vctx, pinger)
	if err == nil {
		g.entry.MarkValidated(p.clock.Now())
		g.entry.EndValidate(entry.InUse)
		return true, nil
	}

	p.metrics.IncValidationFailure()
	p.destroyEntry(g.entry)
	return false, err
}
