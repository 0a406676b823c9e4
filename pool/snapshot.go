package pool

import (
	"context"
	"time"

	"github.com/kafitramarna/fibersql/internal/entry"
	"github.com/kafitramarna/fibersql/internal/errs"
)

// EntrySnapshot is one entry's observable state, part of Snapshot.
type EntrySnapshot = entry.Snapshot

// Snapshot is a point-in-time view of the pool: aggregate counts plus
// every entry's individual state, matching spec.md section 4.1's
// `snapshot()` contract.
type Snapshot struct {
	Total          int
	Idle           int
	InUse          int
	Waiting        int
	Creating       int
	Closed         bool
	TotalCreated   int64
	TotalDestroyed int64
	Entries        []EntrySnapshot
}

// Snapshot returns a consistent view of the pool's current state.
func (p *Pool[C]) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := make([]EntrySnapshot, 0, len(p.entries))
	inUse := 0
	for _, e := range p.entries {
		s := e.Snapshot()
		entries = append(entries, s)
		if s.State == entry.InUse {
			inUse++
		}
	}

	return Snapshot{
		Total:          p.total,
		Idle:           len(p.idle),
		InUse:          inUse,
		Waiting:        p.waiters.Len(),
		Creating:       p.creating,
		Closed:         p.closed,
		TotalCreated:   p.totalCreated,
		TotalDestroyed: p.totalDestroyed,
		Entries:        entries,
	}
}

// Close rejects new acquires, waits (up to drainDeadline, honored via
// ctx) for in-use entries to be released, destroys every remaining
// entry, and drains any parked waiters with ErrPoolClosed. Idempotent.
func (p *Pool[C]) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	p.waiters.DrainWithError(errs.ErrPoolClosed)

	for _, id := range idle {
		p.mu.Lock()
		e, ok := p.entries[id]
		p.mu.Unlock()
		if ok {
			p.destroyEntry(e)
		}
	}

	poll := p.clock.NewTicker(50 * time.Millisecond)
	defer poll.Stop()
	for {
		p.mu.Lock()
		remaining := len(p.entries)
		p.mu.Unlock()
		if remaining == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			p.destroyAllRemaining()
			return ctx.Err()
		case <-poll.C():
		}
	}
}

func (p *Pool[C]) destroyAllRemaining() {
	p.mu.Lock()
	ids := make([]*entry.Entry, 0, len(p.entries))
	for _, e := range p.entries {
		ids = append(ids, e)
	}
	p.mu.Unlock()
	for _, e := range ids {
		p.destroyEntry(e)
	}
}
