// Package entry implements PooledEntry: one pooled connection plus its
// bookkeeping, per spec section 3. Grounded on
// internal/proxy/backend_pool.go's BackendConn (age/idle-time tracking,
// Reset-for-reuse), generalized with the state machine and leaseToken the
// spec requires so double-release and concurrent-IN_USE bugs are caught
// rather than merely discouraged by convention.
package entry

import (
	"sync"
	"time"
)

// State is one of the five states a PooledEntry can be in.
type State int

const (
	Idle State = iota
	InUse
	Validating
	ReservedForClose
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case InUse:
		return "IN_USE"
	case Validating:
		return "VALIDATING"
	case ReservedForClose:
		return "RESERVED_FOR_CLOSE"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Conn is the minimal capability a pooled connection must expose. The
// wire-protocol codec underneath satisfies this; the pool never assumes
// anything more about what Conn actually is.
type Conn interface {
	Close() error
}

// Entry is one PooledEntry. All field access outside of the owning Core's
// critical section must go through the accessor methods, which take the
// entry's own lock — the Core promises no other fiber observes an IN_USE
// entry concurrently, but bookkeeping fields (lastReturnedAt, useCount) are
// still read by the Housekeeper from a different fiber than the current
// lease holder.
type Entry struct {
	mu sync.Mutex

	id         int64
	generation int64
	conn       Conn
	state      State

	createdAt      time.Time
	lastBorrowedAt time.Time
	lastReturnedAt time.Time
	lastValidated  time.Time
	useCount       int64

	leaseToken int64
	nextToken  int64

	markedForRetirement bool
}

// New creates an Entry around a freshly-created connection, already IDLE.
func New(id int64, generation int64, conn Conn, now time.Time) *Entry {
	return &Entry{
		id:            id,
		generation:    generation,
		conn:          conn,
		state:         Idle,
		createdAt:     now,
		lastReturnedAt: now,
		lastValidated: now,
	}
}

func (e *Entry) ID() int64         { e.mu.Lock(); defer e.mu.Unlock(); return e.id }
func (e *Entry) Generation() int64 { e.mu.Lock(); defer e.mu.Unlock(); return e.generation }
func (e *Entry) Conn() Conn        { e.mu.Lock(); defer e.mu.Unlock(); return e.conn }
func (e *Entry) State() State      { e.mu.Lock(); defer e.mu.Unlock(); return e.state }

// Age returns how long ago the underlying connection was created.
func (e *Entry) Age(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Sub(e.createdAt)
}

// IdleFor returns how long the entry has been idle (meaningless unless
// State() == Idle, but harmless to call regardless).
func (e *Entry) IdleFor(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Sub(e.lastReturnedAt)
}

// SinceLastValidated returns how long ago the entry last passed
// validation (ping or test query).
func (e *Entry) SinceLastValidated(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Sub(e.lastValidated)
}

// MarkValidated records a successful validation.
func (e *Entry) MarkValidated(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastValidated = now
}

// MarkForRetirement flags the entry so that the next Release destroys it
// even though the borrower returns it as OK (spec section 4.3, step 2:
// "IN_USE entries are flagged so that release destroys them").
func (e *Entry) MarkForRetirement() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markedForRetirement = true
}

func (e *Entry) RetirementFlagged() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.markedForRetirement
}

// Borrow transitions IDLE -> IN_USE, minting a fresh lease token. Returns
// the token the caller must present to Release.
func (e *Entry) Borrow(now time.Time) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = InUse
	e.nextToken++
	e.leaseToken = e.nextToken
	e.lastBorrowedAt = now
	e.useCount++
	return e.leaseToken
}

// BeginValidate transitions an entry to VALIDATING: IDLE -> VALIDATING on
// the keepalive path, and IN_USE -> VALIDATING on the borrow path, whenever
// validation must actually run.
func (e *Entry) BeginValidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Validating
}

// EndValidate transitions VALIDATING back to the given target state
// (typically Idle or InUse depending on who's waiting).
func (e *Entry) EndValidate(target State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = target
}

// Release validates the presented token against the current lease token
// and, if it matches, transitions IN_USE -> IDLE and clears the token.
// Returns false (without mutating state) if the token is stale — the
// Core must surface ErrDoubleRelease in that case.
func (e *Entry) Release(token int64, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != InUse || token != e.leaseToken {
		return false
	}
	e.leaseToken = 0
	e.state = Idle
	e.lastReturnedAt = now
	return true
}

// MarkClosed transitions to the terminal CLOSED state. Idempotent.
func (e *Entry) MarkClosed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Closed
}

// HandToWaiter transitions directly from IN_USE (return path) to IN_USE
// under a new lease token, without ever visiting IDLE — the direct
// hand-off spec section 4.1 requires for fairness. The caller must already
// hold the Core's lock and must already have validated ownership (the
// previous borrower's release has already happened via Release()).
func (e *Entry) HandToWaiter(now time.Time) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = InUse
	e.nextToken++
	e.leaseToken = e.nextToken
	e.lastBorrowedAt = now
	e.useCount++
	return e.leaseToken
}

// Snapshot is a point-in-time, lock-free copy of an entry's observable
// fields, used by Pool.Snapshot().
type Snapshot struct {
	ID         int64
	Generation int64
	State      State
	CreatedAt  time.Time
	UseCount   int64
}

func (e *Entry) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		ID:         e.id,
		Generation: e.generation,
		State:      e.state,
		CreatedAt:  e.createdAt,
		UseCount:   e.useCount,
	}
}
