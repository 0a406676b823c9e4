// Package pool implements the fiber-optimized MySQL connection pool: a
// bounded set of live connections handed out to concurrent callers under
// configurable wait and lifetime policies, validated and recycled
// transparently, guarded against cascading failure by a circuit breaker.
//
// Structurally grounded on internal/proxy/backend_pool.go's BackendPool
// (a map + slice of state under one mutex, Stats() returning a snapshot)
// and JeelKantaria-db-bouncer/internal/pool/pool.go's TenantPool (idle
// LIFO slice, direct waiter hand-off on return), merged into the single
// stricter state machine this package's invariants demand: a central
// entries map keyed by stable id, strict-FIFO waiter hand-off instead of
// sync.Cond.Broadcast.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kafitramarna/fibersql/internal/breaker"
	"github.com/kafitramarna/fibersql/internal/clock"
	"github.com/kafitramarna/fibersql/internal/entry"
	"github.com/kafitramarna/fibersql/internal/leak"
	"github.com/kafitramarna/fibersql/internal/logger"
	"github.com/kafitramarna/fibersql/internal/metrics"
	"github.com/kafitramarna/fibersql/internal/validator"
	"github.com/kafitramarna/fibersql/internal/waiter"
)

// Conn is the capability a pooled connection exposes to the pool core
// itself. The richer Pinger/Querier capabilities used by validation live
// in internal/validator and are asserted via type switch at the point
// validation actually runs.
type Conn = entry.Conn

// ConnectionFactory dials and authenticates one new connection. The
// default implementation is internal/mysqlconn.Factory; tests supply a
// fake.
type ConnectionFactory interface {
	Dial(ctx context.Context) (Conn, error)
}

// Outcome is the caller's verdict on a leased connection at release time.
type Outcome int

const (
	OK Outcome = iota
	Broken
)

// Config holds the pool's tunable policy, matching spec.md section 6's
// option table. Construction-time validation lives in Validate.
type Config struct {
	MinConnections         int
	MaxConnections         int
	ConnectionTimeout      time.Duration
	IdleTimeout            time.Duration
	MaxLifetime            time.Duration
	ValidationTimeout      time.Duration
	KeepaliveTime          time.Duration
	LeakDetectionThreshold time.Duration
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:    10,
		ConnectionTimeout: 30 * time.Second,
		IdleTimeout:       10 * time.Minute,
		MaxLifetime:       30 * time.Minute,
		ValidationTimeout: 5 * time.Second,
		KeepaliveTime:     2 * time.Minute,
	}
}

// Validate runs the preflight checks spec.md section 6 requires.
func (c Config) Validate() error {
	if c.MinConnections < 0 {
		return fmt.Errorf("pool: minConnections must be >= 0")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("pool: maxConnections must be >= 1")
	}
	if c.MinConnections > c.MaxConnections {
		return fmt.Errorf("pool: minConnections (%d) must be <= maxConnections (%d)", c.MinConnections, c.MaxConnections)
	}
	if c.MaxLifetime > 0 && c.KeepaliveTime > 0 && c.MaxLifetime <= c.KeepaliveTime {
		return fmt.Errorf("pool: maxLifetime (%s) must be > keepaliveTime (%s)", c.MaxLifetime, c.KeepaliveTime)
	}
	if c.ConnectionTimeout < 0 || c.IdleTimeout < 0 || c.ValidationTimeout < 0 || c.KeepaliveTime < 0 {
		return fmt.Errorf("pool: timeouts must be non-negative")
	}
	return nil
}

// BeforeHook runs inside the lease boundary before the caller gets the
// connection. Its return value is stored alongside the entry and handed
// to the matching AfterHook at release time.
type BeforeHook[C any] func(ctx context.Context, conn Conn) (C, error)

// AfterHook runs just before release. A returned error forces the
// outcome to Broken regardless of what the caller requested.
type AfterHook[C any] func(ctx context.Context, hookCtx C, conn Conn) error

type grant struct {
	entry *entry.Entry
	token int64
}

// Pool is the generic pool core. C is the lifecycle hook's user context
// type (spec.md section 4.5); callers who need no hook context should
// instantiate Pool[struct{}].
type Pool[C any] struct {
	cfg       Config
	factory   ConnectionFactory
	validator validator.Validator
	breaker   *breaker.Breaker
	clock     clock.Clock
	metrics   *metrics.Collector
	logger    *slog.Logger
	leaks     *leak.Detector
	before    BeforeHook[C]
	after     AfterHook[C]

	mu       sync.Mutex
	entries  map[int64]*entry.Entry
	hookCtxs map[int64]C
	idle     []int64
	waiters  *waiter.Queue[grant]
	nextID   int64
	total    int
	creating int
	closed   bool
	// target is the Housekeeper's adaptively-computed desired total,
	// clamped to [MinConnections, MaxConnections]. Starts pinned at
	// MinConnections until the Housekeeper observes load and adjusts it.
	target int

	totalCreated   int64
	totalDestroyed int64
}

// Option configures a Pool at construction time.
type Option[C any] func(*Pool[C])

func WithValidator[C any](v validator.Validator) Option[C] {
	return func(p *Pool[C]) { p.validator = v }
}

func WithClock[C any](c clock.Clock) Option[C] {
	return func(p *Pool[C]) { p.clock = c }
}

func WithMetrics[C any](m *metrics.Collector) Option[C] {
	return func(p *Pool[C]) { p.metrics = m }
}

func WithLogger[C any](l *slog.Logger) Option[C] {
	return func(p *Pool[C]) { p.logger = l }
}

func WithBreakerConfig[C any](cfg breaker.Config) Option[C] {
	return func(p *Pool[C]) { p.breaker = breaker.New(cfg, p.clock) }
}

func WithHooks[C any](before BeforeHook[C], after AfterHook[C]) Option[C] {
	return func(p *Pool[C]) { p.before = before; p.after = after }
}

// New constructs a Pool. It does not pre-create any connections, and
// nothing fills the pool up to minConnections ahead of demand: Acquire
// creates connections as needed, and after a destruction maybeReplenish
// creates one replacement when total has fallen below the adaptive target.
func New[C any](cfg Config, factory ConnectionFactory, opts ...Option[C]) (*Pool[C], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool[C]{
		cfg:       cfg,
		factory:   factory,
		validator: validator.PingValidator{},
		clock:     clock.Real{},
		entries:   make(map[int64]*entry.Entry),
		hookCtxs:  make(map[int64]C),
		waiters:   waiter.New[grant](),
		target:    cfg.MinConnections,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breaker == nil {
		p.breaker = breaker.New(breaker.DefaultConfig(), p.clock)
	}
	if p.metrics == nil {
		p.metrics = metrics.New("default")
	}
	if p.logger == nil {
		p.logger = logger.Named(nil, "pool")
	}
	p.leaks = leak.New(cfg.LeakDetectionThreshold, p.clock, p.logger, p.metrics)

	return p, nil
}

// Lease is the value-only handle returned by Acquire. Releasing it
// asserts token == entry.leaseToken before returning the entry, exactly
// as spec.md section 3 requires.
type Lease[C any] struct {
	pool    *Pool[C]
	entryID int64
	token   int64
	conn    Conn
	hookCtx C
}

// Conn returns the underlying connection. Its concrete type is whatever
// the ConnectionFactory produced.
func (l *Lease[C]) Conn() Conn { return l.conn }

// HookContext returns the value the BeforeHook produced for this lease.
func (l *Lease[C]) HookContext() C { return l.hookCtx }
