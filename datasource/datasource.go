// Package datasource is fibersql's main entry point: Open a DataSource
// from a config.Config, Acquire leased connections from the underlying
// fiber-optimized pool, or use WithConnection for guaranteed release.
// Grounded on internal/database/pool.go's Pool wrapper shape
// (Query/QueryRow/Exec/Begin/Health/Stats/GetDB over *sql.DB), reworked
// here to return leased connections from the pool package instead of
// delegating to database/sql — this library owns the wire protocol, it
// doesn't sit on top of another driver.
package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kafitramarna/fibersql/config"
	"github.com/kafitramarna/fibersql/internal/clock"
	"github.com/kafitramarna/fibersql/internal/housekeeper"
	"github.com/kafitramarna/fibersql/internal/logger"
	"github.com/kafitramarna/fibersql/internal/metrics"
	"github.com/kafitramarna/fibersql/internal/mysqlconn"
	"github.com/kafitramarna/fibersql/internal/poolconfig"
	"github.com/kafitramarna/fibersql/pool"
)

// HookContext is the lifecycle-hook context type DataSource's pool is
// instantiated with. Callers who want richer per-lease state should
// construct pool.Pool[C] directly via pool.New instead of Open.
type HookContext = struct{}

// DataSource is the facade applications hold onto for the lifetime of a
// process.
type DataSource struct {
	pool      *pool.Pool[HookContext]
	cfg       config.Config
	logger    *slog.Logger
	collector *metrics.Collector
	cancel    context.CancelFunc
}

// Option configures Open beyond what config.Config covers.
type Option func(*dsOptions)

type dsOptions struct {
	logger *slog.Logger
}

func WithLogger(l *slog.Logger) Option {
	return func(o *dsOptions) { o.logger = l }
}

// Open dials nothing eagerly: it constructs the pool and starts the
// Housekeeper, matching spec.md's "actual connection creation stays
// lazy" requirement. The first real dial happens on the first Acquire.
func Open(cfg config.Config, opts ...Option) (*DataSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &dsOptions{}
	for _, opt := range opts {
		opt(o)
	}
	baseLogger := o.logger
	if baseLogger == nil {
		logger.Init(strings.ToUpper(cfg.Logging.Level))
	}
	poolLogger := logger.Named(baseLogger, "fibersql")

	factory := &mysqlconn.Factory{
		Address:     cfg.Connection.Address(),
		Username:    cfg.Connection.User,
		Password:    cfg.Connection.Password,
		Database:    cfg.Connection.Database,
		DialTimeout: cfg.Pool.ConnectionTimeout,
		TLS: mysqlconn.TLSConfig{
			Enabled:    cfg.TLS.Enabled,
			CAFile:     cfg.TLS.CAFile,
			ServerName: cfg.TLS.ServerName,
			SkipVerify: cfg.TLS.SkipVerify,
		},
	}

	collector := metrics.New(cfg.Connection.Database)

	poolCfg := pool.Config{
		MinConnections:         cfg.Pool.MinConnections,
		MaxConnections:         cfg.Pool.MaxConnections,
		ConnectionTimeout:      cfg.Pool.ConnectionTimeout,
		IdleTimeout:            cfg.Pool.IdleTimeout,
		MaxLifetime:            cfg.Pool.MaxLifetime,
		ValidationTimeout:      cfg.Pool.ValidationTimeout,
		KeepaliveTime:          cfg.Pool.KeepaliveTime,
		LeakDetectionThreshold: cfg.Pool.LeakDetectionThreshold,
	}

	p, err := pool.New[HookContext](poolCfg, factory,
		pool.WithMetrics[HookContext](collector),
		pool.WithLogger[HookContext](poolLogger),
	)
	if err != nil {
		return nil, fmt.Errorf("datasource: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	interval := cfg.Pool.HousekeeperInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	hk := housekeeper.New(p, clock.Real{}, poolLogger, interval)
	go hk.Run(ctx)

	return &DataSource{pool: p, cfg: cfg, logger: poolLogger, collector: collector, cancel: cancel}, nil
}

// Lease is the handle returned by Acquire.
type Lease = *pool.Lease[HookContext]

// Acquire returns a validated, exclusively owned connection. Callers
// must call Release exactly once.
func (ds *DataSource) Acquire(ctx context.Context) (Lease, error) {
	return ds.pool.Acquire(ctx)
}

// WithConnection acquires a connection, runs fn, and releases it
// unconditionally via defer — the Resource-as-defer pattern spec.md §9
// settles on. fn's error, if any, marks the release outcome Broken so a
// connection left in a bad state after a failed query is never silently
// recycled.
func (ds *DataSource) WithConnection(ctx context.Context, fn func(conn pool.Conn) error) (err error) {
	lease, acquireErr := ds.pool.Acquire(ctx)
	if acquireErr != nil {
		return acquireErr
	}

	outcome := pool.OK
	defer func() {
		if r := recover(); r != nil {
			outcome = pool.Broken
			_ = lease.Release(ctx, outcome)
			panic(r)
		}
		if relErr := lease.Release(ctx, outcome); relErr != nil && err == nil {
			err = relErr
		}
	}()

	if fnErr := fn(lease.Conn()); fnErr != nil {
		outcome = pool.Broken
		err = fnErr
	}
	return err
}

// Metrics exposes the pool's own Collector (and, through it, its private
// Prometheus registry) for an embedding application to scrape or merge
// into its own.
func (ds *DataSource) Metrics() *metrics.Collector {
	return ds.collector
}

// Snapshot returns a point-in-time view of the pool's internal state.
func (ds *DataSource) Snapshot() pool.Snapshot {
	return ds.pool.Snapshot()
}

// Close stops the Housekeeper and drains the pool. ctx bounds how long
// Close waits for in-use connections to be released before force-closing
// them.
func (ds *DataSource) Close(ctx context.Context) error {
	ds.cancel()
	return ds.pool.Close(ctx)
}

// Reconfigure applies externally published pool tunables (internal/
// poolconfig) without tearing the pool down. Static bounds
// (minConnections/maxConnections) were fixed at Open time and reading
// pool.Config fields without synchronization elsewhere in the hot path
// means they cannot safely be mutated post-construction; Reconfigure
// instead forwards the requested size to the Housekeeper's adaptive
// target, which SetTarget already clamps to the pool's original
// [minConnections, maxConnections] bounds.
func (ds *DataSource) Reconfigure(t poolconfig.Tunables) {
	ds.pool.SetTarget(t.MaxConnections)
}
