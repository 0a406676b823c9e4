// Package metrics implements the pool's MetricsTracker: Prometheus
// counters/gauges for external observability, plus a mutex-guarded EWMA used
// internally by the housekeeper's adaptive-sizing decision. Grounded on
// JeelKantaria-db-bouncer's internal/metrics/metrics.go, which gives each
// Collector its own *prometheus.Registry rather than registering into the
// global default registerer — the right shape for a library, since an
// embedding application owns its own registry and would otherwise collide
// with every other pool instance it creates.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric the pool exposes for one
// DataSource instance.
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive  prometheus.Gauge
	connectionsIdle    prometheus.Gauge
	connectionsWaiting prometheus.Gauge
	connectionsTotal   prometheus.Gauge

	created            prometheus.Counter
	destroyed          prometheus.Counter
	acquired           prometheus.Counter
	released           prometheus.Counter
	acquireTimeouts    prometheus.Counter
	validationFailures prometheus.Counter
	leaksDetected      prometheus.Counter

	acquireDuration prometheus.Histogram
	circuitState    prometheus.Gauge
}

// New creates a Collector with its own registry, labelled with the pool's
// name so multiple pools in one process stay distinguishable when an
// embedding application merges registries.
func New(poolName string) *Collector {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"pool": poolName}

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "fibersql_connections_active",
			Help:        "Number of connections currently leased out.",
			ConstLabels: constLabels,
		}),
		connectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "fibersql_connections_idle",
			Help:        "Number of idle connections available to lease.",
			ConstLabels: constLabels,
		}),
		connectionsWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "fibersql_connections_waiting",
			Help:        "Number of fibers parked waiting for a connection.",
			ConstLabels: constLabels,
		}),
		connectionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "fibersql_connections_total",
			Help:        "Total live connections (idle + active + validating).",
			ConstLabels: constLabels,
		}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fibersql_connections_created_total",
			Help:        "Total connections created by the factory.",
			ConstLabels: constLabels,
		}),
		destroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fibersql_connections_destroyed_total",
			Help:        "Total connections destroyed (eviction, retirement, breakage).",
			ConstLabels: constLabels,
		}),
		acquired: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fibersql_acquires_total",
			Help:        "Total successful acquisitions.",
			ConstLabels: constLabels,
		}),
		released: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fibersql_releases_total",
			Help:        "Total releases.",
			ConstLabels: constLabels,
		}),
		acquireTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fibersql_acquire_timeouts_total",
			Help:        "Total acquisitions that failed with AcquireTimeout.",
			ConstLabels: constLabels,
		}),
		validationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fibersql_validation_failures_total",
			Help:        "Total validation failures across all entries.",
			ConstLabels: constLabels,
		}),
		leaksDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fibersql_leaks_detected_total",
			Help:        "Total LeakDetected diagnostics fired.",
			ConstLabels: constLabels,
		}),
		acquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "fibersql_acquire_duration_seconds",
			Help:        "Time spent inside Acquire, including wait and creation.",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 16),
			ConstLabels: constLabels,
		}),
		circuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "fibersql_circuit_breaker_state",
			Help:        "Circuit breaker state (0=CLOSED, 1=HALF_OPEN, 2=OPEN).",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(
		c.connectionsActive, c.connectionsIdle, c.connectionsWaiting, c.connectionsTotal,
		c.created, c.destroyed, c.acquired, c.released, c.acquireTimeouts,
		c.validationFailures, c.leaksDetected, c.acquireDuration, c.circuitState,
	)

	return c
}

func (c *Collector) SetActive(n int)       { c.connectionsActive.Set(float64(n)) }
func (c *Collector) SetIdle(n int)         { c.connectionsIdle.Set(float64(n)) }
func (c *Collector) SetWaiting(n int)      { c.connectionsWaiting.Set(float64(n)) }
func (c *Collector) SetTotal(n int)        { c.connectionsTotal.Set(float64(n)) }
func (c *Collector) SetCircuitState(n int) { c.circuitState.Set(float64(n)) }

func (c *Collector) IncCreated()           { c.created.Inc() }
func (c *Collector) IncDestroyed()         { c.destroyed.Inc() }
func (c *Collector) IncAcquired()          { c.acquired.Inc() }
func (c *Collector) IncReleased()          { c.released.Inc() }
func (c *Collector) IncAcquireTimeout()    { c.acquireTimeouts.Inc() }
func (c *Collector) IncValidationFailure() { c.validationFailures.Inc() }
func (c *Collector) IncLeakDetected()      { c.leaksDetected.Inc() }

func (c *Collector) ObserveAcquireDuration(d time.Duration) {
	c.acquireDuration.Observe(d.Seconds())
}
