package metrics

import (
	"math"
	"sync"
	"time"
)

// EWMA is a lock-protected exponentially-weighted moving average, used by
// the housekeeper's adaptive-sizing decision (spec section 4.3). It is
// deliberately separate from the Prometheus histogram above: this value
// feeds an internal control decision, not an external dashboard.
type EWMA struct {
	mu     sync.Mutex
	alpha  float64
	value  float64
	primed bool
}

// NewEWMA creates an EWMA with the given half-life. A shorter half-life
// reacts to load changes faster but is noisier.
func NewEWMA(halfLife time.Duration, tickInterval time.Duration) *EWMA {
	// alpha solved so that after one half-life's worth of ticks the
	// weight of the original value has decayed to 0.5.
	ticks := halfLife.Seconds() / tickInterval.Seconds()
	if ticks <= 0 {
		ticks = 1
	}
	alpha := 1 - math.Pow(0.5, 1/ticks)
	return &EWMA{alpha: alpha}
}

// Observe folds a new sample into the average.
func (e *EWMA) Observe(sample float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.primed {
		e.value = sample
		e.primed = true
		return
	}
	e.value = e.alpha*sample + (1-e.alpha)*e.value
}

// Value returns the current smoothed value.
func (e *EWMA) Value() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}
