package leak

import (
	"log/slog"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kafitramarna/fibersql/internal/clock"
	"github.com/kafitramarna/fibersql/internal/metrics"
)

func TestDisabledWhenThresholdZero(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	d := New(0, vc, slog.Default(), metrics.New("test"))
	d.Arm(1, vc.Now())
	vc.Advance(time.Hour)
	// No panic, no pending state to disarm.
	d.Disarm(1)
}

func TestArmThenDisarmBeforeFireDoesNotLeak(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	c := metrics.New("test2")
	d := New(50*time.Millisecond, vc, slog.Default(), c)

	before := runtime.NumGoroutine()

	const n = 200
	for i := int64(0); i < n; i++ {
		d.Arm(i, vc.Now())
		d.Disarm(i)
	}
	vc.Advance(time.Second)

	require.Equal(t, 0, len(d.pending))
	// Disarm must wake every waitAndFire goroutine via its done channel
	// rather than leaving it blocked past Stop() on a timer that will
	// never fire again.
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+1
	}, time.Second, 5*time.Millisecond)
}

func TestArmFiresAfterThreshold(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	c := metrics.New("test3")
	d := New(10*time.Millisecond, vc, slog.Default(), c)

	d.Arm(1, vc.Now())
	vc.Advance(20 * time.Millisecond)
	// Give the firing goroutine a moment to run and record the metric.
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, 0, len(d.pending))
}
