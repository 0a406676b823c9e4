package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kafitramarna/fibersql/internal/clock"
	"github.com/kafitramarna/fibersql/internal/errs"
	"github.com/kafitramarna/fibersql/internal/metrics"
)

type fakeConn struct {
	id     int64
	closed atomic.Bool
}

func (c *fakeConn) Close() error { c.closed.Store(true); return nil }
func (c *fakeConn) Ping(ctx context.Context) error { return nil }

type fakeFactory struct {
	mu       sync.Mutex
	nextID   int64
	failNext int
	dialed   []*fakeConn
}

func (f *fakeFactory) Dial(ctx context.Context) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return nil, &errs.CreateFailed{Cause: errors.New("dial refused"), Permanent: false}
	}
	f.nextID++
	c := &fakeConn{id: f.nextID}
	f.dialed = append(f.dialed, c)
	return c, nil
}

func newTestPool(t *testing.T, cfg Config) (*Pool[struct{}], *fakeFactory, *clock.Virtual) {
	t.Helper()
	vc := clock.NewVirtual(time.Unix(0, 0))
	factory := &fakeFactory{}
	p, err := New[struct{}](cfg, factory, WithClock[struct{}](vc))
	require.NoError(t, err)
	return p, factory, vc
}

func TestAcquireCreatesUpToMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 2
	p, _, _ := newTestPool(t, cfg)

	l1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	snap := p.Snapshot()
	require.Equal(t, 2, snap.Total)
	require.Equal(t, 0, snap.Idle)

	require.NoError(t, l1.Release(context.Background(), OK))
	require.NoError(t, l2.Release(context.Background(), OK))

	snap = p.Snapshot()
	require.Equal(t, 2, snap.Idle)
}

func TestReleaseHandsOffDirectlyToWaiter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	cfg.ConnectionTimeout = time.Second
	p, _, vc := newTestPool(t, cfg)

	l1, err := p.Acquire(context.Background())
	require.NoError(t, err)

	type result struct {
		lease *Lease[struct{}]
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		l, err := p.Acquire(context.Background())
		resCh <- result{l, err}
	}()

	// Give the second acquirer a chance to park.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, p.Snapshot().Waiting)

	require.NoError(t, l1.Release(context.Background(), OK))

	select {
	case r := <-resCh:
		require.NoError(t, r.err)
		require.NoError(t, r.lease.Release(context.Background(), OK))
	case <-time.After(time.Second):
		t.Fatal("waiter was never fulfilled")
	}
	_ = vc
}

func TestDoubleReleaseFails(t *testing.T) {
	cfg := DefaultConfig()
	p, _, _ := newTestPool(t, cfg)

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, l.Release(context.Background(), OK))

	err = l.Release(context.Background(), OK)
	require.ErrorIs(t, err, errs.ErrDoubleRelease)
}

func TestAcquireTimeoutWhenPoolFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	cfg.ConnectionTimeout = 0
	p, _, _ := newTestPool(t, cfg)

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, errs.ErrAcquireTimeout)
}

func TestCreateFailureIncrementsBreakerFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	p, factory, _ := newTestPool(t, cfg)
	factory.failNext = 1

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, p.breaker.ConsecutiveFailures())

	snap := p.Snapshot()
	require.Equal(t, 0, snap.Total)
}

func TestCancelledContextReleasesGrantedWaiterEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	cfg.ConnectionTimeout = time.Second
	p, _, _ := newTestPool(t, cfg)

	l1, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		lease *Lease[struct{}]
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		l, err := p.Acquire(ctx)
		resCh <- result{l, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	r := <-resCh
	require.Error(t, r.err)
	require.Nil(t, r.lease)

	require.NoError(t, l1.Release(context.Background(), OK))

	// The pool must not have leaked the entry: a fresh acquire should
	// still succeed without creating past maxConnections.
	l2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, l2.Release(context.Background(), OK))
}

func TestCloseDestroysIdleAndRejectsNewAcquires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 3
	p, factory, vc := newTestPool(t, cfg)

	l1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, l2.Release(context.Background(), OK))

	// Close waits for in-use leases, so it runs in the background while l1
	// is still held.
	closeErr := make(chan error, 1)
	go func() { closeErr <- p.Close(context.Background()) }()
	require.Eventually(t, func() bool { return p.Snapshot().Closed }, time.Second, time.Millisecond)

	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, errs.ErrPoolClosed)

	require.NoError(t, l1.Release(context.Background(), OK))
	vc.Advance(50 * time.Millisecond)
	require.NoError(t, <-closeErr)

	require.NoError(t, p.Close(context.Background()))

	for _, c := range factory.dialed {
		require.True(t, c.closed.Load())
	}
}

// TestMaxLifetimeRecyclesThenRetiresOnRelease covers scenario 2: a single
// entry is reused LIFO across a second acquire, then destroyed on release
// once its age exceeds maxLifetime, bumping totalCreated on the next
// acquire.
func TestMaxLifetimeRecyclesThenRetiresOnRelease(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	cfg.MaxLifetime = 100 * time.Millisecond
	cfg.KeepaliveTime = 50 * time.Millisecond
	p, factory, vc := newTestPool(t, cfg)

	l1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	firstID := l1.conn.(*fakeConn).id
	vc.Advance(50 * time.Millisecond)
	require.NoError(t, l1.Release(context.Background(), OK))

	l2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, firstID, l2.conn.(*fakeConn).id) // same entry, LIFO reuse

	vc.Advance(60 * time.Millisecond) // total age now 110ms > 100ms
	require.NoError(t, l2.Release(context.Background(), OK))

	l3, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, l3.Release(context.Background(), OK))

	require.Len(t, factory.dialed, 2)
	require.EqualValues(t, 2, p.Snapshot().TotalCreated)
}

// TestCloseDestroysAllAndMatchesCreatedCount covers scenario 5: close with
// a mix of in-use and idle entries destroys the idle ones immediately,
// rejects new acquires, and once every lease is released totalDestroyed
// catches up with totalCreated.
func TestCloseDestroysAllAndMatchesCreatedCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 5
	p, _, vc := newTestPool(t, cfg)

	leases := make([]*Lease[struct{}], 0, 5)
	for i := 0; i < 5; i++ {
		l, err := p.Acquire(context.Background())
		require.NoError(t, err)
		leases = append(leases, l)
	}
	// Release three back to idle, leaving two in-use.
	for i := 0; i < 3; i++ {
		require.NoError(t, leases[i].Release(context.Background(), OK))
	}

	closeErr := make(chan error, 1)
	go func() { closeErr <- p.Close(context.Background()) }()
	require.Eventually(t, func() bool { return p.Snapshot().Closed }, time.Second, time.Millisecond)

	_, err := p.Acquire(context.Background())
	require.ErrorIs(t, err, errs.ErrPoolClosed)

	for i := 3; i < 5; i++ {
		require.NoError(t, leases[i].Release(context.Background(), OK))
	}
	vc.Advance(50 * time.Millisecond)
	require.NoError(t, <-closeErr)

	snap := p.Snapshot()
	require.Equal(t, snap.TotalCreated, snap.TotalDestroyed)
}

// TestMinZeroMaxOneSerializesHundredConcurrentAcquires covers the
// minConnections=0/maxConnections=1 boundary: exactly one acquirer runs at
// a time, the rest park, and every one of 100 concurrent acquires
// eventually succeeds.
func TestMinZeroMaxOneSerializesHundredConcurrentAcquires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConnections = 0
	cfg.MaxConnections = 1
	cfg.ConnectionTimeout = 5 * time.Second
	p, _, _ := newTestPool(t, cfg)

	before := runtime.NumGoroutine()

	const n = 100
	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := p.Acquire(context.Background())
			if err != nil {
				return
			}
			succeeded.Add(1)
			time.Sleep(time.Millisecond)
			_ = l.Release(context.Background(), OK)
		}()
	}
	wg.Wait()

	require.EqualValues(t, n, succeeded.Load())
	require.LessOrEqual(t, p.Snapshot().Total, 1)

	// The virtual clock is never advanced in this test, so the
	// connectionTimeout timer on every parked waiter never fires; awaiting
	// a waiter must not leave a goroutine blocked on that timer regardless.
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+1
	}, time.Second, 5*time.Millisecond)
}

// TestBreakerOpensAfterConsecutiveFactoryFailures covers scenario 3: five
// consecutive dial failures trip the breaker, and a subsequent acquire
// with no idle entries fails fast with ErrCircuitOpen rather than
// attempting another dial.
func TestBreakerOpensAfterConsecutiveFactoryFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	p, factory, _ := newTestPool(t, cfg)

	factory.mu.Lock()
	factory.failNext = 5
	factory.mu.Unlock()

	for i := 0; i < 5; i++ {
		_, err := p.Acquire(context.Background())
		require.Error(t, err)
	}

	_, err := p.Acquire(context.Background())
	require.ErrorIs(t, err, errs.ErrCircuitOpen)
}

// TestLeakDetectionFiresOnceWithoutDoubleCounting covers scenario 4: a
// lease held past leakDetectionThreshold fires exactly one diagnostic, and
// releasing it afterward never fires a second one.
func TestLeakDetectionFiresOnceWithoutDoubleCounting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	cfg.LeakDetectionThreshold = 50 * time.Millisecond
	vc := clock.NewVirtual(time.Unix(0, 0))
	factory := &fakeFactory{}
	collector := metrics.New("leaktest")
	p, err := New[struct{}](cfg, factory, WithClock[struct{}](vc), WithMetrics[struct{}](collector))
	require.NoError(t, err)

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)

	vc.Advance(200 * time.Millisecond)
	require.Eventually(t, func() bool {
		n, _ := leaksDetected(collector)
		return n == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Release(context.Background(), OK))

	n, err := leaksDetected(collector)
	require.NoError(t, err)
	require.Equal(t, float64(1), n)
}

// leaksDetected reads the current value of the leaks-detected counter.
func leaksDetected(c *metrics.Collector) (float64, error) {
	mfs, err := c.Registry.Gather()
	if err != nil {
		return 0, err
	}
	for _, mf := range mfs {
		if mf.GetName() == "fibersql_leaks_detected_total" {
			return mf.GetMetric()[0].GetCounter().GetValue(), nil
		}
	}
	return 0, nil
}

// TestCancelledWaitersDoNotBlockLaterWaiters covers scenario 6: with
// max=5 and 20 waiters parked, cancelling a handful of them never orphans
// an entry or blocks the remaining waiters from eventually succeeding.
func TestCancelledWaitersDoNotBlockLaterWaiters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 5
	cfg.ConnectionTimeout = 5 * time.Second
	p, _, _ := newTestPool(t, cfg)

	held := make([]*Lease[struct{}], 0, 5)
	for i := 0; i < 5; i++ {
		l, err := p.Acquire(context.Background())
		require.NoError(t, err)
		held = append(held, l)
	}

	const n = 20
	cancelled := map[int]bool{3: true, 7: true, 11: true}
	ctxs := make([]context.Context, n)
	cancels := make([]context.CancelFunc, n)
	type result struct {
		lease *Lease[struct{}]
		err   error
	}
	resCh := make([]chan result, n)

	for i := 0; i < n; i++ {
		ctxs[i], cancels[i] = context.WithCancel(context.Background())
		resCh[i] = make(chan result, 1)
		go func(i int) {
			l, err := p.Acquire(ctxs[i])
			resCh[i] <- result{l, err}
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	for i := range cancelled {
		cancels[i]()
	}
	time.Sleep(20 * time.Millisecond)

	for _, l := range held {
		require.NoError(t, l.Release(context.Background(), OK))
	}

	succeeded := 0
	for i := 0; i < n; i++ {
		select {
		case r := <-resCh[i]:
			if cancelled[i] {
				require.Error(t, r.err)
			} else {
				require.NoError(t, r.err)
				succeeded++
				require.NoError(t, r.lease.Release(context.Background(), OK))
			}
		case <-time.After(2 * time.Second):
			if !cancelled[i] {
				t.Fatalf("waiter %d was never fulfilled", i)
			}
		}
	}
	require.Equal(t, n-len(cancelled), succeeded)
}
