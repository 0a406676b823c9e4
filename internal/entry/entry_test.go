package entry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct{ closed bool }

func (f *fakeConn) Close() error { f.closed = true; return nil }

func TestBorrowReleaseRoundTrip(t *testing.T) {
	now := time.Unix(0, 0)
	e := New(1, 1, &fakeConn{}, now)
	require.Equal(t, Idle, e.State())

	token := e.Borrow(now.Add(time.Second))
	require.Equal(t, InUse, e.State())
	require.Equal(t, int64(1), e.Snapshot().UseCount)

	ok := e.Release(token, now.Add(2*time.Second))
	require.True(t, ok)
	require.Equal(t, Idle, e.State())
}

func TestReleaseRejectsStaleToken(t *testing.T) {
	now := time.Unix(0, 0)
	e := New(1, 1, &fakeConn{}, now)

	first := e.Borrow(now)
	ok := e.Release(first, now)
	require.True(t, ok)

	// Double-release with the same (now stale) token must fail.
	ok = e.Release(first, now)
	require.False(t, ok)
}

func TestReleaseRejectsWhenNotInUse(t *testing.T) {
	now := time.Unix(0, 0)
	e := New(1, 1, &fakeConn{}, now)
	ok := e.Release(999, now)
	require.False(t, ok)
}

func TestHandToWaiterMintsNewToken(t *testing.T) {
	now := time.Unix(0, 0)
	e := New(1, 1, &fakeConn{}, now)

	firstToken := e.Borrow(now)
	secondToken := e.HandToWaiter(now.Add(time.Second))
	require.NotEqual(t, firstToken, secondToken)
	require.Equal(t, InUse, e.State())

	// Only the new token can release it now.
	require.False(t, e.Release(firstToken, now))
	require.True(t, e.Release(secondToken, now))
}

func TestRetirementFlag(t *testing.T) {
	now := time.Unix(0, 0)
	e := New(1, 1, &fakeConn{}, now)
	require.False(t, e.RetirementFlagged())
	e.MarkForRetirement()
	require.True(t, e.RetirementFlagged())
}

func TestAgeAndIdleFor(t *testing.T) {
	now := time.Unix(0, 0)
	e := New(1, 1, &fakeConn{}, now)
	later := now.Add(5 * time.Second)
	require.Equal(t, 5*time.Second, e.Age(later))
	require.Equal(t, 5*time.Second, e.IdleFor(later))
}

func TestValidateCycle(t *testing.T) {
	now := time.Unix(0, 0)
	e := New(1, 1, &fakeConn{}, now)
	e.BeginValidate()
	require.Equal(t, Validating, e.State())
	e.EndValidate(Idle)
	require.Equal(t, Idle, e.State())
	e.MarkValidated(now.Add(time.Minute))
	require.Equal(t, time.Minute, e.SinceLastValidated(now.Add(2*time.Minute)))
}
