package waiter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFulfillDeliversToFrontWaiterFIFO(t *testing.T) {
	q := New[int]()
	w1 := q.Push()
	w2 := q.Push()

	require.Equal(t, 2, q.Len())
	ok := q.Fulfill(42)
	require.True(t, ok)
	require.Equal(t, 1, q.Len())

	res := w1.Recv()
	require.NoError(t, res.Err)
	require.Equal(t, 42, res.Conn)

	ok = q.Fulfill(7)
	require.True(t, ok)
	res2 := w2.Recv()
	require.Equal(t, 7, res2.Conn)
}

func TestFulfillOnEmptyQueueReturnsFalse(t *testing.T) {
	q := New[int]()
	require.False(t, q.Fulfill(1))
}

func TestCancelRemovesFromMiddle(t *testing.T) {
	q := New[string]()
	w1 := q.Push()
	w2 := q.Push()
	w3 := q.Push()

	myErr := errors.New("canceled")
	q.Cancel(w2, myErr)
	require.Equal(t, 2, q.Len())

	ok := q.Fulfill("first")
	require.True(t, ok)
	res := w1.Recv()
	require.Equal(t, "first", res.Conn)

	res2 := w2.Recv()
	require.ErrorIs(t, res2.Err, myErr)

	ok = q.Fulfill("third")
	require.True(t, ok)
	res3 := w3.Recv()
	require.Equal(t, "third", res3.Conn)
}

func TestCancelIsNoopIfAlreadyFulfilled(t *testing.T) {
	q := New[int]()
	w := q.Push()
	q.Fulfill(5)
	require.NotPanics(t, func() {
		q.Cancel(w, errors.New("too late"))
	})
	res := w.Recv()
	require.Equal(t, 5, res.Conn)
}

func TestDrainWithErrorCancelsAll(t *testing.T) {
	q := New[int]()
	w1 := q.Push()
	w2 := q.Push()

	myErr := errors.New("pool closed")
	q.DrainWithError(myErr)
	require.Equal(t, 0, q.Len())

	require.ErrorIs(t, w1.Recv().Err, myErr)
	require.ErrorIs(t, w2.Recv().Err, myErr)
}
