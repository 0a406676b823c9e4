package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	pingErr error
	execErr error
	execd   string
}

func (f *fakeConn) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeConn) Exec(ctx context.Context, query string) error {
	f.execd = query
	return f.execErr
}

func TestPingValidatorDelegatesToPing(t *testing.T) {
	c := &fakeConn{pingErr: errors.New("boom")}
	err := PingValidator{}.Validate(context.Background(), c)
	require.ErrorIs(t, err, c.pingErr)
}

func TestQueryValidatorUsesExecWhenAvailable(t *testing.T) {
	c := &fakeConn{}
	v := NewQueryValidator("")
	require.Equal(t, "SELECT 1", v.Query)
	err := v.Validate(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", c.execd)
}

func TestQueryValidatorFallsBackToPing(t *testing.T) {
	var c pingOnly
	v := NewQueryValidator("SELECT 2")
	err := v.Validate(context.Background(), &c)
	require.NoError(t, err)
	require.True(t, c.pinged)
}

type pingOnly struct{ pinged bool }

func (p *pingOnly) Ping(ctx context.Context) error { p.pinged = true; return nil }
