// Package validator implements the pool's connection-health checks, used
// both on the keepalive path (Housekeeper) and the borrow-time fast path,
// which skips validation when the entry was validated within the last
// keepaliveTime. Grounded on BackendConn.IsHealthy from
// internal/proxy/backend_pool.go and the ping idiom in
// internal/replica/health.go's checkReplica, generalized into an interface
// so the pool core never depends on the concrete wire-protocol codec.
package validator

import "context"

// Pinger is the capability a pooled connection must expose for
// validation. The default ConnectionFactory's connections implement this
// by sending a MySQL COM_PING packet and waiting for the OK response.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Validator decides whether a pooled connection is still usable.
type Validator interface {
	Validate(ctx context.Context, conn Pinger) error
}

// PingValidator validates by round-tripping a lightweight ping command.
// This is the cheap default (spec section 3: "validation... a
// lightweight ping").
type PingValidator struct{}

func (PingValidator) Validate(ctx context.Context, conn Pinger) error {
	return conn.Ping(ctx)
}

// Querier is the capability required by QueryValidator.
type Querier interface {
	Pinger
	Exec(ctx context.Context, query string) error
}

// QueryValidator validates by executing a test query (e.g. "SELECT 1"),
// for deployments where a bare ping is insufficient to detect a wedged
// connection (load balancer half-open TCP, stale session variables).
type QueryValidator struct {
	Query string
}

func NewQueryValidator(query string) QueryValidator {
	if query == "" {
		query = "SELECT 1"
	}
	return QueryValidator{Query: query}
}

func (v QueryValidator) Validate(ctx context.Context, conn Pinger) error {
	q, ok := conn.(Querier)
	if !ok {
		return conn.Ping(ctx)
	}
	return q.Exec(ctx, v.Query)
}
