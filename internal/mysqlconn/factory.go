package mysqlconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/kafitramarna/fibersql/internal/entry"
	"github.com/kafitramarna/fibersql/internal/errs"
)

// TLSConfig mirrors the teacher's tls.Config, narrowed to the
// client-connecting-outbound case (a pool only ever dials a backend, it
// never terminates inbound TLS). Grounded on internal/tls/manager.go's
// createTLSConfig, inverted from server to client role.
type TLSConfig struct {
	Enabled    bool
	CAFile     string
	ServerName string
	SkipVerify bool
}

func (c TLSConfig) build() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	cfg := &tls.Config{
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.SkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("mysqlconn: reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("mysqlconn: parsing CA file %q", c.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// Factory dials real MySQL backends over TCP (optionally TLS) and performs
// the client side of the handshake. It is the library's default
// ConnectionFactory; callers needing a pool under test supply a fake
// factory instead.
type Factory struct {
	Address  string
	Username string
	Password string
	Database string
	TLS      TLSConfig

	// DialTimeout bounds the TCP dial and handshake exchange together.
	DialTimeout time.Duration
}

// Dial establishes one authenticated MySQL connection, returned as an
// entry.Conn so it satisfies the pool's ConnectionFactory directly. The
// returned error is either *errs.CreateFailed (with Permanent set for
// credential/database errors that retrying will not fix) or a
// context/network error from the dial itself.
func (f *Factory) Dial(ctx context.Context) (entry.Conn, error) {
	var deadline time.Time
	if f.DialTimeout > 0 {
		deadline = time.Now().Add(f.DialTimeout)
	}
	dialer := net.Dialer{Deadline: deadline}
	raw, err := dialer.DialContext(ctx, "tcp", f.Address)
	if err != nil {
		return nil, &errs.CreateFailed{Cause: err, Permanent: false}
	}
	raw.SetDeadline(deadline)

	tlsCfg, err := f.TLS.build()
	if err != nil {
		raw.Close()
		return nil, &errs.CreateFailed{Cause: err, Permanent: true}
	}

	if tlsCfg != nil {
		// This client does not implement MySQL's in-protocol TLS
		// negotiation. TLS here wraps the socket before the MySQL
		// handshake, which is what a TLS-terminating proxy (stunnel,
		// cloud SQL proxy) in front of the server expects.
		tlsConn := tls.Client(raw, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, &errs.CreateFailed{Cause: err, Permanent: true}
		}
		raw = tlsConn
	}

	c := &Conn{raw: raw, seq: 0}
	if err := c.handshake(f.Username, f.Password, f.Database); err != nil {
		raw.Close()
		return nil, classify(err)
	}
	raw.SetDeadline(time.Time{})

	return c, nil
}

// classify decides whether a handshake failure is worth retrying. Bad
// credentials or an unknown database will fail identically on every
// retry, so the circuit breaker must not count them toward its trip
// threshold (spec section 6).
func classify(err error) error {
	msg := err.Error()
	permanent := containsAny(msg, "access denied", "unknown database", "unsupported auth plugin")
	return &errs.CreateFailed{Cause: err, Permanent: permanent}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexFold(s, sub) {
			return true
		}
	}
	return false
}

func indexFold(s, sub string) bool {
	sl, sul := []byte(s), []byte(sub)
	for i := range sl {
		if sl[i] >= 'A' && sl[i] <= 'Z' {
			sl[i] += 'a' - 'A'
		}
	}
	for i := range sul {
		if sul[i] >= 'A' && sul[i] <= 'Z' {
			sul[i] += 'a' - 'A'
		}
	}
	s, sub = string(sl), string(sul)
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
