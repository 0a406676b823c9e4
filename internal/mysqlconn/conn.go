package mysqlconn

import (
	"context"
	"fmt"
	"net"
	"time"
)

const (
	comQuit byte = 0x01
	comQuery byte = 0x03
	comPing byte = 0x0e
)

// Conn is a single authenticated connection to a MySQL server. It
// satisfies entry.Conn, validator.Pinger and validator.Querier so it can
// be used directly as the pool's connection type.
type Conn struct {
	raw net.Conn
	seq byte
}

func (c *Conn) handshake(username, password, database string) error {
	pkt, _, err := readPacket(c.raw)
	if err != nil {
		return fmt.Errorf("mysqlconn: reading server handshake: %w", err)
	}
	hs, err := parseServerHandshake(pkt)
	if err != nil {
		return err
	}

	authResp, err := computeAuthResponse(hs.authPluginName, password, hs.authPluginData)
	if err != nil {
		return err
	}

	resp := buildHandshakeResponse41(username, database, authResp)
	if err := writePacket(c.raw, resp, 1); err != nil {
		return fmt.Errorf("mysqlconn: sending handshake response: %w", err)
	}

	result, seq, err := readPacket(c.raw)
	if err != nil {
		return fmt.Errorf("mysqlconn: reading auth result: %w", err)
	}
	if len(result) < 1 {
		return fmt.Errorf("mysqlconn: empty auth result")
	}

	switch result[0] {
	case statusOKPacket:
		c.seq = seq
		return nil
	case statusEOFPacket:
		return c.handleAuthSwitch(result, password)
	case statusErrPacket:
		return fmt.Errorf("mysqlconn: authentication failed: %s", parseErrPacket(result))
	default:
		return fmt.Errorf("mysqlconn: unexpected auth response byte 0x%02x", result[0])
	}
}

func (c *Conn) handleAuthSwitch(pkt []byte, password string) error {
	plugin, data, err := parseAuthSwitchRequest(pkt)
	if err != nil {
		return err
	}
	resp, err := computeAuthResponse(plugin, password, data)
	if err != nil {
		return err
	}
	if err := writePacket(c.raw, resp, 3); err != nil {
		return fmt.Errorf("mysqlconn: sending auth switch response: %w", err)
	}
	result, seq, err := readPacket(c.raw)
	if err != nil {
		return fmt.Errorf("mysqlconn: reading auth switch result: %w", err)
	}
	if len(result) < 1 || result[0] != statusOKPacket {
		return fmt.Errorf("mysqlconn: authentication failed after plugin switch")
	}
	c.seq = seq
	return nil
}

// Close closes the underlying TCP/TLS connection. It does not send
// COM_QUIT first: a pool destroying a connection wants the socket gone
// immediately, not a clean protocol teardown the server might stall on.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// Ping sends COM_PING and waits for the OK response, satisfying
// validator.Pinger.
func (c *Conn) Ping(ctx context.Context) error {
	return c.roundTrip(ctx, []byte{comPing})
}

// Exec sends a text-protocol COM_QUERY and waits for a non-error
// response, satisfying validator.Querier. It does not decode the result
// set: for validation purposes the query succeeding or failing is all
// that matters, and result-set decoding is out of scope for this client.
func (c *Conn) Exec(ctx context.Context, query string) error {
	payload := append([]byte{comQuery}, query...)
	return c.roundTrip(ctx, payload)
}

func (c *Conn) roundTrip(ctx context.Context, command []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		c.raw.SetDeadline(dl)
		defer c.raw.SetDeadline(time.Time{})
	}

	c.seq = 0
	if err := writePacket(c.raw, command, c.seq); err != nil {
		return fmt.Errorf("mysqlconn: writing command: %w", err)
	}
	c.seq++

	resp, _, err := readPacket(c.raw)
	if err != nil {
		return fmt.Errorf("mysqlconn: reading command response: %w", err)
	}
	if len(resp) == 0 {
		return nil
	}
	switch resp[0] {
	case statusOKPacket:
		return nil
	case statusErrPacket:
		return fmt.Errorf("mysqlconn: server error: %s", parseErrPacket(resp))
	default:
		// A result-set header (column count) for COM_QUERY; the caller
		// only needs to know the command didn't error, so the remaining
		// rows are drained without decoding.
		return drainResultSet(c.raw)
	}
}

func drainResultSet(r net.Conn) error {
	for {
		pkt, _, err := readPacket(r)
		if err != nil {
			return fmt.Errorf("mysqlconn: draining result set: %w", err)
		}
		if len(pkt) >= 1 && (pkt[0] == statusEOFPacket || pkt[0] == statusOKPacket) && len(pkt) < 9 {
			return nil
		}
	}
}
