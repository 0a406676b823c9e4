// Package mysqlconn is the default ConnectionFactory: it dials a real
// MySQL server, performs the client side of Protocol::HandshakeV10 (the
// teacher's pkg/protocol packet framing and handshake types, inverted
// from server role to client role), and authenticates with
// mysql_native_password, grounded on authenticateMySQL and
// mysqlNativePasswordHash from JeelKantaria-db-bouncer's connection pool.
// The pool core never imports this package directly; callers wire it in
// through the ConnectionFactory interface.
package mysqlconn

import (
	"encoding/binary"
	"fmt"
	"io"
)

func readPacket(r io.Reader) (payload []byte, seq byte, err error) {
	hdr := make([]byte, 4)
	if _, err = io.ReadFull(r, hdr); err != nil {
		return nil, 0, err
	}
	length := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
	seq = hdr[3]
	if length == 0 {
		return []byte{}, seq, nil
	}
	payload = make([]byte, length)
	if _, err = io.ReadFull(r, payload); err != nil {
		return nil, seq, err
	}
	return payload, seq, nil
}

func writePacket(w io.Writer, payload []byte, seq byte) error {
	length := len(payload)
	if length > 0xffffff {
		return fmt.Errorf("mysqlconn: packet too large: %d bytes", length)
	}
	hdr := make([]byte, 4)
	hdr[0] = byte(length)
	hdr[1] = byte(length >> 8)
	hdr[2] = byte(length >> 16)
	hdr[3] = seq
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func putUint32(buf []byte, n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return append(buf, b...)
}

func nullTerminated(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0x00)
}
