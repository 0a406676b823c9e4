package mysqlconn

import (
	"crypto/sha1" //nolint:gosec // mysql_native_password is specified to use SHA-1
	"fmt"
)

const (
	capClientLongPassword     = uint32(1)
	capClientConnectWithDB    = uint32(8)
	capClientProtocol41       = uint32(512)
	capClientSecureConnection = uint32(32768)
	capClientPluginAuth       = uint32(1 << 19)

	statusErrPacket byte = 0xff
	statusOKPacket  byte = 0x00
	statusEOFPacket byte = 0xfe
)

// serverHandshake is the parsed form of the server's initial
// Protocol::HandshakeV10 packet.
type serverHandshake struct {
	authPluginData []byte
	capabilities   uint32
	authPluginName string
}

func parseServerHandshake(pkt []byte) (*serverHandshake, error) {
	if len(pkt) < 1 {
		return nil, fmt.Errorf("mysqlconn: empty handshake packet")
	}
	if pkt[0] == statusErrPacket {
		return nil, fmt.Errorf("mysqlconn: server returned error on connect")
	}

	pos := 1
	for pos < len(pkt) && pkt[pos] != 0 {
		pos++
	}
	pos++
	if pos+4 > len(pkt) {
		return nil, fmt.Errorf("mysqlconn: handshake packet too short (connection id)")
	}
	pos += 4

	if pos+8 > len(pkt) {
		return nil, fmt.Errorf("mysqlconn: handshake packet too short (auth data part 1)")
	}
	authData := make([]byte, 0, 20)
	authData = append(authData, pkt[pos:pos+8]...)
	pos += 8
	pos++ // filler

	if pos+2 > len(pkt) {
		return nil, fmt.Errorf("mysqlconn: handshake packet too short (capability flags low)")
	}
	capLow := uint32(pkt[pos]) | uint32(pkt[pos+1])<<8
	pos += 2

	if pos+3 > len(pkt) {
		return nil, fmt.Errorf("mysqlconn: handshake packet too short (charset/status)")
	}
	pos += 3

	if pos+2 > len(pkt) {
		return nil, fmt.Errorf("mysqlconn: handshake packet too short (capability flags high)")
	}
	capHigh := (uint32(pkt[pos]) | uint32(pkt[pos+1])<<8) << 16
	pos += 2
	capFlags := capLow | capHigh

	var authPluginDataLen int
	if pos < len(pkt) {
		authPluginDataLen = int(pkt[pos])
		pos++
	}
	pos += 10 // reserved

	part2Len := authPluginDataLen - 8
	if part2Len < 13 {
		part2Len = 13
	}
	if pos+part2Len > len(pkt) {
		part2Len = len(pkt) - pos
	}
	if part2Len > 0 {
		part2 := pkt[pos : pos+part2Len]
		if len(part2) > 0 && part2[len(part2)-1] == 0 {
			part2 = part2[:len(part2)-1]
		}
		authData = append(authData, part2...)
	}
	pos += part2Len

	pluginName := "mysql_native_password"
	if capFlags&capClientPluginAuth != 0 && pos < len(pkt) {
		end := pos
		for end < len(pkt) && pkt[end] != 0 {
			end++
		}
		pluginName = string(pkt[pos:end])
	}

	return &serverHandshake{
		authPluginData: authData,
		capabilities:   capFlags,
		authPluginName: pluginName,
	}, nil
}

// computeAuthResponse returns the auth-response bytes for the given
// plugin, or an error if the plugin is unsupported.
func computeAuthResponse(plugin string, password string, authData []byte) ([]byte, error) {
	switch plugin {
	case "mysql_native_password":
		return mysqlNativePasswordHash([]byte(password), authData), nil
	default:
		return nil, fmt.Errorf("mysqlconn: unsupported auth plugin %q", plugin)
	}
}

// mysqlNativePasswordHash computes SHA1(password) XOR SHA1(authData +
// SHA1(SHA1(password))), the mysql_native_password challenge response.
func mysqlNativePasswordHash(password, authData []byte) []byte {
	if len(password) == 0 {
		return []byte{}
	}
	h1 := sha1.Sum(password) //nolint:gosec
	h2 := sha1.Sum(h1[:])    //nolint:gosec
	h := sha1.New()          //nolint:gosec
	h.Write(authData)
	h.Write(h2[:])
	h3 := h.Sum(nil)

	result := make([]byte, 20)
	for i := range result {
		result[i] = h1[i] ^ h3[i]
	}
	return result
}

// buildHandshakeResponse41 assembles the client's HandshakeResponse41.
func buildHandshakeResponse41(username, database string, authResp []byte) []byte {
	clientCaps := capClientLongPassword | capClientProtocol41 | capClientSecureConnection | capClientPluginAuth
	if database != "" {
		clientCaps |= capClientConnectWithDB
	}

	var resp []byte
	resp = putUint32(resp, clientCaps)
	resp = append(resp, 0xff, 0xff, 0xff, 0x00) // max packet size
	resp = append(resp, 0x2d)                   // utf8mb4_general_ci
	resp = append(resp, make([]byte, 23)...)    // reserved
	resp = nullTerminated(resp, username)
	resp = append(resp, byte(len(authResp)))
	resp = append(resp, authResp...)
	if database != "" {
		resp = nullTerminated(resp, database)
	}
	resp = nullTerminated(resp, "mysql_native_password")
	return resp
}

func parseAuthSwitchRequest(pkt []byte) (plugin string, data []byte, err error) {
	if len(pkt) < 2 {
		return "", nil, fmt.Errorf("mysqlconn: malformed AuthSwitchRequest")
	}
	end := 1
	for end < len(pkt) && pkt[end] != 0 {
		end++
	}
	plugin = string(pkt[1:end])
	if end+1 < len(pkt) {
		data = pkt[end+1:]
		if len(data) > 0 && data[len(data)-1] == 0 {
			data = data[:len(data)-1]
		}
	}
	return plugin, data, nil
}

func parseErrPacket(pkt []byte) string {
	if len(pkt) < 9 {
		return "unknown error"
	}
	return string(pkt[9:])
}
