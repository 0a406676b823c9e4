package mysqlconn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kafitramarna/fibersql/internal/errs"
)

func TestMysqlNativePasswordHashEmptyPassword(t *testing.T) {
	require.Empty(t, mysqlNativePasswordHash(nil, []byte("salt1234567890123456")))
}

func TestMysqlNativePasswordHashIsDeterministic(t *testing.T) {
	salt := []byte("01234567890123456789")
	h1 := mysqlNativePasswordHash([]byte("hunter2"), salt)
	h2 := mysqlNativePasswordHash([]byte("hunter2"), salt)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 20)
}

func TestMysqlNativePasswordHashDiffersPerSalt(t *testing.T) {
	h1 := mysqlNativePasswordHash([]byte("hunter2"), []byte("01234567890123456789"))
	h2 := mysqlNativePasswordHash([]byte("hunter2"), []byte("98765432109876543210"))
	require.NotEqual(t, h1, h2)
}

func TestBuildHandshakeResponse41IncludesDatabaseWhenSet(t *testing.T) {
	resp := buildHandshakeResponse41("root", "appdb", []byte{1, 2, 3})
	require.Contains(t, string(resp), "appdb")
	require.Contains(t, string(resp), "root")
	require.Contains(t, string(resp), "mysql_native_password")
}

func TestBuildHandshakeResponse41OmitsDatabaseWhenEmpty(t *testing.T) {
	resp := buildHandshakeResponse41("root", "", []byte{1, 2, 3})
	require.NotContains(t, string(resp), "appdb")
}

func TestParseAuthSwitchRequest(t *testing.T) {
	pkt := []byte{0xfe}
	pkt = append(pkt, []byte("mysql_native_password")...)
	pkt = append(pkt, 0x00)
	pkt = append(pkt, []byte("abcdefghijklmnopqrst")...)
	pkt = append(pkt, 0x00)

	plugin, data, err := parseAuthSwitchRequest(pkt)
	require.NoError(t, err)
	require.Equal(t, "mysql_native_password", plugin)
	require.Equal(t, []byte("abcdefghijklmnopqrst"), data)
}

func TestParseServerHandshakeRejectsErrPacket(t *testing.T) {
	_, err := parseServerHandshake([]byte{0xff})
	require.Error(t, err)
}

func TestClassifyMarksAccessDeniedPermanent(t *testing.T) {
	err := classify(&testErr{"Access denied for user 'root'@'%'"})
	var cf *errs.CreateFailed
	require.ErrorAs(t, err, &cf)
	require.True(t, cf.Permanent)
}

func TestClassifyMarksConnectionRefusedTransient(t *testing.T) {
	err := classify(&testErr{"connection refused"})
	var cf *errs.CreateFailed
	require.ErrorAs(t, err, &cf)
	require.False(t, cf.Permanent)
}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
