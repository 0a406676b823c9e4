package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadParsesAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	contents := `
connection:
  host: db.internal
  port: 3306
  user: app
  password: secret
  database: appdb
pool:
  min_connections: 2
  max_connections: 20
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "db.internal:3306", cfg.Connection.Address())
	require.Equal(t, 2, cfg.Pool.MinConnections)
	require.Equal(t, 20, cfg.Pool.MaxConnections)
	// Defaults survive when the file doesn't override them.
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestValidateRejectsMissingHost(t *testing.T) {
	cfg := Default()
	cfg.Connection.Port = 3306
	cfg.Connection.Database = "appdb"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMinGreaterThanMax(t *testing.T) {
	cfg := Default()
	cfg.Connection.Host = "db"
	cfg.Connection.Port = 3306
	cfg.Connection.Database = "appdb"
	cfg.Pool.MinConnections = 10
	cfg.Pool.MaxConnections = 5
	require.Error(t, cfg.Validate())
}
