// Package config loads and validates the DataSource's YAML configuration,
// grounded on internal/config/config.go's Load/Validate shape: read file,
// yaml.Unmarshal, run domain-specific Validate, wrap every error with
// fmt.Errorf/%w.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a DataSource.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Pool       PoolConfig       `yaml:"pool"`
	TLS        TLSConfig        `yaml:"tls"`
	Redis      RedisConfig      `yaml:"redis"`
	Admin      AdminConfig      `yaml:"admin"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ConnectionConfig identifies the MySQL server and credentials.
type ConnectionConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Address formats host:port for net.Dial.
func (c ConnectionConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PoolConfig mirrors pool.Config's tunables, expressed in YAML-friendly
// durations (parsed as Go duration strings, e.g. "30s").
type PoolConfig struct {
	MinConnections         int           `yaml:"min_connections"`
	MaxConnections         int           `yaml:"max_connections"`
	ConnectionTimeout      time.Duration `yaml:"connection_timeout"`
	IdleTimeout            time.Duration `yaml:"idle_timeout"`
	MaxLifetime            time.Duration `yaml:"max_lifetime"`
	ValidationTimeout      time.Duration `yaml:"validation_timeout"`
	KeepaliveTime          time.Duration `yaml:"keepalive_time"`
	LeakDetectionThreshold time.Duration `yaml:"leak_detection_threshold"`
	HousekeeperInterval    time.Duration `yaml:"housekeeper_interval"`
}

// TLSConfig configures the outbound connection to MySQL.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CAFile     string `yaml:"ca_file"`
	ServerName string `yaml:"server_name"`
	SkipVerify bool   `yaml:"skip_verify"`
}

// RedisConfig points at the store used for dynamic pool reconfiguration
// (internal/poolconfig). Host == "" disables dynamic reconfiguration.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
	Channel  string `yaml:"channel"`
}

// AdminConfig configures the optional cmd/poolserver HTTP side-car.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LoggingConfig configures the base slog logger DataSource builds. Only
// Level is applied; Format is parsed but not used, since the package
// logger always writes JSON.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with spec.md's documented pool defaults; the
// connection fields are left zero-valued for the caller to fill in.
func Default() Config {
	return Config{
		Pool: PoolConfig{
			MaxConnections:      10,
			ConnectionTimeout:   30 * time.Second,
			IdleTimeout:         10 * time.Minute,
			MaxLifetime:         30 * time.Minute,
			ValidationTimeout:   5 * time.Second,
			KeepaliveTime:       2 * time.Minute,
			HousekeeperInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads and parses a YAML config file, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate runs the preflight checks the DataSource requires before it
// will dial anything.
func (c Config) Validate() error {
	if c.Connection.Host == "" {
		return fmt.Errorf("config: connection.host is required")
	}
	if c.Connection.Port == 0 {
		return fmt.Errorf("config: connection.port is required")
	}
	if c.Connection.Database == "" {
		return fmt.Errorf("config: connection.database is required")
	}
	if c.Pool.MinConnections < 0 {
		return fmt.Errorf("config: pool.min_connections must be >= 0")
	}
	if c.Pool.MaxConnections < 1 {
		return fmt.Errorf("config: pool.max_connections must be >= 1")
	}
	if c.Pool.MinConnections > c.Pool.MaxConnections {
		return fmt.Errorf("config: pool.min_connections (%d) must be <= pool.max_connections (%d)",
			c.Pool.MinConnections, c.Pool.MaxConnections)
	}
	if c.Pool.MaxLifetime > 0 && c.Pool.KeepaliveTime > 0 && c.Pool.MaxLifetime <= c.Pool.KeepaliveTime {
		return fmt.Errorf("config: pool.max_lifetime (%s) must be > pool.keepalive_time (%s)",
			c.Pool.MaxLifetime, c.Pool.KeepaliveTime)
	}
	if c.Pool.ConnectionTimeout < 0 || c.Pool.IdleTimeout < 0 || c.Pool.ValidationTimeout < 0 || c.Pool.KeepaliveTime < 0 {
		return fmt.Errorf("config: pool timeouts must be non-negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid logging.level: %s", c.Logging.Level)
	}
	return nil
}
