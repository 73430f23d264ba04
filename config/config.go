// Package config loads sessionpool settings from defaults, a YAML file and
// SESSIONPOOL_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/guileen/sessionpool/network"
)

// Config holds configuration for a sessionpool process
type Config struct {
	Driver     string        `yaml:"driver"`
	Descriptor string        `yaml:"descriptor"`
	Listen     string        `yaml:"listen"`
	Pool       PoolConfig    `yaml:"pool"`
	Logging    LoggingConfig `yaml:"logging"`
}

// PoolConfig is the file form of network.PoolConfig
type PoolConfig struct {
	Name              string        `yaml:"name"`
	MaxConnections    int           `yaml:"max_connections"`
	MinConnections    int           `yaml:"min_connections"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxLifetime       time.Duration `yaml:"max_lifetime"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period"`
	TestOnCheckout    bool          `yaml:"test_on_checkout"`
}

// LoggingConfig selects the log level and format
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration: a SQL Server session on
// localhost with the default pool settings.
func DefaultConfig() Config {
	p := network.DefaultPoolConfig()
	return Config{
		Driver:     "sqlserver",
		Descriptor: "server=localhost:1433;user=auth;password=auth;",
		Pool: PoolConfig{
			Name:              p.Name,
			MaxConnections:    p.MaxConnections,
			MinConnections:    p.MinConnections,
			ConnectionTimeout: p.ConnectionTimeout,
			IdleTimeout:       p.IdleTimeout,
			MaxLifetime:       p.MaxLifetime,
			HealthCheckPeriod: p.HealthCheckPeriod,
			TestOnCheckout:    p.TestOnCheckout,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// LoadFile reads a YAML file over the defaults. Keys missing from the file
// keep their default values.
func LoadFile(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parse config %s: %w", path, err)
	}
	return config, nil
}

// LoadConfig loads configuration from environment variables on top of the
// defaults
func LoadConfig() Config {
	config := DefaultConfig()
	config.ApplyEnv()
	return config
}

// ApplyEnv overrides fields from SESSIONPOOL_* environment variables.
// Malformed values are ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SESSIONPOOL_DRIVER"); v != "" {
		c.Driver = v
	}
	if v := os.Getenv("SESSIONPOOL_DESCRIPTOR"); v != "" {
		c.Descriptor = v
	}
	if v := os.Getenv("SESSIONPOOL_LISTEN"); v != "" {
		c.Listen = v
	}

	if v := os.Getenv("SESSIONPOOL_POOL_NAME"); v != "" {
		c.Pool.Name = v
	}
	if v := os.Getenv("SESSIONPOOL_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pool.MaxConnections = n
		}
	}
	if v := os.Getenv("SESSIONPOOL_MIN_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Pool.MinConnections = n
		}
	}

	// durations are in milliseconds
	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"SESSIONPOOL_CONNECTION_TIMEOUT_MS", &c.Pool.ConnectionTimeout},
		{"SESSIONPOOL_IDLE_TIMEOUT_MS", &c.Pool.IdleTimeout},
		{"SESSIONPOOL_MAX_LIFETIME_MS", &c.Pool.MaxLifetime},
		{"SESSIONPOOL_HEALTH_CHECK_PERIOD_MS", &c.Pool.HealthCheckPeriod},
	}
	for _, d := range durations {
		if v := os.Getenv(d.env); v != "" {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
				*d.dst = time.Duration(ms) * time.Millisecond
			}
		}
	}

	if v := os.Getenv("SESSIONPOOL_TEST_ON_CHECKOUT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Pool.TestOnCheckout = b
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

var (
	ErrNoDriver     = errors.New("driver is required")
	ErrNoDescriptor = errors.New("descriptor is required")
)

// Validate reports every problem with the configuration
func (c Config) Validate() error {
	var errs []error
	if c.Driver == "" {
		errs = append(errs, ErrNoDriver)
	}
	if c.Descriptor == "" {
		errs = append(errs, ErrNoDescriptor)
	}
	if c.Pool.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("pool.max_connections must not be negative, got %d", c.Pool.MaxConnections))
	}
	if c.Pool.MinConnections < 0 {
		errs = append(errs, fmt.Errorf("pool.min_connections must not be negative, got %d", c.Pool.MinConnections))
	}
	if c.Pool.MaxConnections > 0 && c.Pool.MinConnections > c.Pool.MaxConnections {
		errs = append(errs, fmt.Errorf("pool.min_connections (%d) exceeds pool.max_connections (%d)",
			c.Pool.MinConnections, c.Pool.MaxConnections))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// PoolConfig converts the pool section for network.NewConnectionPool
func (c Config) PoolConfig() network.PoolConfig {
	return network.PoolConfig{
		Name:              c.Pool.Name,
		MaxConnections:    c.Pool.MaxConnections,
		MinConnections:    c.Pool.MinConnections,
		ConnectionTimeout: c.Pool.ConnectionTimeout,
		IdleTimeout:       c.Pool.IdleTimeout,
		MaxLifetime:       c.Pool.MaxLifetime,
		HealthCheckPeriod: c.Pool.HealthCheckPeriod,
		TestOnCheckout:    c.Pool.TestOnCheckout,
	}
}
