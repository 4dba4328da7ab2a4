// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Balance    BalanceConfig    `yaml:"balance"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig configures the operator HTTP API.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// AdminTokenHash is the bcrypt hash of the X-Admin-Token value
	// required on operator endpoints. Empty disables auth (local use).
	AdminTokenHash string `yaml:"admin_token_hash,omitempty"`
}

// ReadPolicy decides what a balance read failure means.
type ReadPolicy string

const (
	// ReadFailOpen treats an unreadable balance as FailOpenBalance,
	// keeping calls up through transient store errors.
	ReadFailOpen ReadPolicy = "fail_open"

	// ReadFailClosed treats an unreadable balance as zero, cutting the
	// call off rather than billing blind.
	ReadFailClosed ReadPolicy = "fail_closed"
)

// BalanceConfig configures the balance store connection.
// Use "redis" for a shared counter service, "sqlite" for a single-node
// embedded store, or "memory" for tests and demos.
type BalanceConfig struct {
	Driver  string        `yaml:"driver"` // "redis", "sqlite" or "memory"
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	DB      int           `yaml:"db"`
	Timeout time.Duration `yaml:"timeout"`
	Path    string        `yaml:"path"` // sqlite database file

	ReadFailure     ReadPolicy `yaml:"read_failure"`      // fail_open or fail_closed
	FailOpenBalance float64    `yaml:"fail_open_balance"` // balance assumed under fail_open
}

// ThresholdsConfig configures balance thresholds and their actions.
// Zero amounts are meaningful (an account is cut off at or below the
// no-balance amount), so amounts have no implicit defaults; actions do.
type ThresholdsConfig struct {
	PerCallMaxAmount float64 `yaml:"percall_max_amt"`
	PerCallAction    string  `yaml:"percall_action"`
	LowBalanceAmount float64 `yaml:"lowbal_amt"`
	LowBalanceAction string  `yaml:"lowbal_action"`
	NoBalanceAmount  float64 `yaml:"nobal_amt"`
	NoBalanceAction  string  `yaml:"nobal_action"`
}

// HeartbeatConfig configures the global billing heartbeat.
type HeartbeatConfig struct {
	// IntervalSecs bills every billable session this often. 0 disables
	// the global heartbeat; sessions can still opt in individually via
	// the heartbeat command.
	IntervalSecs int `yaml:"interval_secs"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Interval returns the global heartbeat interval as a duration, zero
// when disabled.
func (h HeartbeatConfig) Interval() time.Duration {
	return time.Duration(h.IntervalSecs) * time.Second
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	NIBBLE_BALANCE_DRIVER    - Balance store driver: redis, sqlite, memory (default: redis)
//	NIBBLE_BALANCE_HOST      - Balance store host (default: 127.0.0.1)
//	NIBBLE_BALANCE_PORT      - Balance store port (default: 6379)
//	NIBBLE_BALANCE_TIMEOUT   - Per-operation timeout (default: 5s)
//	NIBBLE_SERVER_HOST       - Operator API host (default: 0.0.0.0)
//	NIBBLE_SERVER_PORT       - Operator API port (default: 8080)
//	NIBBLE_HEARTBEAT_SECS    - Global heartbeat interval in seconds (default: 0, off)
//	NIBBLE_LOG_LEVEL         - Log level: debug, info, warn, error (default: info)
//	NIBBLE_LOG_FORMAT        - Log format: json or console (default: json)
//	NIBBLE_METRICS_ENABLED   - Enable /metrics endpoint (default: false)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables when the file is absent.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies NIBBLE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("NIBBLE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("NIBBLE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("NIBBLE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("NIBBLE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if v := os.Getenv("NIBBLE_ADMIN_TOKEN_HASH"); v != "" {
		cfg.Server.AdminTokenHash = v
	}

	// Balance store configuration
	if v := os.Getenv("NIBBLE_BALANCE_DRIVER"); v != "" {
		cfg.Balance.Driver = v
	}
	if v := os.Getenv("NIBBLE_BALANCE_HOST"); v != "" {
		cfg.Balance.Host = v
	}
	if v := os.Getenv("NIBBLE_BALANCE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Balance.Port = port
		}
	}
	if v := os.Getenv("NIBBLE_BALANCE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Balance.DB = db
		}
	}
	if v := os.Getenv("NIBBLE_BALANCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Balance.Timeout = d
		}
	}
	if v := os.Getenv("NIBBLE_BALANCE_PATH"); v != "" {
		cfg.Balance.Path = v
	}
	if v := os.Getenv("NIBBLE_BALANCE_READ_FAILURE"); v != "" {
		cfg.Balance.ReadFailure = ReadPolicy(v)
	}
	if v := os.Getenv("NIBBLE_BALANCE_FAIL_OPEN_BALANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Balance.FailOpenBalance = f
		}
	}

	// Threshold configuration
	if v := os.Getenv("NIBBLE_PERCALL_MAX_AMT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.PerCallMaxAmount = f
		}
	}
	if v := os.Getenv("NIBBLE_PERCALL_ACTION"); v != "" {
		cfg.Thresholds.PerCallAction = v
	}
	if v := os.Getenv("NIBBLE_LOWBAL_AMT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.LowBalanceAmount = f
		}
	}
	if v := os.Getenv("NIBBLE_LOWBAL_ACTION"); v != "" {
		cfg.Thresholds.LowBalanceAction = v
	}
	if v := os.Getenv("NIBBLE_NOBAL_AMT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.NoBalanceAmount = f
		}
	}
	if v := os.Getenv("NIBBLE_NOBAL_ACTION"); v != "" {
		cfg.Thresholds.NoBalanceAction = v
	}

	// Heartbeat configuration
	if v := os.Getenv("NIBBLE_HEARTBEAT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Heartbeat.IntervalSecs = n
		}
	}

	// Logging configuration
	if v := os.Getenv("NIBBLE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NIBBLE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("NIBBLE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("NIBBLE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Balance.Driver == "" {
		cfg.Balance.Driver = "redis"
	}
	if cfg.Balance.Host == "" {
		cfg.Balance.Host = "127.0.0.1"
	}
	if cfg.Balance.Port == 0 {
		cfg.Balance.Port = 6379
	}
	if cfg.Balance.Timeout == 0 {
		cfg.Balance.Timeout = 5 * time.Second
	}
	if cfg.Balance.Path == "" {
		cfg.Balance.Path = "nibble.db"
	}
	if cfg.Balance.ReadFailure == "" {
		cfg.Balance.ReadFailure = ReadFailOpen
	}
	if cfg.Balance.FailOpenBalance == 0 {
		cfg.Balance.FailOpenBalance = 1.0
	}

	// Every action defaults to something non-empty so a threshold
	// crossing never silently does nothing.
	if cfg.Thresholds.PerCallAction == "" {
		cfg.Thresholds.PerCallAction = "hangup"
	}
	if cfg.Thresholds.LowBalanceAction == "" {
		cfg.Thresholds.LowBalanceAction = "playback tone_stream://%(200,0,500)"
	}
	if cfg.Thresholds.NoBalanceAction == "" {
		cfg.Thresholds.NoBalanceAction = "hangup"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"redis": true, "sqlite": true, "memory": true}
	if !validDrivers[cfg.Balance.Driver] {
		return fmt.Errorf("balance.driver must be 'redis', 'sqlite' or 'memory', got %q", cfg.Balance.Driver)
	}
	if cfg.Balance.Driver == "redis" && cfg.Balance.Host == "" {
		return fmt.Errorf("balance.host is required when balance.driver is 'redis'")
	}

	switch cfg.Balance.ReadFailure {
	case ReadFailOpen, ReadFailClosed:
	default:
		return fmt.Errorf("balance.read_failure must be 'fail_open' or 'fail_closed', got %q", cfg.Balance.ReadFailure)
	}

	if cfg.Heartbeat.IntervalSecs < 0 {
		return fmt.Errorf("heartbeat.interval_secs must be >= 0, got %d", cfg.Heartbeat.IntervalSecs)
	}

	if cfg.Thresholds.NoBalanceAmount > cfg.Thresholds.LowBalanceAmount {
		return fmt.Errorf("thresholds.nobal_amt (%v) must not exceed thresholds.lowbal_amt (%v)",
			cfg.Thresholds.NoBalanceAmount, cfg.Thresholds.LowBalanceAmount)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}
