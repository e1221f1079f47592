// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration from the environment.
// Every knob has a default suitable for local development; validation
// catches the values that would only fail later at runtime.
package config

import (
	"fmt"
	"net"
	"time"
)

// Config is the full daemon configuration.
type Config struct {
	// ListenAddr is the HTTP bind address for the API and metrics.
	ListenAddr string

	// DataDir is the Badger database directory. Empty selects an
	// in-memory database, for tests and ephemeral runs.
	DataDir string

	// RedisAddr is the host:port of the Redis holding lap histories.
	RedisAddr string
	// RedisPassword may be empty.
	RedisPassword string
	// RedisDB is the logical database index.
	RedisDB int

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string

	// ShutdownGrace bounds how long the daemon waits for in-flight
	// work on termination.
	ShutdownGrace time.Duration

	// SnapshotRateLimit is the per-client request budget per minute on
	// the snapshot endpoint.
	SnapshotRateLimit int
}

// FromEnv assembles the configuration from PITWALL_* variables.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:        ParseString("PITWALL_LISTEN_ADDR", ":8080"),
		DataDir:           ParseString("PITWALL_DATA_DIR", "./data"),
		RedisAddr:         ParseString("PITWALL_REDIS_ADDR", "localhost:6379"),
		RedisPassword:     ParseString("PITWALL_REDIS_PASSWORD", ""),
		RedisDB:           ParseInt("PITWALL_REDIS_DB", 0),
		LogLevel:          ParseString("PITWALL_LOG_LEVEL", "info"),
		ShutdownGrace:     ParseDuration("PITWALL_SHUTDOWN_GRACE", 10*time.Second),
		SnapshotRateLimit: ParseInt("PITWALL_SNAPSHOT_RATE_LIMIT", 120),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen address %q: %w", c.ListenAddr, err)
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis address must not be empty")
	}
	if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
		return fmt.Errorf("redis address %q: %w", c.RedisAddr, err)
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("redis db %d outside 0..15", c.RedisDB)
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown grace must be positive, got %s", c.ShutdownGrace)
	}
	if c.SnapshotRateLimit < 1 {
		return fmt.Errorf("snapshot rate limit must be at least 1, got %d", c.SnapshotRateLimit)
	}
	return nil
}
