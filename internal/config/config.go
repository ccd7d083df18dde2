// Package config loads the syncboard.json configuration file and applies
// environment overrides. Precedence: defaults < file < environment < flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "syncboard.json"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":8080"

	// DefaultStorageBackend is used when no backend is configured.
	DefaultStorageBackend = "memory"
)

// Config is the complete service configuration.
type Config struct {
	// Address is the listen address (e.g. ":8080").
	Address string `json:"address,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// Storage selects and configures the durable storage backend.
	Storage StorageConfig `json:"storage,omitempty"`

	// Room tunes per-room limits and timers.
	Room RoomConfig `json:"room,omitempty"`
}

// StorageConfig selects the durable storage backend.
type StorageConfig struct {
	// Backend is one of memory, redis, postgres, s3.
	Backend string `json:"backend,omitempty"`

	// RedisURL configures the redis backend (redis://host:port/db).
	RedisURL string `json:"redis_url,omitempty"`

	// PostgresDSN configures the postgres backend.
	PostgresDSN string `json:"postgres_dsn,omitempty"`

	// S3Bucket and S3Prefix configure the s3 backend. Credentials and
	// region come from the standard AWS environment.
	S3Bucket string `json:"s3_bucket,omitempty"`
	S3Prefix string `json:"s3_prefix,omitempty"`
}

// RoomConfig tunes per-room limits and timers. Zero values keep the
// coordinator defaults.
type RoomConfig struct {
	// MaxSessions caps concurrent sessions per room. Default: 50.
	MaxSessions int `json:"max_sessions,omitempty"`

	// MaxMessageBytes caps inbound message size. Default: 2 MiB.
	MaxMessageBytes int `json:"max_message_bytes,omitempty"`

	// HeartbeatInterval is the probe sweep period. Default: 60s.
	HeartbeatInterval Duration `json:"heartbeat_interval,omitempty"`

	// HeartbeatTimeout is the silence after which a session is pruned.
	// Default: 90s.
	HeartbeatTimeout Duration `json:"heartbeat_timeout,omitempty"`

	// EvictionDelay is the idle time before an empty room is persisted
	// and torn down. Default: 5m.
	EvictionDelay Duration `json:"eviction_delay,omitempty"`
}

// Duration is a time.Duration that marshals as a string ("90s", "5m").
type Duration time.Duration

// UnmarshalJSON parses either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration: %s", data)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Address:  DefaultAddress,
		LogLevel: "info",
		Storage: StorageConfig{
			Backend: DefaultStorageBackend,
		},
	}
}

// Load reads path (optional; a missing default file is not an error),
// applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = ConfigFileName
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file is fine; defaults apply.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from SYNCBOARD_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("SYNCBOARD_ADDRESS"); v != "" {
		c.Address = v
	}
	if v := os.Getenv("SYNCBOARD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SYNCBOARD_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("SYNCBOARD_REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}
	if v := os.Getenv("SYNCBOARD_POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("SYNCBOARD_S3_BUCKET"); v != "" {
		c.Storage.S3Bucket = v
	}
	if v := os.Getenv("SYNCBOARD_S3_PREFIX"); v != "" {
		c.Storage.S3Prefix = v
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage backend %q requires redis_url", c.Storage.Backend)
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage backend %q requires postgres_dsn", c.Storage.Backend)
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("storage backend %q requires s3_bucket", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	if c.Room.MaxSessions < 0 {
		return fmt.Errorf("max_sessions must be non-negative")
	}
	return nil
}
