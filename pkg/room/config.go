package room

import (
	"time"

	"github.com/syncboard/syncboard/pkg/protocol"
)

// Config holds per-room tuning. One Config is shared by every room a
// Manager creates; rooms never mutate it.
type Config struct {
	// Limits

	// MaxSessions is the maximum number of concurrent sessions per room.
	// Admission beyond it is rejected. Default: 50.
	MaxSessions int

	// MaxMessageSize is the maximum size of an inbound wire message.
	// Default: 2 MiB.
	MaxMessageSize int

	// InboxSize is the room command channel buffer.
	// Default: 256.
	InboxSize int

	// Heartbeat

	// HeartbeatInterval is the time between liveness probe sweeps.
	// Default: 60 seconds.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is the silence after which a session is evicted.
	// Default: 90 seconds.
	HeartbeatTimeout time.Duration

	// Lifecycle

	// EvictionDelay is how long an empty room stays resident before it is
	// persisted and torn down. Default: 5 minutes.
	EvictionDelay time.Duration

	// PersistTimeout bounds each durable-storage read or write.
	// Default: 10 seconds.
	PersistTimeout time.Duration

	// Clock returns the current time. Overridden in tests to drive
	// heartbeat-timeout sweeps with a simulated clock.
	// Default: time.Now.
	Clock func() time.Time
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxSessions:       50,
		MaxMessageSize:    protocol.MaxMessageSize,
		InboxSize:         256,
		HeartbeatInterval: 60 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		EvictionDelay:     5 * time.Minute,
		PersistTimeout:    10 * time.Second,
		Clock:             time.Now,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// WithMaxSessions sets the session cap and returns the config for chaining.
func (c *Config) WithMaxSessions(max int) *Config {
	c.MaxSessions = max
	return c
}

// WithEvictionDelay sets the idle eviction delay and returns the config
// for chaining.
func (c *Config) WithEvictionDelay(d time.Duration) *Config {
	c.EvictionDelay = d
	return c
}

// now returns the configured clock's time, defaulting to the wall clock.
func (c *Config) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}
