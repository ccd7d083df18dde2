// Package storage provides durable persistence for room document snapshots
// and eviction alarms, behind a backend-neutral interface.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("storage: not found")

// Store is the durable storage contract consumed by the room lifecycle
// manager. The coordinator uses one snapshot key and one alarm slot per
// room; rooms never share keys.
//
// The alarm slot mirrors the snapshot's hibernation deadline so that an
// external scheduler could resurrect evicted rooms. The in-process
// eviction timer remains authoritative; a stale persisted alarm is
// harmless because the eviction handler re-checks room emptiness.
type Store interface {
	// Get returns the bytes stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any prior value.
	Put(ctx context.Context, key string, value []byte) error

	// SetAlarm records the eviction deadline for key, replacing any
	// prior alarm.
	SetAlarm(ctx context.Context, key string, at time.Time) error

	// DeleteAlarm clears the eviction deadline for key. Clearing an
	// absent alarm is a no-op.
	DeleteAlarm(ctx context.Context, key string) error

	// Ping reports backend reachability.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
