package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and single-node development.
// Data does not survive process restart.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
	alarms map[string]time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string][]byte),
		alarms: make(map[string]time.Time),
	}
}

// Get returns the bytes stored under key, or ErrNotFound.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put stores value under key.
func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = stored
	return nil
}

// SetAlarm records the eviction deadline for key.
func (m *Memory) SetAlarm(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarms[key] = at
	return nil
}

// DeleteAlarm clears the eviction deadline for key.
func (m *Memory) DeleteAlarm(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alarms, key)
	return nil
}

// Alarm returns the recorded deadline for key, if any. Test helper.
func (m *Memory) Alarm(key string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.alarms[key]
	return at, ok
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }
