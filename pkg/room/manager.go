package room

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/syncboard/syncboard/pkg/storage"
)

// Manager is the process-local registry of active rooms: one coordinator
// instance per document ID, created on demand. It is an explicit,
// injectable object created at process start; entries are added on room
// activation and removed on eviction.
type Manager struct {
	config  *Config
	store   storage.Store
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.RWMutex
	rooms  map[string]*Room
	closed bool

	totalCreated atomic.Uint64
	totalEvicted atomic.Uint64
}

// NewManager creates a room manager backed by store. A nil config uses
// DefaultConfig; a nil logger uses slog.Default. metrics may be nil.
func NewManager(config *Config, store storage.Store, logger *slog.Logger, metrics *Metrics) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		config:  config,
		store:   store,
		logger:  logger.With("component", "room_manager"),
		metrics: metrics,
		rooms:   make(map[string]*Room),
	}
}

// Admit is the single entry point for new connections. The caller must
// have verified that identity is authorized for roomID; only the verified
// identity string is forwarded here, never credentials. On success the
// session has received its initial sync snapshot and is being served.
func (m *Manager) Admit(ctx context.Context, roomID string, conn Conn, identity string) (*Room, *Session, error) {
	if identity == "" {
		m.metrics.rejected(RejectionReason(ErrMissingIdentity))
		return nil, nil, ErrMissingIdentity
	}

	// A room can reach its terminal state between lookup and join; retry
	// against a fresh instance, which restores persisted state.
	for {
		r, err := m.getOrCreate(roomID)
		if err != nil {
			return nil, nil, err
		}

		session, err := r.Join(ctx, conn, identity)
		if errors.Is(err, ErrRoomClosed) {
			m.forget(r)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return r, session, nil
	}
}

// getOrCreate returns the live room for roomID, creating it lazily.
func (m *Manager) getOrCreate(roomID string) (*Room, error) {
	m.mu.RLock()
	r, ok := m.rooms[roomID]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrManagerClosed
	}
	if ok {
		return r, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if r, ok := m.rooms[roomID]; ok {
		return r, nil
	}

	r = newRoom(roomID, m.config, m.store, m.logger, m.metrics, m.onEvict)
	m.rooms[roomID] = r
	m.totalCreated.Add(1)
	m.logger.Info("room created", "room_id", roomID, "active_rooms", len(m.rooms))
	return r, nil
}

// Get returns the live room for roomID, if any.
func (m *Manager) Get(roomID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID]
}

// Count returns the number of resident rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// onEvict runs on a room's event loop after its terminal transition.
func (m *Manager) onEvict(r *Room) {
	m.totalEvicted.Add(1)
	m.forget(r)
}

// forget removes r from the registry if it is still the registered
// instance for its ID.
func (m *Manager) forget(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.rooms[r.ID]; ok && current == r {
		delete(m.rooms, r.ID)
	}
}

// ManagerStats aggregates counters across all rooms.
type ManagerStats struct {
	ActiveRooms    int     `json:"active_rooms"`
	ActiveSessions int     `json:"active_sessions"`
	TotalCreated   uint64  `json:"total_rooms_created"`
	TotalEvicted   uint64  `json:"total_rooms_evicted"`
	Rooms          []Stats `json:"rooms"`
}

// Stats returns a snapshot across all resident rooms, sorted by room ID.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	stats := ManagerStats{
		ActiveRooms:  len(rooms),
		TotalCreated: m.totalCreated.Load(),
		TotalEvicted: m.totalEvicted.Load(),
		Rooms:        make([]Stats, 0, len(rooms)),
	}
	for _, r := range rooms {
		rs := r.Stats()
		stats.ActiveSessions += rs.Sessions
		stats.Rooms = append(stats.Rooms, rs)
	}
	sort.Slice(stats.Rooms, func(i, j int) bool {
		return stats.Rooms[i].ID < stats.Rooms[j].ID
	})
	return stats
}

// Shutdown drains every room: sessions are closed and each document is
// persisted. New admissions fail with ErrManagerClosed. ctx bounds the
// whole drain.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range rooms {
		wg.Add(1)
		go func(r *Room) {
			defer wg.Done()
			r.Shutdown(ctx)
		}(r)
	}
	wg.Wait()

	m.logger.Info("manager shut down", "drained_rooms", len(rooms))
}
