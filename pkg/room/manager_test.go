package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/syncboard/syncboard/pkg/crdt"
	"github.com/syncboard/syncboard/pkg/protocol"
	"github.com/syncboard/syncboard/pkg/storage"
)

func startManager(t *testing.T, cfg *Config, store storage.Store) *Manager {
	t.Helper()
	if cfg == nil {
		cfg = testRoomConfig(nil)
	}
	if store == nil {
		store = storage.NewMemory()
	}
	m := NewManager(cfg, store, testLogger(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m
}

func TestManagerOneRoomPerDocument(t *testing.T) {
	m := startManager(t, nil, nil)
	ctx := context.Background()

	r1, _, err := m.Admit(ctx, "doc-1", &fakeConn{}, "alice")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	r2, _, err := m.Admit(ctx, "doc-1", &fakeConn{}, "bob")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if r1 != r2 {
		t.Error("two connections for one document must share a room instance")
	}

	other, _, err := m.Admit(ctx, "doc-2", &fakeConn{}, "carol")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if other == r1 {
		t.Error("distinct documents must get distinct rooms")
	}
	if m.Count() != 2 {
		t.Errorf("Count = %d, want 2", m.Count())
	}
}

func TestManagerRoomIsolation(t *testing.T) {
	m := startManager(t, nil, nil)
	ctx := context.Background()

	r1, aliceSession, err := m.Admit(ctx, "doc-1", &fakeConn{}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = m.Admit(ctx, "doc-1", &fakeConn{}, "bob")
	if err != nil {
		t.Fatal(err)
	}
	otherConn := &fakeConn{}
	if _, _, err := m.Admit(ctx, "doc-2", otherConn, "carol"); err != nil {
		t.Fatal(err)
	}

	r1.Deliver(aliceSession, updateFrom("actor-a", "node-1", "red"))
	waitFor(t, func() bool {
		return r1.Stats().UpdatesMerged == 1
	}, "update to merge in doc-1")

	if len(otherConn.envelopesOf(t, protocol.TypeUpdate)) != 0 {
		t.Error("update leaked across rooms")
	}
}

func TestManagerRejectsMissingIdentity(t *testing.T) {
	m := startManager(t, nil, nil)

	_, _, err := m.Admit(context.Background(), "doc-1", &fakeConn{}, "")
	if !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("err = %v, want ErrMissingIdentity", err)
	}
	if m.Count() != 0 {
		t.Error("rejected admission must not create a room")
	}
}

// Full idle cycle: the room persists, evicts, disappears from the
// manager, and a later connection gets a fresh instance serving the
// persisted state.
func TestManagerEvictionAndResurrection(t *testing.T) {
	cfg := testRoomConfig(nil)
	cfg.EvictionDelay = 20 * time.Millisecond
	store := storage.NewMemory()
	m := startManager(t, cfg, store)
	ctx := context.Background()

	r1, aliceSession, err := m.Admit(ctx, "doc-1", &fakeConn{}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	r1.Deliver(aliceSession, updateFrom("actor-a", "node-1", "red"))
	waitFor(t, func() bool {
		return r1.Stats().UpdatesMerged == 1
	}, "update to merge")

	r1.Leave(aliceSession)
	waitFor(t, func() bool {
		return m.Count() == 0
	}, "evicted room to leave the manager")

	bobConn := &fakeConn{}
	r2, _, err := m.Admit(ctx, "doc-1", bobConn, "bob")
	if err != nil {
		t.Fatalf("Admit after eviction: %v", err)
	}
	if r2 == r1 {
		t.Error("post-eviction admission must create a fresh instance")
	}

	doc := crdt.New("")
	if err := doc.Restore(bobConn.syncSnapshot(t)); err != nil {
		t.Fatal(err)
	}
	if value, ok := doc.Get("node-1"); !ok || string(value) != "red" {
		t.Errorf("resurrected room lost persisted state, got %q", value)
	}
}

func TestManagerStats(t *testing.T) {
	m := startManager(t, nil, nil)
	ctx := context.Background()

	m.Admit(ctx, "doc-b", &fakeConn{}, "alice")
	m.Admit(ctx, "doc-a", &fakeConn{}, "bob")
	m.Admit(ctx, "doc-a", &fakeConn{}, "carol")

	stats := m.Stats()
	if stats.ActiveRooms != 2 {
		t.Errorf("ActiveRooms = %d, want 2", stats.ActiveRooms)
	}
	if stats.ActiveSessions != 3 {
		t.Errorf("ActiveSessions = %d, want 3", stats.ActiveSessions)
	}
	if stats.TotalCreated != 2 {
		t.Errorf("TotalCreated = %d, want 2", stats.TotalCreated)
	}
	if len(stats.Rooms) != 2 || stats.Rooms[0].ID != "doc-a" || stats.Rooms[1].ID != "doc-b" {
		t.Errorf("Rooms not sorted by ID: %+v", stats.Rooms)
	}
}

func TestManagerShutdown(t *testing.T) {
	store := storage.NewMemory()
	m := NewManager(testRoomConfig(nil), store, testLogger(), nil)
	ctx := context.Background()

	r, aliceSession, err := m.Admit(ctx, "doc-1", &fakeConn{}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	r.Deliver(aliceSession, updateFrom("actor-a", "node-1", "red"))
	waitFor(t, func() bool {
		return r.Stats().UpdatesMerged == 1
	}, "update to merge")

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	m.Shutdown(shutdownCtx)

	if _, err := store.Get(ctx, "doc-1"); err != nil {
		t.Errorf("snapshot not persisted on manager shutdown: %v", err)
	}
	if _, _, err := m.Admit(ctx, "doc-1", &fakeConn{}, "bob"); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Admit after shutdown: err = %v, want ErrManagerClosed", err)
	}
	if m.Count() != 0 {
		t.Errorf("Count = %d after shutdown, want 0", m.Count())
	}
}
