package room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/syncboard/syncboard/pkg/protocol"
	"github.com/syncboard/syncboard/pkg/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeConn is an in-process Conn that records everything written to it.
type fakeConn struct {
	mu         sync.Mutex
	messages   [][]byte
	closed     bool
	failWrites bool
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites || c.closed {
		return errors.New("fake write failure")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.messages = append(c.messages, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) failFromNow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = true
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// envelopes decodes every recorded message.
func (c *fakeConn) envelopes(t *testing.T) []*protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*protocol.Envelope, 0, len(c.messages))
	for _, raw := range c.messages {
		env, err := protocol.Decode(raw, 0)
		if err != nil {
			t.Fatalf("recorded message does not decode: %v", err)
		}
		out = append(out, env)
	}
	return out
}

// envelopesOf filters recorded envelopes by type.
func (c *fakeConn) envelopesOf(t *testing.T, typ protocol.Type) []*protocol.Envelope {
	t.Helper()
	var out []*protocol.Envelope
	for _, env := range c.envelopes(t) {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

// syncSnapshot extracts the snapshot bytes from the initial sync envelope.
func (c *fakeConn) syncSnapshot(t *testing.T) []byte {
	t.Helper()
	syncs := c.envelopesOf(t, protocol.TypeSync)
	if len(syncs) != 1 {
		t.Fatalf("got %d sync envelopes, want 1", len(syncs))
	}
	var snapshot []byte
	if err := json.Unmarshal(syncs[0].State, &snapshot); err != nil {
		t.Fatalf("unmarshal sync state: %v", err)
	}
	return snapshot
}

// fakeClock is a manually advanced clock for heartbeat tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// flakyStore wraps a Store and fails operations on demand.
type flakyStore struct {
	storage.Store

	mu   sync.Mutex
	fail bool
}

func (s *flakyStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *flakyStore) failing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.failing() {
		return nil, errors.New("injected store failure")
	}
	return s.Store.Get(ctx, key)
}

func (s *flakyStore) Put(ctx context.Context, key string, value []byte) error {
	if s.failing() {
		return errors.New("injected store failure")
	}
	return s.Store.Put(ctx, key, value)
}
