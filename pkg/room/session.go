package room

import (
	"time"

	"github.com/google/uuid"

	"github.com/syncboard/syncboard/pkg/protocol"
)

// Conn is the transport half of a session. The websocket adapter in the
// HTTP layer satisfies it; tests use in-process fakes.
type Conn interface {
	// WriteMessage sends one complete message. Implementations apply
	// their own write deadline and locking.
	WriteMessage(data []byte) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Session represents one live client connection within a room. A Session
// is owned by the room that admitted it: lastAck is mutated only by the
// heartbeat sweep and removal happens only on the room's event loop.
type Session struct {
	// ID uniquely identifies the session for logs and stats.
	ID string

	// Identity is the authenticated identity string forwarded by the
	// front door. Never raw credentials.
	Identity string

	// JoinedAt is when the session was admitted.
	JoinedAt time.Time

	conn    Conn
	lastAck time.Time
}

func newSession(conn Conn, identity string, now time.Time) *Session {
	return &Session{
		ID:       uuid.NewString(),
		Identity: identity,
		JoinedAt: now,
		conn:     conn,
		lastAck:  now,
	}
}

// send writes raw bytes to the session's connection.
func (s *Session) send(data []byte) error {
	if err := s.conn.WriteMessage(data); err != nil {
		return &DeliveryError{SessionID: s.ID, Err: err}
	}
	return nil
}

// sendEnvelope encodes and writes an internally constructed envelope.
func (s *Session) sendEnvelope(env *protocol.Envelope) error {
	return s.send(protocol.Encode(env))
}

// close releases the underlying connection.
func (s *Session) close() {
	s.conn.Close()
}
