package room

import "time"

// Registry tracks the live sessions of one room and enforces the
// connection cap. It is owned and mutated exclusively by the room's event
// loop, so it carries no lock.
type Registry struct {
	sessions    map[*Session]struct{}
	maxSessions int
}

// NewRegistry creates an empty registry capped at maxSessions.
func NewRegistry(maxSessions int) *Registry {
	return &Registry{
		sessions:    make(map[*Session]struct{}),
		maxSessions: maxSessions,
	}
}

// Admit creates and registers a session for conn. It rejects with
// ErrCapacityExceeded once the cap is reached and ErrMissingIdentity when
// no authenticated identity was forwarded. Existing sessions are never
// affected by a rejection.
func (r *Registry) Admit(conn Conn, identity string, now time.Time) (*Session, error) {
	if identity == "" {
		return nil, ErrMissingIdentity
	}
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return nil, ErrCapacityExceeded
	}

	session := newSession(conn, identity, now)
	r.sessions[session] = struct{}{}
	return session, nil
}

// Remove deregisters a session. Removing an already-removed session is a
// no-op. It reports whether the session was present.
func (r *Registry) Remove(session *Session) bool {
	if _, ok := r.sessions[session]; !ok {
		return false
	}
	delete(r.sessions, session)
	return true
}

// Touch records a liveness acknowledgment for the session.
func (r *Registry) Touch(session *Session, now time.Time) {
	if _, ok := r.sessions[session]; ok {
		session.lastAck = now
	}
}

// Has reports whether the session is currently registered.
func (r *Registry) Has(session *Session) bool {
	_, ok := r.sessions[session]
	return ok
}

// IsEmpty reports whether no sessions remain.
func (r *Registry) IsEmpty() bool {
	return len(r.sessions) == 0
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Each calls fn for every registered session. fn must not mutate the
// registry; collect first when removal is needed.
func (r *Registry) Each(fn func(*Session)) {
	for session := range r.sessions {
		fn(session)
	}
}

// Sessions returns a snapshot slice of the registered sessions, safe to
// iterate while removing.
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for session := range r.sessions {
		out = append(out, session)
	}
	return out
}
