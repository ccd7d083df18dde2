// Package protocol defines the wire envelopes exchanged between the
// coordinator and its clients, and the codec that validates them before
// any payload processing happens.
package protocol

import (
	"encoding/json"
	"errors"
)

// MaxMessageSize is the default maximum size of an inbound wire message.
// Oversized messages are rejected with an error envelope; the connection
// stays open.
const MaxMessageSize = 2 << 20 // 2 MiB

// Sentinel errors for envelope decoding.
var (
	// ErrTooLarge is returned when a raw message exceeds the size limit.
	ErrTooLarge = errors.New("protocol: message too large")

	// ErrMalformed is returned when a raw message is not well-formed JSON
	// or a typed payload has the wrong shape.
	ErrMalformed = errors.New("protocol: malformed envelope")

	// ErrMissingType is returned when the type field is absent or not a string.
	ErrMissingType = errors.New("protocol: missing envelope type")

	// ErrUnknownType is returned when the type field is not in the closed set.
	ErrUnknownType = errors.New("protocol: unknown envelope type")
)

// Type discriminates envelope payloads.
type Type string

// The closed set of envelope types.
const (
	// TypeSync carries a full document snapshot. Server to client only,
	// sent once on admission.
	TypeSync Type = "sync"

	// TypeUpdate carries an incremental document delta. Bidirectional.
	TypeUpdate Type = "update"

	// TypeAwareness carries opaque ephemeral presence state. Bidirectional,
	// never persisted, never merged into the document.
	TypeAwareness Type = "awareness"

	// TypePing and TypePong are liveness probes. Bidirectional.
	TypePing Type = "ping"
	TypePong Type = "pong"

	// TypeError reports a per-message failure back to the sender.
	// Server to client only.
	TypeError Type = "error"
)

// Known reports whether t is a type clients are allowed to send or receive.
func (t Type) Known() bool {
	switch t {
	case TypeSync, TypeUpdate, TypeAwareness, TypePing, TypePong, TypeError:
		return true
	}
	return false
}

// Envelope is the unit of wire communication. The payload shape is
// determined by Type; unused fields stay empty and are omitted on encode.
type Envelope struct {
	Type Type `json:"type"`

	// State carries the snapshot bytes of a sync envelope (base64 JSON
	// string) or the opaque payload of an awareness envelope, verbatim.
	State json.RawMessage `json:"state,omitempty"`

	// Update carries the binary delta of an update envelope.
	Update []byte `json:"update,omitempty"`

	// Message carries the text of an error envelope.
	Message string `json:"message,omitempty"`
}

// Decode parses and validates a raw wire message. maxSize bounds the raw
// length; pass 0 for the default. The returned error distinguishes
// oversized, malformed, missing-type, and unknown-type rejections so the
// coordinator can apply its per-class policy (notice vs. silent drop).
func Decode(raw []byte, maxSize int) (*Envelope, error) {
	if maxSize <= 0 {
		maxSize = MaxMessageSize
	}
	if len(raw) > maxSize {
		return nil, ErrTooLarge
	}

	// Probe the discriminant first so a missing or non-string type is
	// reported as such rather than as a generic decode failure.
	var probe struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, ErrMalformed
	}
	if probe.Type == nil {
		return nil, ErrMissingType
	}
	var typ string
	if err := json.Unmarshal(probe.Type, &typ); err != nil {
		return nil, ErrMissingType
	}
	if !Type(typ).Known() {
		return nil, ErrUnknownType
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrMalformed
	}

	// Per-type payload validation. Updates must carry a byte sequence;
	// it must never reach the merge step without one.
	if env.Type == TypeUpdate && env.Update == nil {
		return nil, ErrMalformed
	}

	return &env, nil
}

// Encode serializes an envelope. It always succeeds for internally
// constructed envelopes.
func Encode(env *Envelope) []byte {
	raw, err := json.Marshal(env)
	if err != nil {
		// Envelopes hold only marshalable fields; this is unreachable.
		panic("protocol: encode: " + err.Error())
	}
	return raw
}

// NewSync builds the snapshot envelope sent to a session on admission.
func NewSync(snapshot []byte) *Envelope {
	state, _ := json.Marshal(snapshot)
	return &Envelope{Type: TypeSync, State: state}
}

// NewUpdate builds an update envelope carrying a document delta.
func NewUpdate(delta []byte) *Envelope {
	return &Envelope{Type: TypeUpdate, Update: delta}
}

// NewPing builds a liveness probe.
func NewPing() *Envelope {
	return &Envelope{Type: TypePing}
}

// NewPong builds a liveness acknowledgment.
func NewPong() *Envelope {
	return &Envelope{Type: TypePong}
}

// NewError builds an error notice for the offending sender.
func NewError(message string) *Envelope {
	return &Envelope{Type: TypeError, Message: message}
}
