// Package crdt implements the mergeable replicated document state shared
// by a room's replicas.
//
// The document is a delta-state LWW-element-map: every element carries a
// logical clock and the actor that wrote it, and merge keeps the entry
// with the higher (clock, actor) pair per key. Merging is commutative,
// associative, and idempotent, so replicas converge regardless of delivery
// order or duplication, with no coordination.
package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedDelta is returned when delta bytes fail to decode.
// The coordinator rejects such deltas before they reach the merge step.
var ErrMalformedDelta = errors.New("crdt: malformed delta")

// entry is one element of the document map. Deleted entries survive as
// tombstones so removals win over concurrent stale writes.
type entry struct {
	Value   []byte `json:"v,omitempty"`
	Clock   uint64 `json:"c"`
	Actor   string `json:"a"`
	Deleted bool   `json:"d,omitempty"`
}

// supersedes reports whether e wins over other under the merge order.
// The actor ID breaks clock ties deterministically.
func (e entry) supersedes(other entry) bool {
	if e.Clock != other.Clock {
		return e.Clock > other.Clock
	}
	return e.Actor > other.Actor
}

// state is the serialized form shared by snapshots and deltas. A snapshot
// is simply a delta relative to the empty document.
type state struct {
	Entries map[string]entry `json:"entries"`
}

// Document is one replica of the shared document. A Document is owned by
// exactly one room event loop and is not safe for concurrent use.
type Document struct {
	entries map[string]entry
	clock   uint64
	actor   string
}

// New creates an empty document replica. The actor ID tags local writes;
// replicas that only merge remote deltas may pass an empty string.
func New(actor string) *Document {
	return &Document{
		entries: make(map[string]entry),
		actor:   actor,
	}
}

// ApplyUpdate decodes a delta and merges it into local state. Decoding is
// the only failure mode; a structurally valid delta always merges, even
// from an unrelated or divergent causal history.
func (d *Document) ApplyUpdate(delta []byte) error {
	var st state
	if err := json.Unmarshal(delta, &st); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDelta, err)
	}
	d.merge(st)
	return nil
}

// merge folds remote entries into local state, keeping the winner per key.
func (d *Document) merge(st state) {
	for key, remote := range st.Entries {
		if remote.Clock > d.clock {
			d.clock = remote.Clock
		}
		local, ok := d.entries[key]
		if !ok || remote.supersedes(local) {
			d.entries[key] = remote
		}
	}
}

// EncodeSnapshot produces a self-contained serialization of current state,
// sufficient to initialize a fresh replica. Equal abstract states encode
// to equal bytes.
func (d *Document) EncodeSnapshot() []byte {
	raw, err := json.Marshal(state{Entries: d.entries})
	if err != nil {
		panic("crdt: snapshot encode: " + err.Error())
	}
	return raw
}

// Restore initializes the document from a previously encoded snapshot.
// It is used only at room creation, before any session is admitted.
func (d *Document) Restore(snapshot []byte) error {
	var st state
	if err := json.Unmarshal(snapshot, &st); err != nil {
		return fmt.Errorf("crdt: restore: %w", err)
	}
	d.entries = st.Entries
	if d.entries == nil {
		d.entries = make(map[string]entry)
	}
	d.clock = 0
	for _, e := range d.entries {
		if e.Clock > d.clock {
			d.clock = e.Clock
		}
	}
	return nil
}

// Set writes a value for key locally and returns the delta carrying just
// that write, for broadcast to peer replicas.
func (d *Document) Set(key string, value []byte) []byte {
	d.clock++
	e := entry{Value: value, Clock: d.clock, Actor: d.actor}
	d.entries[key] = e
	return encodeDelta(key, e)
}

// Delete tombstones key locally and returns the corresponding delta.
func (d *Document) Delete(key string) []byte {
	d.clock++
	e := entry{Clock: d.clock, Actor: d.actor, Deleted: true}
	d.entries[key] = e
	return encodeDelta(key, e)
}

// Get returns the live value for key, if any.
func (d *Document) Get(key string) ([]byte, bool) {
	e, ok := d.entries[key]
	if !ok || e.Deleted {
		return nil, false
	}
	return e.Value, true
}

// Len returns the number of live (non-tombstoned) elements.
func (d *Document) Len() int {
	n := 0
	for _, e := range d.entries {
		if !e.Deleted {
			n++
		}
	}
	return n
}

func encodeDelta(key string, e entry) []byte {
	raw, err := json.Marshal(state{Entries: map[string]entry{key: e}})
	if err != nil {
		panic("crdt: delta encode: " + err.Error())
	}
	return raw
}
