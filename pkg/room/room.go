// Package room implements the real-time collaboration coordinator: one
// room per shared document, each an independent actor that owns its
// document replica, session registry, heartbeat monitor, and lifecycle.
//
// All state-mutating operations of a room are serialized on its event
// loop. Connection read pumps and the HTTP layer never touch room state
// directly; they enqueue commands on the inbox and the loop applies them
// in order. Rooms share nothing, so no cross-room locking exists.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/syncboard/syncboard/pkg/crdt"
	"github.com/syncboard/syncboard/pkg/protocol"
	"github.com/syncboard/syncboard/pkg/storage"
)

// State is a room's position in its lifecycle.
type State int32

// Room lifecycle states.
const (
	// StateUninitialized: created, snapshot not yet restored.
	StateUninitialized State = iota

	// StateServing: at least one session, document restored.
	StateServing

	// StateDraining: zero sessions, eviction scheduled.
	StateDraining

	// StateEvicted: terminal. The next connection for this document ID
	// gets a fresh room instance.
	StateEvicted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateServing:
		return "serving"
	case StateDraining:
		return "draining"
	case StateEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Room coordinates the sessions editing one shared document.
type Room struct {
	// ID is the stable document identifier this room serves.
	ID string

	config    *Config
	logger    *slog.Logger
	metrics   *Metrics
	doc       *crdt.Document
	registry  *Registry
	monitor   *Monitor
	lifecycle *Lifecycle

	inbox    chan command
	loopDone chan struct{}

	// onEvict removes the room from its manager's registry after the
	// terminal transition.
	onEvict func(*Room)

	// restored flips once the persisted snapshot has been loaded; it
	// stays set across serving/draining cycles so a session arriving
	// before eviction serves with state continuity.
	restored bool

	// Read off-loop by Stats.
	state              atomic.Int32
	sessionCount       atomic.Int64
	messagesRouted     atomic.Uint64
	updatesMerged      atomic.Uint64
	broadcastFailures  atomic.Uint64
	heartbeatEvictions atomic.Uint64
}

type command interface{ command() }

type joinCmd struct {
	conn     Conn
	identity string
	reply    chan joinResult
}

type joinResult struct {
	session *Session
	err     error
}

type leaveCmd struct {
	session *Session
}

type inboundCmd struct {
	session *Session
	raw     []byte
}

type shutdownCmd struct {
	reply chan struct{}
}

func (joinCmd) command()     {}
func (leaveCmd) command()    {}
func (inboundCmd) command()  {}
func (shutdownCmd) command() {}

// newRoom creates a room for document id and starts its event loop.
func newRoom(id string, config *Config, store storage.Store, logger *slog.Logger, metrics *Metrics, onEvict func(*Room)) *Room {
	logger = logger.With("room_id", id)

	r := &Room{
		ID:        id,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		doc:       crdt.New(""),
		registry:  NewRegistry(config.MaxSessions),
		monitor:   NewMonitor(config.HeartbeatInterval, config.HeartbeatTimeout, logger),
		lifecycle: NewLifecycle(id, store, config.EvictionDelay, config.PersistTimeout, logger),
		inbox:     make(chan command, config.InboxSize),
		loopDone:  make(chan struct{}),
		onEvict:   onEvict,
	}
	r.state.Store(int32(StateUninitialized))

	metrics.roomUp()
	go r.run()

	return r
}

// State returns the room's current lifecycle state.
func (r *Room) State() State {
	return State(r.state.Load())
}

// Join admits a connection with an authenticated identity. On success the
// session has already received its initial sync snapshot. ctx bounds the
// wait; a room that reached its terminal state returns ErrRoomClosed and
// the caller should retry against a fresh instance.
func (r *Room) Join(ctx context.Context, conn Conn, identity string) (*Session, error) {
	reply := make(chan joinResult, 1)

	select {
	case r.inbox <- joinCmd{conn: conn, identity: identity, reply: reply}:
	case <-r.loopDone:
		return nil, ErrRoomClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.session, res.err
	case <-r.loopDone:
		return nil, ErrRoomClosed
	}
}

// Leave removes a session after its connection terminated. Idempotent.
func (r *Room) Leave(session *Session) {
	select {
	case r.inbox <- leaveCmd{session: session}:
	case <-r.loopDone:
	}
}

// Deliver routes one raw inbound message from a session. Messages from a
// single session are processed in delivery order.
func (r *Room) Deliver(session *Session, raw []byte) {
	select {
	case r.inbox <- inboundCmd{session: session, raw: raw}:
	case <-r.loopDone:
	}
}

// Shutdown closes all sessions, persists the document, and stops the
// event loop. Used for process shutdown; the mirrored storage alarm is
// left in place so the persisted room stays resurrectable.
func (r *Room) Shutdown(ctx context.Context) {
	reply := make(chan struct{})

	select {
	case r.inbox <- shutdownCmd{reply: reply}:
	case <-r.loopDone:
		return
	case <-ctx.Done():
		return
	}

	select {
	case <-reply:
	case <-r.loopDone:
	case <-ctx.Done():
	}
}

// Stats is a point-in-time snapshot of one room's counters.
type Stats struct {
	ID                 string `json:"id"`
	State              string `json:"state"`
	Sessions           int    `json:"sessions"`
	MessagesRouted     uint64 `json:"messages_routed"`
	UpdatesMerged      uint64 `json:"updates_merged"`
	BroadcastFailures  uint64 `json:"broadcast_failures"`
	HeartbeatEvictions uint64 `json:"heartbeat_evictions"`
}

// Stats returns the room's counters. Safe to call from any goroutine.
func (r *Room) Stats() Stats {
	return Stats{
		ID:                 r.ID,
		State:              r.State().String(),
		Sessions:           int(r.sessionCount.Load()),
		MessagesRouted:     r.messagesRouted.Load(),
		UpdatesMerged:      r.updatesMerged.Load(),
		BroadcastFailures:  r.broadcastFailures.Load(),
		HeartbeatEvictions: r.heartbeatEvictions.Load(),
	}
}

// run is the room's event loop. Everything that mutates room state
// executes here.
func (r *Room) run() {
	defer close(r.loopDone)

	for {
		select {
		case cmd := <-r.inbox:
			if r.handleCommand(cmd) {
				return
			}

		case <-r.monitor.C():
			r.handleSweep()

		case <-r.lifecycle.EvictionC():
			if r.handleEvictionFire() {
				return
			}
		}
	}
}

// handleCommand dispatches one inbox command. It reports whether the room
// reached its terminal state.
func (r *Room) handleCommand(cmd command) bool {
	switch cmd := cmd.(type) {
	case joinCmd:
		r.handleJoin(cmd)
	case leaveCmd:
		r.removeSession(cmd.session, true)
	case inboundCmd:
		r.handleInbound(cmd)
	case shutdownCmd:
		r.handleShutdown(cmd)
		return true
	}
	return false
}

func (r *Room) handleJoin(cmd joinCmd) {
	session, err := r.registry.Admit(cmd.conn, cmd.identity, r.config.now())
	if err != nil {
		r.metrics.rejected(RejectionReason(err))
		r.logger.Info("admission rejected",
			"identity", cmd.identity,
			"reason", RejectionReason(err))
		cmd.reply <- joinResult{err: err}
		return
	}

	// First admission into an empty room instance: load the persisted
	// snapshot before anything is served. A failed restore rejects this
	// join and leaves the flag unset so the next attempt retries.
	if !r.restored {
		if err := r.lifecycle.Restore(r.doc); err != nil {
			r.registry.Remove(session)
			r.logger.Error("restore failed", "error", err)
			cmd.reply <- joinResult{err: fmt.Errorf("%w: %v", ErrRestoreFailed, err)}
			return
		}
		r.restored = true
	}

	r.lifecycle.CancelEviction()
	r.monitor.Start()
	r.state.Store(int32(StateServing))

	// Initial sync: the full snapshot goes to the new session alone.
	if err := session.sendEnvelope(protocol.NewSync(r.doc.EncodeSnapshot())); err != nil {
		r.logger.Warn("initial sync failed",
			"session_id", session.ID,
			"error", err)
		r.registry.Remove(session)
		session.close()
		r.checkEmpty()
		cmd.reply <- joinResult{err: err}
		return
	}

	r.sessionCount.Add(1)
	r.metrics.sessionUp()
	r.logger.Info("session admitted",
		"session_id", session.ID,
		"identity", session.Identity,
		"sessions", r.registry.Len())

	cmd.reply <- joinResult{session: session}
}

// removeSession takes a session out of the registry and, when it was the
// last one, transitions the room to draining. No-op for already-removed
// sessions.
func (r *Room) removeSession(session *Session, closeConn bool) {
	if !r.registry.Remove(session) {
		return
	}
	if closeConn {
		session.close()
	}
	r.sessionCount.Add(-1)
	r.metrics.sessionsDown(1)
	r.logger.Info("session removed",
		"session_id", session.ID,
		"sessions", r.registry.Len())
	r.checkEmpty()
}

func (r *Room) handleInbound(cmd inboundCmd) {
	// A message can already be queued when its session is pruned; drop it.
	if !r.registry.Has(cmd.session) {
		return
	}

	env, err := protocol.Decode(cmd.raw, r.config.MaxMessageSize)
	if err != nil {
		if errors.Is(err, protocol.ErrTooLarge) {
			// Oversized messages get a notice back; the connection
			// stays open. Everything else is dropped silently.
			if serr := cmd.session.sendEnvelope(protocol.NewError("Message too large")); serr != nil {
				r.removeSession(cmd.session, true)
			}
			return
		}
		r.logger.Debug("dropping envelope",
			"session_id", cmd.session.ID,
			"error", err)
		return
	}

	r.messagesRouted.Add(1)
	r.metrics.routed(string(env.Type))

	switch env.Type {
	case protocol.TypeUpdate:
		if err := r.doc.ApplyUpdate(env.Update); err != nil {
			// Treated as an envelope error; the delta never mutated
			// the document and nothing is broadcast.
			r.logger.Warn("rejecting malformed delta",
				"session_id", cmd.session.ID,
				"error", err)
			return
		}
		r.updatesMerged.Add(1)
		r.metrics.merged()
		r.broadcast(cmd.raw, cmd.session)

	case protocol.TypeAwareness:
		// Ephemeral presence state: fan out verbatim, never persisted,
		// never merged into the document.
		r.broadcast(cmd.raw, cmd.session)

	case protocol.TypePing:
		if err := cmd.session.sendEnvelope(protocol.NewPong()); err != nil {
			r.removeSession(cmd.session, true)
		}

	case protocol.TypePong:
		r.registry.Touch(cmd.session, r.config.now())

	default:
		// sync and error envelopes are server-to-client only.
		r.logger.Debug("dropping client-sent envelope",
			"session_id", cmd.session.ID,
			"type", env.Type)
	}
}

// broadcast fans raw out to every session except the sender. Each send is
// handled independently: a failure removes that recipient and delivery
// continues to the rest.
func (r *Room) broadcast(raw []byte, sender *Session) {
	for _, session := range r.registry.Sessions() {
		if session == sender {
			continue
		}
		if err := session.send(raw); err != nil {
			r.broadcastFailures.Add(1)
			r.metrics.broadcastFailed()
			r.logger.Warn("broadcast send failed, removing session",
				"session_id", session.ID,
				"error", err)
			r.removeSession(session, true)
		}
	}
}

func (r *Room) handleSweep() {
	pruned := r.monitor.Sweep(r.registry, r.config.now())
	if n := len(pruned); n > 0 {
		r.sessionCount.Add(int64(-n))
		r.heartbeatEvictions.Add(uint64(n))
		r.metrics.heartbeatEvicted(n)
		r.metrics.sessionsDown(n)
	}
	r.checkEmpty()
}

// checkEmpty transitions the room to draining when its last session is
// gone: the monitor stops, the snapshot is persisted, and eviction is
// scheduled. A persist failure is retried when the eviction timer fires.
func (r *Room) checkEmpty() {
	if !r.registry.IsEmpty() {
		return
	}
	if r.State() == StateDraining && r.lifecycle.EvictionScheduled() {
		return
	}

	r.monitor.Stop()
	r.state.Store(int32(StateDraining))

	if err := r.lifecycle.Persist(r.doc); err != nil {
		r.metrics.persistFailed()
		r.logger.Error("persist failed", "error", err)
	}
	r.lifecycle.ScheduleEviction(r.config.now())

	r.logger.Info("room draining")
}

// handleEvictionFire runs when the idle timer fires. It reports whether
// the room reached its terminal state.
func (r *Room) handleEvictionFire() bool {
	// A session may have arrived and cancelled the timer while the fire
	// was already in flight; the re-check guards that race.
	if !r.registry.IsEmpty() {
		return false
	}

	// Persist once more before teardown. If storage is still failing,
	// keep the room resident and retry on the next fire rather than
	// dropping unpersisted state.
	if err := r.lifecycle.Persist(r.doc); err != nil {
		r.metrics.persistFailed()
		r.logger.Error("persist on eviction failed, rescheduling", "error", err)
		r.lifecycle.ScheduleEviction(r.config.now())
		return false
	}

	r.lifecycle.DeleteAlarm()
	r.state.Store(int32(StateEvicted))
	r.metrics.roomDown()
	if r.onEvict != nil {
		r.onEvict(r)
	}
	r.logger.Info("room evicted")
	return true
}

func (r *Room) handleShutdown(cmd shutdownCmd) {
	sessions := r.registry.Sessions()
	for _, session := range sessions {
		r.registry.Remove(session)
		session.close()
	}
	if n := len(sessions); n > 0 {
		r.sessionCount.Add(int64(-n))
		r.metrics.sessionsDown(n)
	}

	r.monitor.Stop()
	r.lifecycle.Halt()

	// Never write an empty document over a snapshot that was never
	// loaded into this instance.
	if r.restored {
		if err := r.lifecycle.Persist(r.doc); err != nil {
			r.metrics.persistFailed()
			r.logger.Error("persist on shutdown failed", "error", err)
		}
	}

	r.state.Store(int32(StateEvicted))
	r.metrics.roomDown()
	r.logger.Info("room shut down", "closed_sessions", len(sessions))

	close(cmd.reply)
}
