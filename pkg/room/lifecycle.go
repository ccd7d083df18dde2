package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syncboard/syncboard/pkg/crdt"
	"github.com/syncboard/syncboard/pkg/storage"
)

// Lifecycle handles durable persistence of one room's document and the
// timed eviction of the idle room. Like the registry and monitor it is
// driven only from the room's event loop.
type Lifecycle struct {
	roomID  string
	store   storage.Store
	delay   time.Duration
	timeout time.Duration
	logger  *slog.Logger

	timer *time.Timer

	// persistPending is set when a persist attempt failed; the next
	// opportunity (eviction fire or shutdown) retries before teardown.
	persistPending bool
}

// NewLifecycle creates a lifecycle manager for roomID. delay is the idle
// eviction delay; timeout bounds each storage call.
func NewLifecycle(roomID string, store storage.Store, delay, timeout time.Duration, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		roomID:  roomID,
		store:   store,
		delay:   delay,
		timeout: timeout,
		logger:  logger,
	}
}

func (l *Lifecycle) storageCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), l.timeout)
}

// Restore loads the persisted snapshot for the room, if any, into doc.
// It runs at room activation, before the first session is admitted. An
// absent snapshot means a fresh document and is not an error.
func (l *Lifecycle) Restore(doc *crdt.Document) error {
	ctx, cancel := l.storageCtx()
	defer cancel()

	snapshot, err := l.store.Get(ctx, l.roomID)
	if errors.Is(err, storage.ErrNotFound) {
		l.logger.Info("no persisted snapshot, starting fresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := doc.Restore(snapshot); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	l.logger.Info("restored persisted snapshot", "bytes", len(snapshot))
	return nil
}

// Persist writes the current document snapshot to durable storage. A
// failure is recorded and retried on the next opportunity; it never
// crashes the room or drops sessions.
func (l *Lifecycle) Persist(doc *crdt.Document) error {
	ctx, cancel := l.storageCtx()
	defer cancel()

	snapshot := doc.EncodeSnapshot()
	if err := l.store.Put(ctx, l.roomID, snapshot); err != nil {
		l.persistPending = true
		return fmt.Errorf("persist snapshot: %w", err)
	}

	l.persistPending = false
	l.logger.Debug("persisted snapshot", "bytes", len(snapshot))
	return nil
}

// PersistPending reports whether a failed persist is awaiting retry.
func (l *Lifecycle) PersistPending() bool {
	return l.persistPending
}

// ScheduleEviction arms the idle eviction timer and mirrors the deadline
// to the storage alarm slot. Re-arming replaces the previous deadline.
func (l *Lifecycle) ScheduleEviction(now time.Time) {
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.NewTimer(l.delay)

	ctx, cancel := l.storageCtx()
	defer cancel()
	if err := l.store.SetAlarm(ctx, l.roomID, now.Add(l.delay)); err != nil {
		// The in-process timer is authoritative; a missing mirror only
		// matters to external schedulers.
		l.logger.Warn("set eviction alarm failed", "error", err)
	}

	l.logger.Info("eviction scheduled", "delay", l.delay)
}

// CancelEviction disarms the eviction timer and clears the storage alarm.
// Safe to call when no timer is armed.
func (l *Lifecycle) CancelEviction() {
	if l.timer == nil {
		return
	}
	l.timer.Stop()
	l.timer = nil

	ctx, cancel := l.storageCtx()
	defer cancel()
	if err := l.store.DeleteAlarm(ctx, l.roomID); err != nil {
		l.logger.Warn("delete eviction alarm failed", "error", err)
	}

	l.logger.Info("eviction cancelled")
}

// EvictionC returns the eviction timer channel, or nil while disarmed so
// the room loop's select blocks on it.
func (l *Lifecycle) EvictionC() <-chan time.Time {
	if l.timer == nil {
		return nil
	}
	return l.timer.C
}

// EvictionScheduled reports whether the eviction timer is armed.
func (l *Lifecycle) EvictionScheduled() bool {
	return l.timer != nil
}

// DeleteAlarm clears the mirrored storage alarm after the eviction timer
// has fired and teardown is proceeding.
func (l *Lifecycle) DeleteAlarm() {
	l.timer = nil

	ctx, cancel := l.storageCtx()
	defer cancel()
	if err := l.store.DeleteAlarm(ctx, l.roomID); err != nil {
		l.logger.Warn("delete eviction alarm failed", "error", err)
	}
}

// Halt stops the eviction timer without touching the mirrored alarm. Used
// at process shutdown, where the persisted room should stay resurrectable
// by an external scheduler.
func (l *Lifecycle) Halt() {
	if l.timer == nil {
		return
	}
	l.timer.Stop()
	l.timer = nil
}
