package room

import (
	"log/slog"
	"time"

	"github.com/syncboard/syncboard/pkg/protocol"
)

// Monitor drives periodic liveness probing for one room. It owns the
// heartbeat ticker; the room's event loop selects on C and calls Sweep on
// each tick, so all pruning happens on the loop. Like the registry it is
// touched only from that loop and carries no lock.
type Monitor struct {
	interval time.Duration
	timeout  time.Duration
	ticker   *time.Ticker
	logger   *slog.Logger
}

// NewMonitor creates a stopped monitor.
func NewMonitor(interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start begins ticking. Starting a running monitor is a no-op.
func (m *Monitor) Start() {
	if m.ticker != nil {
		return
	}
	m.ticker = time.NewTicker(m.interval)
}

// Stop cancels the ticker. Safe to call multiple times.
func (m *Monitor) Stop() {
	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	m.ticker = nil
}

// Running reports whether the monitor is ticking.
func (m *Monitor) Running() bool {
	return m.ticker != nil
}

// C returns the tick channel. While the monitor is stopped it returns nil,
// which blocks forever in the room loop's select.
func (m *Monitor) C() <-chan time.Time {
	if m.ticker == nil {
		return nil
	}
	return m.ticker.C
}

// Sweep prunes sessions silent for longer than the timeout: their
// connections are closed and they are removed from the registry. Every
// surviving session is sent a liveness probe; a probe failure counts as a
// dead connection and prunes the session the same way. Sweep returns the
// pruned sessions.
func (m *Monitor) Sweep(registry *Registry, now time.Time) []*Session {
	var pruned []*Session

	for _, session := range registry.Sessions() {
		if now.Sub(session.lastAck) > m.timeout {
			m.logger.Info("heartbeat timeout, evicting session",
				"session_id", session.ID,
				"identity", session.Identity,
				"silent_for", now.Sub(session.lastAck))
			registry.Remove(session)
			session.close()
			pruned = append(pruned, session)
			continue
		}

		if err := session.sendEnvelope(protocol.NewPing()); err != nil {
			m.logger.Info("heartbeat probe failed, evicting session",
				"session_id", session.ID,
				"error", err)
			registry.Remove(session)
			session.close()
			pruned = append(pruned, session)
		}
	}

	return pruned
}
