// Package httpd is the coordinator's front door: it upgrades websocket
// connections, forwards the already-authenticated identity into room
// admission, and pumps inbound frames to the room event loops. It also
// serves health, stats, and Prometheus endpoints.
//
// Authorization is upstream: this layer trusts the identity header placed
// by the authenticating proxy and never sees raw credentials.
package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syncboard/syncboard/pkg/room"
	"github.com/syncboard/syncboard/pkg/storage"
)

// IdentityHeader carries the verified identity string set by the
// authenticating reverse proxy.
const IdentityHeader = "X-Authenticated-User"

// Config holds configuration for the HTTP/WebSocket server.
type Config struct {
	// Address is the address to listen on. Default: ":8080".
	Address string

	// ReadBufferSize is the WebSocket read buffer size. Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size. Default: 4096.
	WriteBufferSize int

	// WriteTimeout is the per-message websocket write deadline.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// CheckOrigin validates the request origin.
	// Default: same-origin only.
	CheckOrigin func(r *http.Request) bool

	// ShutdownTimeout bounds graceful shutdown, including draining all
	// rooms. Default: 30 seconds.
	ShutdownTimeout time.Duration

	// MetricsRegistry receives the HTTP middleware metrics.
	// Default: prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:         ":8080",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		WriteTimeout:    10 * time.Second,
		CheckOrigin:     SameOriginCheck,
		ShutdownTimeout: 30 * time.Second,
	}
}

// SameOriginCheck validates that the request origin matches the host.
// This is the secure default for CheckOrigin.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return originURL.Host == r.Host
}

// Server routes connections into the room manager.
type Server struct {
	config   *Config
	manager  *room.Manager
	store    storage.Store
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates the front door for manager. store is used only for
// health checks.
func NewServer(config *Config, manager *room.Manager, store storage.Store, logger *slog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		config:  config,
		manager: manager,
		store:   store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger: logger.With("component", "httpd"),
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	var metricsOpts []MetricsMiddlewareOption
	if s.config.MetricsRegistry != nil {
		metricsOpts = append(metricsOpts, WithMetricsRegistry(s.config.MetricsRegistry))
	}
	r.Use(RequestMetrics(metricsOpts...))
	r.Use(Tracing())

	r.Get("/ws/{roomID}", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// identityFrom extracts the verified identity forwarded by the auth layer.
func identityFrom(r *http.Request) string {
	if id := r.Header.Get(IdentityHeader); id != "" {
		return id
	}
	// Browser websocket clients cannot set headers; the auth layer may
	// mint a query parameter instead.
	return r.URL.Query().Get("identity")
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	identity := identityFrom(r)

	// Identity is checked before the upgrade so the rejection surfaces
	// as a plain HTTP status.
	if identity == "" {
		http.Error(w, "missing_identity", http.StatusUnauthorized)
		return
	}

	wsc, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Info("upgrade failed", "room_id", roomID, "error", err)
		return
	}

	conn := newWSConn(wsc, s.config.WriteTimeout)

	rm, session, err := s.manager.Admit(r.Context(), roomID, conn, identity)
	if err != nil {
		reason := room.RejectionReason(err)
		s.logger.Info("admission rejected",
			"room_id", roomID,
			"identity", identity,
			"reason", reason)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
		wsc.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		wsc.Close()
		return
	}

	s.readPump(rm, session, wsc)
}

// readPump forwards inbound frames to the room until the connection
// terminates, preserving per-session receipt order.
func (s *Server) readPump(rm *room.Room, session *room.Session, wsc *websocket.Conn) {
	defer rm.Leave(session)

	for {
		_, msg, err := wsc.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Info("read error",
					"room_id", rm.ID,
					"session_id", session.ID,
					"error", err)
			}
			return
		}
		rm.Deliver(session, msg)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "storage": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.manager.Stats())
}

// Run serves until ctx is cancelled, then shuts down the listener and
// drains all rooms within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.Address,
		Handler: s.Router(),
	}

	errC := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "address", s.config.Address)
		errC <- srv.ListenAndServe()
	}()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown", "error", err)
	}
	s.manager.Shutdown(shutdownCtx)
	return nil
}

// wsConn adapts a gorilla connection to the room.Conn contract: locked
// writes with a deadline, idempotent close.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       bool
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{conn: conn, writeTimeout: writeTimeout}
}

// WriteMessage sends one text frame under the write deadline.
func (c *wsConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("httpd: connection closed")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down. Safe to call more than once.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
