package room

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "syncboard").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics holds the coordinator's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so tests can run rooms without a registry.
type Metrics struct {
	activeRooms        prometheus.Gauge
	activeSessions     prometheus.Gauge
	messagesRouted     *prometheus.CounterVec
	updatesMerged      prometheus.Counter
	broadcastFailures  prometheus.Counter
	heartbeatEvictions prometheus.Counter
	persistFailures    prometheus.Counter
	admissionRejects   *prometheus.CounterVec
}

// NewMetrics registers and returns the coordinator collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "syncboard",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		activeRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "active_rooms",
			Help:        "Rooms currently resident in memory",
			ConstLabels: config.ConstLabels,
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "active_sessions",
			Help:        "Live sessions across all rooms",
			ConstLabels: config.ConstLabels,
		}),
		messagesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "messages_routed_total",
			Help:        "Inbound envelopes routed, by envelope type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),
		updatesMerged: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "updates_merged_total",
			Help:        "Document deltas merged into room documents",
			ConstLabels: config.ConstLabels,
		}),
		broadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "broadcast_failures_total",
			Help:        "Per-recipient send failures during fan-out",
			ConstLabels: config.ConstLabels,
		}),
		heartbeatEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "heartbeat_evictions_total",
			Help:        "Sessions pruned by heartbeat timeout",
			ConstLabels: config.ConstLabels,
		}),
		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "persist_failures_total",
			Help:        "Failed snapshot writes to durable storage",
			ConstLabels: config.ConstLabels,
		}),
		admissionRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "admission_rejects_total",
			Help:        "Rejected admissions, by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),
	}
}

func (m *Metrics) roomUp() {
	if m != nil {
		m.activeRooms.Inc()
	}
}

func (m *Metrics) roomDown() {
	if m != nil {
		m.activeRooms.Dec()
	}
}

func (m *Metrics) sessionUp() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) sessionsDown(n int) {
	if m != nil && n > 0 {
		m.activeSessions.Sub(float64(n))
	}
}

func (m *Metrics) routed(typ string) {
	if m != nil {
		m.messagesRouted.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) merged() {
	if m != nil {
		m.updatesMerged.Inc()
	}
}

func (m *Metrics) broadcastFailed() {
	if m != nil {
		m.broadcastFailures.Inc()
	}
}

func (m *Metrics) heartbeatEvicted(n int) {
	if m != nil && n > 0 {
		m.heartbeatEvictions.Add(float64(n))
	}
}

func (m *Metrics) persistFailed() {
	if m != nil {
		m.persistFailures.Inc()
	}
}

func (m *Metrics) rejected(reason string) {
	if m != nil {
		m.admissionRejects.WithLabelValues(reason).Inc()
	}
}
