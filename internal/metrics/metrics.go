package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors of the chat core. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	connections     prometheus.Gauge
	onlineUsers     prometheus.Gauge
	routed          *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	rotations       *prometheus.CounterVec
	eventLatency    *prometheus.HistogramVec
	errors          *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cipherchat_connections_active",
			Help: "Current number of live websocket connections.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cipherchat_identities_online",
			Help: "Identities with at least one authenticated connection.",
		}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cipherchat_messages_routed_total",
			Help: "Messages delivered by the router grouped by kind.",
		}, []string{"kind"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cipherchat_persist_failures_total",
			Help: "Messages whose persistence failed, aborting delivery.",
		}, []string{"kind"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cipherchat_key_rotations_total",
			Help: "Shared key checks grouped by outcome.",
		}, []string{"result"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cipherchat_event_latency_seconds",
			Help:    "Latency for handling inbound protocol events.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"event"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cipherchat_event_errors_total",
			Help: "Inbound events answered with an error grouped by code.",
		}, []string{"code"}),
	}

	reg.MustRegister(
		m.connections,
		m.onlineUsers,
		m.routed,
		m.persistFailures,
		m.rotations,
		m.eventLatency,
		m.errors,
	)
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) IdentityOnline() {
	if m == nil {
		return
	}
	m.onlineUsers.Inc()
}

func (m *Metrics) IdentityOffline() {
	if m == nil {
		return
	}
	m.onlineUsers.Dec()
}

func (m *Metrics) MessageRouted(kind string) {
	if m == nil {
		return
	}
	m.routed.WithLabelValues(kind).Inc()
}

func (m *Metrics) PersistFailed(kind string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Rotation(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.rotations.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEvent(event string, dur time.Duration) {
	if m == nil || event == "" {
		return
	}
	m.eventLatency.WithLabelValues(event).Observe(dur.Seconds())
}

func (m *Metrics) EventError(code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(code).Inc()
}
