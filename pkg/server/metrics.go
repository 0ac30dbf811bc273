package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the server. All Record methods
// are safe on a nil receiver so tests can run without a registry.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions    prometheus.Gauge
	sessionsTotal     prometheus.Counter
	commandsTotal     *prometheus.CounterVec
	messagesTotal     *prometheus.CounterVec
	forcedDisconnects prometheus.Counter
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "linechat_active_sessions",
			Help: "Number of currently connected sessions",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "linechat_sessions_total",
			Help: "Total number of sessions accepted since start",
		}),
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "linechat_commands_total",
			Help: "Commands processed, by menu and action",
		}, []string{"menu", "action"}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "linechat_messages_total",
			Help: "Chat messages stored, by kind",
		}, []string{"kind"}),
		forcedDisconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "linechat_forced_disconnects_total",
			Help: "Sessions closed by an admin action (ban or delete)",
		}),
	}
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) RecordCommand(menu, action string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(menu, action).Inc()
}

// RecordMessage counts a stored chat message; kind is "public" or "private".
func (m *Metrics) RecordMessage(kind string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordForcedDisconnect() {
	if m == nil {
		return
	}
	m.forcedDisconnects.Inc()
}
