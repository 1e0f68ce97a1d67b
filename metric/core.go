package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core gateway metrics.
type Metrics struct {
	// Frame pipeline
	FramesReceived   *prometheus.CounterVec
	FramesDispatched *prometheus.CounterVec
	FramesDropped    prometheus.Counter

	// Connections
	ActiveConnections prometheus.Gauge

	// Persistence
	PersistenceQueueDepth prometheus.Gauge
	PersistenceFailures   prometheus.Counter

	// Control delivery
	CommandsSent        prometheus.Counter
	CommandsUndelivered prometheus.Counter

	// Upstream bridge
	BridgeConnected prometheus.Gauge
	BridgePublished *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all core gateway metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reefgate",
				Subsystem: "frames",
				Name:      "received_total",
				Help:      "Total number of wire frames received",
			},
			[]string{"type"},
		),

		FramesDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reefgate",
				Subsystem: "frames",
				Name:      "dispatched_total",
				Help:      "Total number of frames dispatched to handlers",
			},
			[]string{"type", "status"},
		),

		FramesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "reefgate",
				Subsystem: "frames",
				Name:      "dropped_total",
				Help:      "Total number of frames dropped by the receive queue",
			},
		),

		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "reefgate",
				Subsystem: "connections",
				Name:      "active",
				Help:      "Number of live module connections",
			},
		),

		PersistenceQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "reefgate",
				Subsystem: "persistence",
				Name:      "queue_depth",
				Help:      "Number of scheduled durable writes not yet completed",
			},
		),

		PersistenceFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "reefgate",
				Subsystem: "persistence",
				Name:      "failures_total",
				Help:      "Total number of failed durable writes",
			},
		),

		CommandsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "reefgate",
				Subsystem: "control",
				Name:      "commands_sent_total",
				Help:      "Total number of control commands delivered to modules",
			},
		),

		CommandsUndelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "reefgate",
				Subsystem: "control",
				Name:      "commands_undelivered_total",
				Help:      "Total number of control commands that could not be delivered",
			},
		),

		BridgeConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "reefgate",
				Subsystem: "bridge",
				Name:      "connected",
				Help:      "Upstream bridge connection status (0=disconnected, 1=connected)",
			},
		),

		BridgePublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reefgate",
				Subsystem: "bridge",
				Name:      "published_total",
				Help:      "Total number of events published upstream",
			},
			[]string{"subject"},
		),
	}
}

// RecordFrameReceived increments the received counter for a frame type.
func (m *Metrics) RecordFrameReceived(frameType string) {
	m.FramesReceived.WithLabelValues(frameType).Inc()
}

// RecordFrameDispatched increments the dispatched counter.
func (m *Metrics) RecordFrameDispatched(frameType, status string) {
	m.FramesDispatched.WithLabelValues(frameType, status).Inc()
}

// RecordFrameDropped increments the receive-queue drop counter.
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordBridgeStatus updates the upstream bridge connection status.
func (m *Metrics) RecordBridgeStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.BridgeConnected.Set(value)
}

// RecordBridgePublished increments the upstream publish counter.
func (m *Metrics) RecordBridgePublished(subject string) {
	m.BridgePublished.WithLabelValues(subject).Inc()
}
