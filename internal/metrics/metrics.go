// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the relay updates. Build one per registry
// so tests can use an isolated prometheus.NewRegistry().
type Metrics struct {
	ActiveSessions      prometheus.Gauge
	TotalConnections    prometheus.Counter
	SessionsReplaced    prometheus.Counter
	HandshakeFailures   *prometheus.CounterVec
	FramesReceived      prometheus.Counter
	FramesDropped       *prometheus.CounterVec
	MessagesRouted      prometheus.Counter
	LiveDeliveries      prometheus.Counter
	DeliveryFailures    *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
	PresenceEvents      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the relay collectors on reg. A nil reg uses a private
// registry that is never exported.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "The current number of registered sessions.",
		}),
		TotalConnections: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "The total number of WebSocket connections accepted.",
		}),
		SessionsReplaced: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_replaced_total",
			Help: "Sessions force-closed because the same user_id connected again.",
		}),
		HandshakeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_handshake_failures_total",
			Help: "Failed auth handshakes by reason.",
		}, []string{"reason"}),
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_received_total",
			Help: "Frames received from authenticated sessions.",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Frames dropped without processing by reason.",
		}, []string{"reason"}),
		MessagesRouted: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_routed_total",
			Help: "Chat messages accepted by the router.",
		}),
		LiveDeliveries: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_live_deliveries_total",
			Help: "Chat messages handed to a connected receiver.",
		}),
		DeliveryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_delivery_failures_total",
			Help: "Per-recipient send failures by event type.",
		}, []string{"event"}),
		PersistenceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_persistence_failures_total",
			Help: "Directory calls that failed by operation.",
		}, []string{"op"}),
		PresenceEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_presence_events_total",
			Help: "Presence events enqueued by kind.",
		}, []string{"kind"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
