// ABOUTME: Prometheus instrumentation for connections, message flow, and fan-out volume
// ABOUTME: Uses a private registry so tests can build instances freely

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// LiveConnections tracks currently admitted connections.
	LiveConnections prometheus.Gauge

	// Messages counts persisted messages by operation.
	// Labels: op (send|edit|delete|react|pin)
	Messages *prometheus.CounterVec

	// FanOutEvents counts every event enqueued onto a connection's
	// outbound queue.
	FanOutEvents prometheus.Counter

	// DroppedConnections counts connections dropped for a saturated
	// outbound queue.
	DroppedConnections prometheus.Counter

	// IntentErrors counts rejected intents by error code.
	// Labels: code
	IntentErrors *prometheus.CounterVec
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		LiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hallway_live_connections",
			Help: "Current number of admitted client connections",
		}),

		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hallway_messages_total",
			Help: "Total message mutations by operation",
		}, []string{"op"}),

		FanOutEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "hallway_fanout_events_total",
			Help: "Total events enqueued for delivery to clients",
		}),

		DroppedConnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "hallway_dropped_connections_total",
			Help: "Connections dropped because their outbound queue filled",
		}),

		IntentErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hallway_intent_errors_total",
			Help: "Rejected client intents by error code",
		}, []string{"code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnectionOpened increments the live connection gauge.
func (m *Metrics) ConnectionOpened() { m.LiveConnections.Inc() }

// ConnectionClosed decrements the live connection gauge.
func (m *Metrics) ConnectionClosed() { m.LiveConnections.Dec() }

// FanOut adds to the fan-out event counter. Implements the room
// directory's broadcast observer.
func (m *Metrics) FanOut(events int) { m.FanOutEvents.Add(float64(events)) }

// ConnectionDropped counts a connection dropped for queue saturation.
func (m *Metrics) ConnectionDropped() { m.DroppedConnections.Inc() }

// MessageProcessed counts a successful message mutation.
func (m *Metrics) MessageProcessed(op string) { m.Messages.WithLabelValues(op).Inc() }

// IntentRejected counts an intent refused with the given error code.
func (m *Metrics) IntentRejected(code string) { m.IntentErrors.WithLabelValues(code).Inc() }
