// Package metrics holds the Prometheus collectors for the chat server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

const namespace = "wirechat"

// Metrics is the set of server collectors.
type Metrics struct {
	activeSessions    prometheus.Gauge
	registeredUsers   prometheus.Gauge
	framesIn          *prometheus.CounterVec
	framesOut         *prometheus.CounterVec
	protocolErrors    prometheus.Counter
	deliveryFailures  prometheus.Counter
	heartbeatTimeouts prometheus.Counter
	rateLimited       prometheus.Counter
	relayed           *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses a fresh private
// registry, which keeps tests from colliding on the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of open chat sessions",
		}),
		registeredUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_users",
			Help:      "Number of usernames currently in the registry",
		}),
		framesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames decoded from clients by message type",
		}, []string{"type"}),
		framesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames queued to clients by message type",
		}, []string{"type"}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Malformed or oversized frames dropped",
		}),
		deliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Broadcast deliveries skipped because a session queue was full or closed",
		}),
		heartbeatTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_timeouts_total",
			Help:      "Sessions torn down after missing heartbeats",
		}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Inbound frames dropped by the per-session rate limit",
		}),
		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Messages exchanged with other server instances",
		}, []string{"direction"}),
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

// SetUsers records the registry size.
func (m *Metrics) SetUsers(n int) {
	if m != nil {
		m.registeredUsers.Set(float64(n))
	}
}

func (m *Metrics) FrameReceived(t proto.Type) {
	if m != nil {
		m.framesIn.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) FrameSent(t proto.Type) {
	if m != nil {
		m.framesOut.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) ProtocolError() {
	if m != nil {
		m.protocolErrors.Inc()
	}
}

func (m *Metrics) DeliveryFailed() {
	if m != nil {
		m.deliveryFailures.Inc()
	}
}

func (m *Metrics) HeartbeatTimeout() {
	if m != nil {
		m.heartbeatTimeouts.Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

// Relayed counts a bridge message; direction is "in" or "out".
func (m *Metrics) Relayed(direction string) {
	if m != nil {
		m.relayed.WithLabelValues(direction).Inc()
	}
}
