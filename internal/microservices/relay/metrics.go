package relay

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// forward outcomes
const (
	forwardSent       = "sent"
	forwardNoActuator = "no_actuator"
	forwardNoDistance = "no_distance"
	forwardFailed     = "failed"
)

// Metrics holds the relay collectors. A nil *Metrics records nothing.
type Metrics struct {
	activeConnections prometheus.Gauge
	messages          *prometheus.CounterVec
	registrations     *prometheus.CounterVec
	forwards          *prometheus.CounterVec
	decodeFailures    *prometheus.CounterVec
}

// NewMetrics creates the relay collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stayalert",
			Name:      "active_connections",
			Help:      "Number of open relay connections.",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stayalert",
			Name:      "messages_total",
			Help:      "Decoded inbound messages by method.",
		}, []string{"method"}),
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stayalert",
			Name:      "registrations_total",
			Help:      "Registration handshakes by result.",
		}, []string{"result"}),
		forwards: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stayalert",
			Name:      "forwards_total",
			Help:      "PUT messages by forwarding outcome.",
		}, []string{"result"}),
		decodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stayalert",
			Name:      "decode_failures_total",
			Help:      "Reads that produced no usable message, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.activeConnections.Inc()
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.activeConnections.Dec()
	}
}

func (m *Metrics) message(method string) {
	if m == nil {
		return
	}
	switch method {
	case MethodRegister, MethodPing, MethodPut, MethodGet:
	default:
		method = "other" // keep label cardinality bounded
	}
	m.messages.WithLabelValues(method).Inc()
}

func (m *Metrics) registration(accepted bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) forward(result string) {
	if m != nil {
		m.forwards.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) decodeFailure(err error) {
	if m == nil {
		return
	}
	reason := "peer_closed"
	if errors.Is(err, ErrMalformed) {
		reason = "malformed"
	}
	m.decodeFailures.WithLabelValues(reason).Inc()
}
