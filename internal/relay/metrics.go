package relay

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sadewadee/danmu/internal/protocol"
)

// Metrics holds the Prometheus collectors for relay sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	frames      *prometheus.CounterVec
	frameErrors *prometheus.CounterVec
	messages    prometheus.Counter
	heartbeats  *prometheus.CounterVec
	popularity  prometheus.Gauge
	state       prometheus.Gauge
}

// NewMetrics registers the relay collectors on reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Leaf frames decoded from the relay, by message type.",
		}, []string{"type"}),

		frameErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frame_errors_total",
			Help:      "Transport messages with dropped frames, by reason.",
		}, []string{"reason"}),

		messages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "chat_messages_total",
			Help:      "Chat messages normalized from the stream.",
		}),

		heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "heartbeats_total",
			Help:      "Heartbeat round trips, by result.",
		}, []string{"result"}),

		popularity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "popularity",
			Help:      "Last popularity value reported by a heartbeat reply.",
		}),

		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "session_state",
			Help:      "Current session state (0 idle, 1 handshaking, 2 active, 3 closing, 4 closed).",
		}),
	}
}

func (m *Metrics) frame(t protocol.MessageType) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) frameError(err error) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(errorReason(err)).Inc()
}

func (m *Metrics) message() {
	if m == nil {
		return
	}
	m.messages.Inc()
}

func (m *Metrics) heartbeat(result string) {
	if m == nil {
		return
	}
	m.heartbeats.WithLabelValues(result).Inc()
}

func (m *Metrics) setPopularity(p uint32) {
	if m == nil {
		return
	}
	m.popularity.Set(float64(p))
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformedFrame):
		return "malformed"
	case errors.Is(err, protocol.ErrDecompression):
		return "decompression"
	case errors.Is(err, protocol.ErrProtocolViolation):
		return "protocol_violation"
	default:
		return "other"
	}
}
