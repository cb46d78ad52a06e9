package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vesselwatch"

// Metrics holds the collectors for one process.
type Metrics struct {
	connState         *prometheus.GaugeVec
	stateTransitions  *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	authFailures      prometheus.Counter
	opsSent           *prometheus.CounterVec
	opsDropped        prometheus.Counter
	eventsDispatched  *prometheus.CounterVec
	eventsUnhandled   *prometheus.CounterVec
	protocolErrors    prometheus.Counter
	listenerPanics    *prometheus.CounterVec
	rowsWritten       *prometheus.CounterVec
	writeErrors       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		connState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_state_transitions_total",
			Help:      "Connection state transitions",
		}, []string{"from", "to"}),
		reconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled after a transport close",
		}),
		authFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Authentication rejections received from the server",
		}),
		opsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_sent_total",
			Help:      "Outbound operations written to the transport",
		}, []string{"event"}),
		opsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_dropped_total",
			Help:      "Queued operations discarded by an interrupted flush or disconnect",
		}),
		eventsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Inbound and lifecycle events delivered to listeners",
		}, []string{"event"}),
		eventsUnhandled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_unhandled_total",
			Help:      "Events dropped because no listener was registered",
		}, []string{"event"}),
		protocolErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Malformed or undecodable inbound frames",
		}),
		listenerPanics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_panics_total",
			Help:      "Listener callbacks that panicked",
		}, []string{"event"}),
		rowsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_rows_written_total",
			Help:      "Rows inserted by the track recorder",
		}, []string{"table"}),
		writeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_batch_errors_total",
			Help:      "Failed track recorder batch inserts",
		}, []string{"table"}),
	}
}

// StateChanged records a transition and moves the state gauge.
func (m *Metrics) StateChanged(from, to string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(from, to).Inc()
	m.connState.WithLabelValues(from).Set(0)
	m.connState.WithLabelValues(to).Set(1)
}

func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) AuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

func (m *Metrics) OperationSent(event string) {
	if m == nil {
		return
	}
	m.opsSent.WithLabelValues(event).Inc()
}

func (m *Metrics) OperationsDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.opsDropped.Add(float64(n))
}

func (m *Metrics) EventDispatched(event string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(event).Inc()
}

func (m *Metrics) EventUnhandled(event string) {
	if m == nil {
		return
	}
	m.eventsUnhandled.WithLabelValues(event).Inc()
}

func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

func (m *Metrics) ListenerPanic(event string) {
	if m == nil {
		return
	}
	m.listenerPanics.WithLabelValues(event).Inc()
}

func (m *Metrics) RowsWritten(table string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsWritten.WithLabelValues(table).Add(float64(n))
}

func (m *Metrics) WriteError(table string) {
	if m == nil {
		return
	}
	m.writeErrors.WithLabelValues(table).Inc()
}
