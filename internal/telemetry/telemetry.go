// Package telemetry implements connection.Recorder and
// recordhandler.Recorder against Prometheus, isolating the core packages
// from a hard dependency on github.com/prometheus/client_golang.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/recsync-io/recsync-go/internal/wire"
)

// Recorder registers and updates the library's Prometheus collectors. The
// zero value is not usable; construct with NewRecorder.
type Recorder struct {
	connectionState     *prometheus.GaugeVec
	reconnectAttempts   prometheus.Counter
	messagesSent        *prometheus.CounterVec
	messagesReceived    *prometheus.CounterVec
	recordsActive       prometheus.Gauge
	recordsPruned       prometheus.Counter
}

// NewRecorder builds a Recorder and registers its collectors into reg. If
// reg is nil, the collectors are registered into a fresh private registry
// so construction never panics on duplicate registration; that registry is
// not exposed, so its metrics cannot be gathered from outside.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Recorder{
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recsync_connection_state",
			Help: "Current connection state (1 for the active state, 0 otherwise), by state name.",
		}, []string{"state"}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recsync_reconnect_attempts_total",
			Help: "Total number of reconnect attempts made.",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recsync_messages_sent_total",
			Help: "Total number of outbound messages sent, by topic.",
		}, []string{"topic"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recsync_messages_received_total",
			Help: "Total number of inbound messages received, by topic.",
		}, []string{"topic"}),
		recordsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recsync_records_active",
			Help: "Current number of records held in the registry.",
		}),
		recordsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recsync_records_pruned_total",
			Help: "Total number of records destroyed by the idle pruner.",
		}),
	}

	reg.MustRegister(
		r.connectionState,
		r.reconnectAttempts,
		r.messagesSent,
		r.messagesReceived,
		r.recordsActive,
		r.recordsPruned,
	)
	return r
}

var allStates = []wire.ConnectionState{
	wire.StateClosed,
	wire.StateAwaitingConnection,
	wire.StateChallenging,
	wire.StateAwaitingAuthentication,
	wire.StateAuthenticating,
	wire.StateOpen,
	wire.StateReconnecting,
	wire.StateError,
}

// ObserveState sets the gauge for state to 1 and every other known state to
// 0, satisfying connection.Recorder.
func (r *Recorder) ObserveState(state string) {
	for _, s := range allStates {
		v := 0.0
		if string(s) == state {
			v = 1
		}
		r.connectionState.WithLabelValues(string(s)).Set(v)
	}
}

// IncReconnectAttempt satisfies connection.Recorder.
func (r *Recorder) IncReconnectAttempt() { r.reconnectAttempts.Inc() }

// IncMessageSent satisfies connection.Recorder.
func (r *Recorder) IncMessageSent(topic string) { r.messagesSent.WithLabelValues(topic).Inc() }

// IncMessageReceived satisfies connection.Recorder.
func (r *Recorder) IncMessageReceived(topic string) { r.messagesReceived.WithLabelValues(topic).Inc() }

// SetRecordsActive satisfies recordhandler.Recorder.
func (r *Recorder) SetRecordsActive(n int) { r.recordsActive.Set(float64(n)) }

// IncRecordsPruned satisfies recordhandler.Recorder.
func (r *Recorder) IncRecordsPruned() { r.recordsPruned.Inc() }
