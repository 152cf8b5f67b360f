package tx

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wisbric/agentcore/pkg/envelope"
)

// Metrics records dispatcher and saga outcomes. Implementations must be
// safe for concurrent use; the dispatcher calls one of these methods once
// per message per Tick.
type Metrics interface {
	RecordOutboxDispatch(tenant envelope.TenantID, topic string, attempts uint32, success bool, code string, dur time.Duration)
	RecordOutboxDeadLetter(tenant envelope.TenantID, topic string, code string)
	RecordSagaTransition(defName string, from, to SagaState)
}

// NoopMetrics discards everything; useful for tests and for embedders that
// don't register a prometheus registry.
type NoopMetrics struct{}

func (NoopMetrics) RecordOutboxDispatch(envelope.TenantID, string, uint32, bool, string, time.Duration) {
}
func (NoopMetrics) RecordOutboxDeadLetter(envelope.TenantID, string, string) {}
func (NoopMetrics) RecordSagaTransition(string, SagaState, SagaState)        {}

var dispatchTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentcore",
		Subsystem: "tx",
		Name:      "outbox_dispatch_total",
		Help:      "Total outbox dispatch attempts by topic, outcome, and error code.",
	},
	[]string{"topic", "success", "code"},
)

var dispatchDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "agentcore",
		Subsystem: "tx",
		Name:      "outbox_dispatch_duration_seconds",
		Help:      "Outbox transport send duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"topic"},
)

var deadLetterTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentcore",
		Subsystem: "tx",
		Name:      "outbox_dead_letter_total",
		Help:      "Total messages moved to the dead-letter store, by topic and error code.",
	},
	[]string{"topic", "code"},
)

var sagaTransitionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentcore",
		Subsystem: "tx",
		Name:      "saga_transition_total",
		Help:      "Total saga state transitions by definition name, from-state, and to-state.",
	},
	[]string{"def", "from", "to"},
)

// All returns every collector this package registers.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		dispatchTotal,
		dispatchDurationSeconds,
		deadLetterTotal,
		sagaTransitionTotal,
	}
}

// PrometheusMetrics is the Metrics implementation wired in production.
type PrometheusMetrics struct{}

func (PrometheusMetrics) RecordOutboxDispatch(_ envelope.TenantID, topic string, _ uint32, success bool, code string, dur time.Duration) {
	dispatchTotal.WithLabelValues(topic, boolLabel(success), code).Inc()
	dispatchDurationSeconds.WithLabelValues(topic).Observe(dur.Seconds())
}

func (PrometheusMetrics) RecordOutboxDeadLetter(_ envelope.TenantID, topic string, code string) {
	deadLetterTotal.WithLabelValues(topic, code).Inc()
}

func (PrometheusMetrics) RecordSagaTransition(defName string, from, to SagaState) {
	sagaTransitionTotal.WithLabelValues(defName, string(from), string(to)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
