package tools

import "github.com/prometheus/client_golang/prometheus"

var PreflightsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentcore",
		Subsystem: "tools",
		Name:      "preflights_total",
		Help:      "Total number of tool preflight checks by tool, origin, and outcome.",
	},
	[]string{"tool", "origin", "allow"},
)

var InvocationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentcore",
		Subsystem: "tools",
		Name:      "invocations_total",
		Help:      "Total number of tool invocations by tool, origin, and status.",
	},
	[]string{"tool", "origin", "status"},
)

var InvocationDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "agentcore",
		Subsystem: "tools",
		Name:      "invocation_duration_seconds",
		Help:      "Tool invocation duration in seconds.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"tool"},
)

var InvocationBudgetBytesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentcore",
		Subsystem: "tools",
		Name:      "invocation_budget_bytes_total",
		Help:      "Total bytes consumed by tool invocations, by tool and direction.",
	},
	[]string{"tool", "direction"},
)

// All returns every collector this package registers.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		PreflightsTotal,
		InvocationsTotal,
		InvocationDurationSeconds,
		InvocationBudgetBytesTotal,
	}
}
