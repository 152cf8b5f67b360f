package sandbox

import "github.com/prometheus/client_golang/prometheus"

var ExecutionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentcore",
		Subsystem: "sandbox",
		Name:      "executions_total",
		Help:      "Total number of sandbox executions by capability and outcome status.",
	},
	[]string{"capability", "status"},
)

var BudgetReservationsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "agentcore",
		Subsystem: "sandbox",
		Name:      "budget_reservations_total",
		Help:      "Total number of budget reservations made before execution.",
	},
)

// All returns every collector this package registers.
func All() []prometheus.Collector {
	return []prometheus.Collector{ExecutionsTotal, BudgetReservationsTotal}
}
