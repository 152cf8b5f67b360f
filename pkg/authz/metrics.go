package authz

import "github.com/prometheus/client_golang/prometheus"

var DecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentcore",
		Subsystem: "authz",
		Name:      "decisions_total",
		Help:      "Total number of authorization decisions by outcome.",
	},
	[]string{"allow", "resource", "action"},
)

var QuotaOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentcore",
		Subsystem: "authz",
		Name:      "quota_outcomes_total",
		Help:      "Total number of quota check_and_consume outcomes.",
	},
	[]string{"outcome"},
)

var DecisionCacheHitsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "agentcore",
		Subsystem: "authz",
		Name:      "decision_cache_hits_total",
		Help:      "Total number of decision cache hits.",
	},
)

// All returns every collector this package registers, for aggregation into
// the process-wide metrics registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{DecisionsTotal, QuotaOutcomesTotal, DecisionCacheHitsTotal}
}
