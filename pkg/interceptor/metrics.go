package interceptor

import "github.com/prometheus/client_golang/prometheus"

var requestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentcore",
		Subsystem: "interceptor",
		Name:      "requests_total",
		Help:      "Total number of requests completed by the interceptor chain, by outcome.",
	},
	[]string{"outcome"}, // ok, error, replay
)

var concurrencyRejectedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "agentcore",
		Subsystem: "interceptor",
		Name:      "concurrency_rejected_total",
		Help:      "Total number of requests rejected by the concurrency limiter before reaching the handler.",
	},
)

// All returns every collector this package registers.
func All() []prometheus.Collector {
	return []prometheus.Collector{requestsTotal, concurrencyRejectedTotal}
}
