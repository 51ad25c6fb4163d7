package pool

import "github.com/prometheus/client_golang/prometheus"

var (
	acquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cortexmesh",
		Subsystem: "pool",
		Name:      "acquired_total",
		Help:      "Total number of connections successfully leased.",
	})

	exhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cortexmesh",
		Subsystem: "pool",
		Name:      "exhausted_total",
		Help:      "Total number of acquisitions that timed out waiting for a connection.",
	})

	inUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cortexmesh",
		Subsystem: "pool",
		Name:      "in_use",
		Help:      "Current number of leased connections.",
	})

	circuitState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cortexmesh",
		Subsystem: "pool",
		Name:      "circuit_state",
		Help:      "Circuit breaker state: 0=closed, 1=open, 2=half_open.",
	})

	retryAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cortexmesh",
		Subsystem: "pool",
		Name:      "retry_attempts_total",
		Help:      "Total number of ExecuteWithRetry retry attempts.",
	})
)

func init() {
	prometheus.MustRegister(acquiredTotal, exhaustedTotal, inUse, circuitState, retryAttemptsTotal)
}
