package pool

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the collectors shared by every pool. Create it once per registry.
type Metrics struct {
	operations         *prometheus.CounterVec
	failures           *prometheus.CounterVec
	settlementFailures *prometheus.CounterVec
	ticksCrossed       *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clamm",
			Subsystem: "pool",
			Name:      "operations_total",
			Help:      "Committed pool operations.",
		}, []string{"pool", "operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clamm",
			Subsystem: "pool",
			Name:      "operation_failures_total",
			Help:      "Pool operations that failed and were rolled back.",
		}, []string{"pool", "operation"}),
		settlementFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clamm",
			Subsystem: "pool",
			Name:      "settlement_failures_total",
			Help:      "Settlements that under-delivered or returned an error.",
		}, []string{"pool", "operation"}),
		ticksCrossed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clamm",
			Subsystem: "pool",
			Name:      "swap_ticks_crossed",
			Help:      "Initialized ticks crossed per committed swap.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}, []string{"pool"}),
	}
	reg.MustRegister(m.operations, m.failures, m.settlementFailures, m.ticksCrossed)
	return m
}
