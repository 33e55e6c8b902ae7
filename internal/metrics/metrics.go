// Package metrics registers the Prometheus collectors Mark pushes to: gas
// spent per reason, per-chain/per-ticker balance gauges, and event queue
// depths. Built on github.com/prometheus/client_golang, already part of the
// teacher's stack surface via the rest of the example pack.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every collector Mark registers, scoped to one
// *prometheus.Registry so tests can use an isolated instance instead of the
// global default.
type Registry struct {
	reg *prometheus.Registry

	tickDuration   prometheus.Histogram
	tickSuccess    prometheus.Counter
	tickFailure    prometheus.Counter
	gasSpent       *prometheus.CounterVec
	balanceGauge   *prometheus.GaugeVec
	queueDepth     *prometheus.GaugeVec
	deadLetterSize prometheus.Gauge
}

// New builds and registers every Mark collector against a fresh
// *prometheus.Registry.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mark",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one periodic processor tick.",
		Buckets:   prometheus.DefBuckets,
	})
	r.tickSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mark",
		Name:      "tick_success_total",
		Help:      "Count of ticks that completed without a thrown error.",
	})
	r.tickFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mark",
		Name:      "tick_failure_total",
		Help:      "Count of ticks that ended in a thrown error or an open circuit breaker.",
	})
	r.gasSpent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mark",
		Name:      "gas_spent_total",
		Help:      "Cumulative gas cost, in wei, grouped by chain and submission reason.",
	}, []string{"chain", "reason"})
	r.balanceGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mark",
		Name:      "balance_hub_units",
		Help:      "Mark's balance per chain and ticker, 18-decimal hub-normalized.",
	}, []string{"chain", "ticker"})
	r.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mark",
		Name:      "queue_depth",
		Help:      "Event queue depth per event type and state (pending/processing).",
	}, []string{"eventType", "state"})
	r.deadLetterSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mark",
		Name:      "dead_letter_size",
		Help:      "Total entries currently in the shared dead-letter set.",
	})

	r.reg.MustRegister(
		r.tickDuration, r.tickSuccess, r.tickFailure,
		r.gasSpent, r.balanceGauge, r.queueDepth, r.deadLetterSize,
	)
	return r
}

// Registerer exposes the underlying registry for the /metrics HTTP handler.
func (r *Registry) Registerer() *prometheus.Registry { return r.reg }

// PushTick implements processor.MetricsPusher.
func (r *Registry) PushTick(success bool, duration time.Duration) {
	r.tickDuration.Observe(duration.Seconds())
	if success {
		r.tickSuccess.Inc()
	} else {
		r.tickFailure.Inc()
	}
}

// RecordGasSpent adds costWei to the running total for (chainID, reason).
func (r *Registry) RecordGasSpent(chainID string, reason string, costWei float64) {
	r.gasSpent.WithLabelValues(chainID, reason).Add(costWei)
}

// SetBalance records the latest known balance for (chainID, ticker) in hub
// units. Nothing in the tick loop calls it.
func (r *Registry) SetBalance(chainID string, ticker string, hubAmount float64) {
	r.balanceGauge.WithLabelValues(chainID, ticker).Set(hubAmount)
}

// SetQueueDepth records pending/processing counts per event type.
func (r *Registry) SetQueueDepth(eventType string, state string, depth float64) {
	r.queueDepth.WithLabelValues(eventType, state).Set(depth)
}

// SetDeadLetterSize records the current dead-letter set size.
func (r *Registry) SetDeadLetterSize(size float64) {
	r.deadLetterSize.Set(size)
}
