// Package metrics provides Prometheus metrics collection for the
// billing engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the billing engine.
type Collector struct {
	// Debit metrics
	DebitsTotal       prometheus.Counter
	DebitFailures     prometheus.Counter
	AmountBilledTotal prometheus.Counter

	// Balance read metrics
	BalanceReads        prometheus.Counter
	BalanceReadFailures prometheus.Counter

	// Threshold metrics
	ThresholdActions *prometheus.CounterVec

	// Session metrics
	SessionsBilling  prometheus.Gauge
	HeartbeatsActive prometheus.Gauge
	HeartbeatTicks   prometheus.Counter

	// Anomaly metrics
	NegativeElapsed prometheus.Counter
}

// New creates a new metrics collector registered on the default
// registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		DebitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nibble",
				Name:      "debits_total",
				Help:      "Total number of debits applied to the balance store",
			},
		),
		DebitFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nibble",
				Name:      "debit_failures_total",
				Help:      "Total number of debits that failed at the balance store",
			},
		),
		AmountBilledTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nibble",
				Name:      "amount_billed_total",
				Help:      "Total currency amount successfully billed across sessions",
			},
		),
		BalanceReads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nibble",
				Name:      "balance_reads_total",
				Help:      "Total number of balance reads",
			},
		),
		BalanceReadFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nibble",
				Name:      "balance_read_failures_total",
				Help:      "Total number of balance reads that failed",
			},
		),
		ThresholdActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nibble",
				Name:      "threshold_actions_total",
				Help:      "Threshold side effects dispatched, by kind",
			},
			[]string{"kind"}, // "low_balance" or "no_balance"
		),
		SessionsBilling: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "nibble",
				Name:      "sessions_billing",
				Help:      "Number of sessions with active billing state",
			},
		),
		HeartbeatsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "nibble",
				Name:      "heartbeats_active",
				Help:      "Number of sessions with a heartbeat schedule",
			},
		),
		HeartbeatTicks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nibble",
				Name:      "heartbeat_ticks_total",
				Help:      "Total heartbeat ticks delivered",
			},
		),
		NegativeElapsed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nibble",
				Name:      "negative_elapsed_total",
				Help:      "Billing windows skipped because the clock ran backwards",
			},
		),
	}
}
