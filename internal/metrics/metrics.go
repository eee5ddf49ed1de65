// Package metrics holds the Prometheus collectors of the admission engine.
// All collectors register with the default registry through promauto and
// are served by promhttp on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Domain events

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_events_total",
			Help: "Domain events emitted, by type",
		},
		[]string{"type"},
	)

	// Admission

	GateDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_gate_denials_total",
			Help: "Hold attempts refused by the strategy gate, by reason",
		},
		[]string{"reason"},
	)

	LockAcquire = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_lock_acquire_total",
			Help: "Hold lock acquisition attempts, by result",
		},
		[]string{"result"}, // "granted", "contended", "error"
	)

	// Waiting room

	QueuePromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_queue_promotions_total",
			Help: "Waiting-room promotion attempts, by result",
		},
		[]string{"result"}, // "moved", "skipped", "rejected_full", "error"
	)

	QueueActiveUsers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "admission_queue_active_users",
			Help: "Members holding an ENTERABLE ticket, sampled after each promotion cycle",
		},
		[]string{"queue_id"},
	)

	// Sweeps

	SweepRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_sweep_rows_total",
			Help: "Rows handled by reconciliation sweeps",
		},
		[]string{"sweep", "outcome"}, // outcome: "affected", "failed"
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admission_sweep_duration_seconds",
			Help:    "Duration of one sweep run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	// Broker

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "admission_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_publish_failures_total",
			Help: "Event publishes that failed or were short-circuited",
		},
	)
)

// RecordSweep records one sweep run.
func RecordSweep(name string, affected, failed int, took time.Duration) {
	SweepDuration.WithLabelValues(name).Observe(took.Seconds())
	if affected > 0 {
		SweepRows.WithLabelValues(name, "affected").Add(float64(affected))
	}
	if failed > 0 {
		SweepRows.WithLabelValues(name, "failed").Add(float64(failed))
	}
}
