// Package telemetry wires the prometheus/client_golang counters and gauges
// the pipeline reports, consumed by the external monitoring collaborator
// per §6.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/gauge the pipeline touches. A single
// instance is constructed at startup and threaded through precalc, enqueuer,
// worker, sweeper, and scheduler.
type Metrics struct {
	ScheduledTotal        *prometheus.CounterVec
	QueuedTotal           *prometheus.CounterVec
	SentTotal             *prometheus.CounterVec
	FailedTotal           *prometheus.CounterVec
	RetryTotal            *prometheus.CounterVec
	DuplicateTotal        *prometheus.CounterVec
	RecoveryRequeuedTotal prometheus.Counter
	CircuitBreakerState   prometheus.Gauge
	QueueDepth            prometheus.Gauge
	DLQDepth              prometheus.Gauge
	SchedulerLastRunSecs  *prometheus.GaugeVec
}

// New registers and returns a fresh Metrics bundle against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScheduledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greeter_scheduled_total",
			Help: "Number of message log rows created by the pre-calculator, by kind.",
		}, []string{"kind"}),
		QueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greeter_queued_total",
			Help: "Number of message logs published to the broker, by kind.",
		}, []string{"kind"}),
		SentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greeter_sent_total",
			Help: "Number of message logs confirmed delivered, by kind.",
		}, []string{"kind"}),
		FailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greeter_failed_total",
			Help: "Number of message logs that reached terminal FAILED, by kind.",
		}, []string{"kind"}),
		RetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greeter_retry_total",
			Help: "Number of delivery retries attempted, by kind.",
		}, []string{"kind"}),
		DuplicateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greeter_duplicate_total",
			Help: "Number of pre-calculation attempts that hit an existing idempotency key, by kind.",
		}, []string{"kind"}),
		RecoveryRequeuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greeter_recovery_requeued_total",
			Help: "Number of rows re-published by the recovery sweeper.",
		}),
		CircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greeter_circuit_breaker_state",
			Help: "Delivery circuit breaker state: 0=closed, 1=half-open, 2=open.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greeter_queue_depth",
			Help: "Approximate depth of the main delivery queue.",
		}),
		DLQDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greeter_dlq_depth",
			Help: "Approximate depth of the dead-letter queue.",
		}),
		SchedulerLastRunSecs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "greeter_scheduler_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last successful run, by job name.",
		}, []string{"job"}),
	}

	reg.MustRegister(
		m.ScheduledTotal, m.QueuedTotal, m.SentTotal, m.FailedTotal,
		m.RetryTotal, m.DuplicateTotal, m.RecoveryRequeuedTotal,
		m.CircuitBreakerState, m.QueueDepth, m.DLQDepth, m.SchedulerLastRunSecs,
	)

	return m
}

// BreakerStateValue maps a gobreaker state name to the numeric gauge value
// documented on CircuitBreakerState.
func BreakerStateValue(name string) float64 {
	switch name {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}
