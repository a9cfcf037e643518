/*
Package metrics exposes Prometheus instrumentation for the service.

PURPOSE:
  Counters and histograms for the hot paths: evaluation ticks, alert
  lifecycle, staff actions, and the optimistic-concurrency retry rate.
  A rising conflict-retry rate is the early-warning signal that batch
  contention is growing.

USAGE:
  metrics.ActionsApplied.WithLabelValues("DISPOSED").Inc()
  r.Handle("/metrics", promhttp.Handler())
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EvaluationTicks counts scheduler ticks by outcome.
	EvaluationTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelflife",
		Name:      "evaluation_ticks_total",
		Help:      "Evaluation scheduler ticks by result.",
	}, []string{"result"})

	// EvaluationDuration tracks how long a full tick takes.
	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shelflife",
		Name:      "evaluation_duration_seconds",
		Help:      "Duration of a full evaluation tick.",
		Buckets:   prometheus.DefBuckets,
	})

	// AlertsCreated counts alerts created by type.
	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelflife",
		Name:      "alerts_created_total",
		Help:      "Alerts created by alert type.",
	}, []string{"alert_type"})

	// AlertsClosed counts alerts leaving the open set by resolution.
	AlertsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelflife",
		Name:      "alerts_closed_total",
		Help:      "Alerts closed by resolution.",
	}, []string{"resolution"})

	// ActionsApplied counts successfully applied staff actions by type.
	ActionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelflife",
		Name:      "actions_applied_total",
		Help:      "Staff actions applied by action type.",
	}, []string{"action_type"})

	// ConflictRetries counts version conflicts that triggered a retry.
	ConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shelflife",
		Name:      "conflict_retries_total",
		Help:      "Guarded batch writes retried after a version conflict.",
	})

	// NotifyFailures counts alert notifications that could not be
	// delivered. Delivery failures never fail the tick, so this counter
	// is the only place they surface besides the log.
	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shelflife",
		Name:      "notify_failures_total",
		Help:      "Alert notifications that failed to publish.",
	})
)
