package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lifecycle transitions by name and outcome (ok, noop, policy_violation, ...).
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_pilot_transitions_total",
			Help: "Total number of article lifecycle transitions attempted",
		},
		[]string{"transition", "outcome"},
	)

	// Scheduled job runs.
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_pilot_job_runs_total",
			Help: "Total number of scheduled job runs",
		},
		[]string{"job", "status"},
	)

	// Per-item batch outcomes (succeeded, failed, skipped, abandoned).
	JobItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_pilot_job_items_total",
			Help: "Total number of batch items processed by scheduled jobs",
		},
		[]string{"job", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "content_pilot_job_duration_seconds",
			Help:    "Scheduled job duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	CollaboratorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "content_pilot_collaborator_duration_seconds",
			Help:    "Latency of external generator and publisher calls",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"collaborator", "status"},
	)

	TopicsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "content_pilot_topics_recorded_total",
			Help: "Total number of topic usages recorded",
		},
	)

	AutoPublishEnabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "content_pilot_auto_publish_enabled",
			Help: "1 when the auto-publish switch is on",
		},
	)
)

func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
