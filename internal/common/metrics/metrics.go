// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SweepEntitiesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_entities_processed_total",
			Help: "Total number of entities handled per sweep type and outcome",
		},
		[]string{"task_type", "outcome"},
	)

	SweepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_failures_total",
			Help: "Total number of sweeps that could not start",
		},
		[]string{"task_type", "error_code"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "sweep_duration_seconds",
			Help: "Duration of one full sweep in seconds",
		},
		[]string{"task_type"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications accepted for dispatch",
		},
		[]string{"template"},
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Total number of notification dispatch failures",
		},
		[]string{"template"},
	)
)
