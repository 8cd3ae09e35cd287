// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciliation_jobs_started_total",
			Help: "Total number of reconciliation jobs admitted by the scheduler",
		},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_jobs_finished_total",
			Help: "Total number of reconciliation jobs that reached a terminal state",
		},
		[]string{"status"},
	)

	JobsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciliation_jobs_rejected_total",
			Help: "Job start requests refused because the concurrency limit was reached",
		},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciliation_jobs_active",
			Help: "Number of jobs currently holding a scheduler slot",
		},
	)

	JobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciliation_jobs_queued",
			Help: "Number of jobs waiting for a scheduler slot",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciliation_job_duration_seconds",
			Help:    "Wall-clock duration of reconciliation jobs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"status"},
	)

	ChunkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "reconciliation_chunk_duration_seconds",
			Help: "Time spent matching and persisting one chunk",
		},
	)

	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_records_processed_total",
			Help: "Source records processed, by outcome",
		},
		[]string{"outcome"},
	)

	ProgressEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_progress_events_dropped_total",
			Help: "Progress events a sink failed to deliver or throttled",
		},
		[]string{"sink", "reason"},
	)

	ReviewActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_review_actions_total",
			Help: "Match review actions applied",
		},
		[]string{"action"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of Zeebe jobs currently being handled",
		},
		[]string{"task_type"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of Zeebe jobs completed",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of Zeebe jobs failed, by error code",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_job_duration_seconds",
			Help:    "Zeebe job handling duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task_type"},
	)
)
