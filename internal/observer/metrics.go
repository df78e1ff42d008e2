package observer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	pullLabels    = []string{"job", "outcome"}
	handlerLabels = []string{"handler", "status"}

	PullRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spoke_sync_pull_runs_total",
			Help: "Total number of pull runs, labeled by job kind and outcome (success, deferred, failed).",
		},
		pullLabels,
	)
	PullRunDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spoke_sync_pull_run_duration_seconds",
			Help:    "Histogram of pull run durations, fetch through watermark advance.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"job"},
	)
	RecordsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spoke_sync_records_dispatched_total",
			Help: "Total number of per-record handler invocations submitted to the worker pool.",
		},
		[]string{"job"},
	)

	HandlerOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spoke_sync_handler_outcomes_total",
			Help: "Total number of per-record handler executions, labeled by handler and status (success, skipped, failed, panic).",
		},
		handlerLabels,
	)
	HandlerDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spoke_sync_handler_duration_seconds",
			Help:    "Histogram of per-record handler durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)

	PushBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spoke_sync_push_batches_total",
			Help: "Total number of push batches written, labeled by status.",
		},
		[]string{"status"},
	)
	PushRowsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spoke_sync_push_rows_written_total",
		Help: "Total number of campaign contact rows written to the external store.",
	})

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spoke_sync_jobs_total",
			Help: "Total number of job descriptors received, labeled by sync type, source and outcome.",
		},
		[]string{"sync_type", "source", "outcome"},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spoke_sync_alerts_total",
			Help: "Total number of non-fatal warnings routed to the alert sink.",
		},
		[]string{"reason"},
	)

	dispatchQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spoke_sync_dispatch_queue_length",
		Help: "Approximate number of handler tasks waiting in the dispatch pool.",
	})
	dispatchWorkersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spoke_sync_dispatch_workers_running",
		Help: "Current number of running dispatch workers.",
	})
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spoke_sync_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// InitMetrics toggles metric collection. Collectors are registered by promauto at init.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// Enabled reports whether metric collection is on.
func Enabled() bool {
	return metricsEnabled
}

// IncPullRun counts one pull run outcome.
func IncPullRun(job, outcome string) {
	if !metricsEnabled {
		return
	}
	PullRunsTotal.WithLabelValues(sanitize(job), outcome).Inc()
}

// ObservePullRunDuration records how long a non-deferred pull run took.
func ObservePullRunDuration(job string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	PullRunDurationSeconds.WithLabelValues(sanitize(job)).Observe(duration.Seconds())
}

// AddRecordsDispatched counts handler submissions for a job.
func AddRecordsDispatched(job string, n int) {
	if !metricsEnabled || n <= 0 {
		return
	}
	RecordsDispatchedTotal.WithLabelValues(sanitize(job)).Add(float64(n))
}

// ObserveHandler records a handler outcome and its duration.
func ObserveHandler(handler, status string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	HandlerOutcomesTotal.WithLabelValues(sanitize(handler), status).Inc()
	HandlerDurationSeconds.WithLabelValues(sanitize(handler)).Observe(duration.Seconds())
}

// ObservePushBatch records a written (or failed) push batch.
func ObservePushBatch(written int, err error) {
	if !metricsEnabled {
		return
	}
	if err != nil {
		PushBatchesTotal.WithLabelValues("error").Inc()
		return
	}
	PushBatchesTotal.WithLabelValues("success").Inc()
	PushRowsWrittenTotal.Add(float64(written))
}

// IncJob counts one received job descriptor.
func IncJob(syncType, source, outcome string) {
	if !metricsEnabled {
		return
	}
	JobsTotal.WithLabelValues(sanitize(syncType), source, outcome).Inc()
}

// IncAlert counts a routed warning.
func IncAlert(reason string) {
	if !metricsEnabled {
		return
	}
	AlertsTotal.WithLabelValues(sanitize(reason)).Inc()
}

// SetDispatchQueueLength sets the approximate number of waiting handler tasks.
func SetDispatchQueueLength(length int) {
	if !metricsEnabled {
		return
	}
	dispatchQueueLength.Set(float64(length))
}

// SetDispatchWorkersRunning sets the current number of running dispatch workers.
func SetDispatchWorkersRunning(count int) {
	if !metricsEnabled {
		return
	}
	dispatchWorkersRunning.Set(float64(count))
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(duration.Seconds())
}

func sanitize(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
