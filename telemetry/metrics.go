// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Download cycle counters
	CyclesStarted  prometheus.Counter
	CyclesAborted  prometheus.Counter
	CyclesSkipped  prometheus.Counter // single-flight lock already held
	VideosSucceeded prometheus.Counter
	VideosFailed    prometheus.Counter

	// Subtask outcomes, by kind (video|page) and result (succeeded|failed|ignored|skipped|fixed)
	SubtaskOutcomes *prometheus.CounterVec

	// Histograms (seconds)
	CycleDuration      prometheus.Observer
	VideoDuration      prometheus.Observer
	NotificationLatency prometheus.Observer

	// Gauges
	QueueDepthGauge prometheus.Gauge
	TaskRunningGauge prometheus.Gauge

	// Notification queue
	NotificationsSent       *prometheus.CounterVec // by channel kind
	NotificationsDeduped    *prometheus.CounterVec
	NotificationsQuieted    prometheus.Counter

	// Scan / risk control
	RiskControlAborts  *prometheus.CounterVec // by source kind
	SourceScanErrors   *prometheus.CounterVec

	// Scheduler
	JobsRebuilt prometheus.Counter

	DatabaseConnectionPoolSize  prometheus.Gauge
	DatabaseConnectionPoolInUse prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CyclesStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "bili_sync_cycles_started_total", Help: "Number of download cycles started"})
		CyclesAborted = promauto.NewCounter(prometheus.CounterOpts{Name: "bili_sync_cycles_aborted_total", Help: "Number of download cycles aborted by risk control"})
		CyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "bili_sync_cycles_skipped_total", Help: "Number of cycles skipped because the single-flight lock was held"})
		VideosSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "bili_sync_videos_succeeded_total", Help: "Number of videos whose status word reached all-terminal"})
		VideosFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "bili_sync_videos_failed_total", Help: "Number of videos with at least one retryable subtask failure"})

		SubtaskOutcomes = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "bili_sync_subtask_outcomes_total", Help: "Subtask execution outcomes"},
			[]string{"level", "outcome"}, // level: video|page, outcome: succeeded|failed|ignored|skipped|fixed
		)

		CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bili_sync_cycle_duration_seconds",
			Help:    "Download cycle duration seconds",
			Buckets: []float64{5, 15, 30, 60, 300, 900, 3600},
		})
		VideoDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bili_sync_video_duration_seconds",
			Help:    "Per-video workflow duration seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900},
		})
		NotificationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bili_sync_notification_latency_seconds",
			Help:    "Delay between enqueue and dispatch, including quiet-hours holds",
			Buckets: []float64{1, 5, 30, 60, 300, 1800, 3600, 36000},
		})

		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bili_sync_notification_queue_depth", Help: "Current notification queue depth"})
		TaskRunningGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bili_sync_task_running", Help: "1 while a download cycle holds the single-flight lock"})

		NotificationsSent = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "bili_sync_notifications_sent_total", Help: "Notifications dispatched, by channel kind"},
			[]string{"channel"},
		)
		NotificationsDeduped = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "bili_sync_notifications_deduped_total", Help: "Notifications skipped because the body matched the dedup cache"},
			[]string{"channel"},
		)
		NotificationsQuieted = promauto.NewCounter(prometheus.CounterOpts{Name: "bili_sync_notifications_quieted_total", Help: "Notifications re-enqueued because they landed in the quiet-hours window"})

		RiskControlAborts = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "bili_sync_risk_control_aborts_total", Help: "Risk-control cycle aborts, by source kind"},
			[]string{"source_kind"},
		)
		SourceScanErrors = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "bili_sync_source_scan_errors_total", Help: "Non-risk-control scan errors, by source kind"},
			[]string{"source_kind"},
		)

		JobsRebuilt = promauto.NewCounter(prometheus.CounterOpts{Name: "bili_sync_scheduler_jobs_rebuilt_total", Help: "Number of times the scheduler rebuilt its jobs after a config change"})

		DatabaseConnectionPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bili_sync_database_connection_pool_size",
			Help: "Maximum database connection pool size",
		})
		DatabaseConnectionPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bili_sync_database_connection_pool_in_use",
			Help: "Current number of database connections in use",
		})
	})
}

// SetQueueDepth records the current notification queue depth.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetTaskRunning records whether the single-flight lock is currently held.
func SetTaskRunning(running bool) {
	if TaskRunningGauge == nil {
		return
	}
	if running {
		TaskRunningGauge.Set(1)
	} else {
		TaskRunningGauge.Set(0)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// UpdateDatabasePoolMetrics updates the database connection pool metrics.
func UpdateDatabasePoolMetrics(maxOpen, inUse int) {
	if DatabaseConnectionPoolSize != nil {
		DatabaseConnectionPoolSize.Set(float64(maxOpen))
	}
	if DatabaseConnectionPoolInUse != nil {
		DatabaseConnectionPoolInUse.Set(float64(inUse))
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying id as its correlation id,
// replacing any id ctx already carries.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
