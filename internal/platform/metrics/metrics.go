package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics はインジェスト処理のPrometheusメトリクスを保持する
type Metrics struct {
	// キュー関連
	QueueDepth    prometheus.Gauge
	JobsAdmitted  prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	JobsRetried   prometheus.Counter
	JobsRejected  prometheus.Counter

	// バッチ処理関連
	FilesUploaded prometheus.Counter
	FilesRemoved  prometheus.Counter
	FileFailures  prometheus.Counter
	BatchDuration prometheus.Histogram

	// Webhook関連
	WebhooksReceived prometheus.Counter
	WebhooksRejected prometheus.Counter
}

// New はメトリクスを作成し、レジストラに登録する
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docsync_queue_depth",
			Help: "Number of jobs currently in the active queue.",
		}),
		JobsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "docsync_jobs_admitted_total",
			Help: "Total number of jobs admitted to the queue.",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "docsync_jobs_completed_total",
			Help: "Total number of jobs that completed successfully.",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "docsync_jobs_failed_total",
			Help: "Total number of jobs that exhausted their retries.",
		}),
		JobsRetried: factory.NewCounter(prometheus.CounterOpts{
			Name: "docsync_jobs_retried_total",
			Help: "Total number of job retry attempts scheduled.",
		}),
		JobsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "docsync_jobs_rejected_total",
			Help: "Total number of jobs rejected because the queue was full.",
		}),
		FilesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "docsync_files_uploaded_total",
			Help: "Total number of files uploaded to the index store.",
		}),
		FilesRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "docsync_files_removed_total",
			Help: "Total number of files removed from the index store.",
		}),
		FileFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "docsync_file_failures_total",
			Help: "Total number of per-file operations that failed.",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docsync_batch_duration_seconds",
			Help:    "Duration of batch processor runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		WebhooksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "docsync_webhooks_received_total",
			Help: "Total number of webhook deliveries received.",
		}),
		WebhooksRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "docsync_webhooks_rejected_total",
			Help: "Total number of webhook deliveries rejected by signature verification.",
		}),
	}
}
