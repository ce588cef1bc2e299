package metrics

import (
	"github.com/jinford/docsync/internal/core/ingestion"
	"github.com/jinford/docsync/internal/core/queue"
)

// StatsSource はキュー統計の参照の境界
type StatsSource interface {
	Stats() queue.Stats
}

// Recorder はジョブの状態遷移をPrometheusメトリクスへ写像するオブザーバー
type Recorder struct {
	metrics *Metrics
	stats   StatsSource
}

// NewRecorder は新しいRecorderを作成する
func NewRecorder(m *Metrics, stats StatsSource) *Recorder {
	return &Recorder{metrics: m, stats: stats}
}

// JobUpdated は状態遷移ごとに対応するカウンターを更新する
func (r *Recorder) JobUpdated(job queue.Job) {
	switch job.Status {
	case queue.StatusPending:
		// リトライからの昇格（Attempts>0）は投入として数えない
		if job.Attempts == 0 {
			r.metrics.JobsAdmitted.Inc()
		}
	case queue.StatusRetrying:
		r.metrics.JobsRetried.Inc()
	case queue.StatusCompleted:
		r.metrics.JobsCompleted.Inc()
		r.recordBatch(job)
	case queue.StatusFailed:
		r.metrics.JobsFailed.Inc()
		r.recordBatch(job)
	}

	s := r.stats.Stats()
	r.metrics.QueueDepth.Set(float64(s.Pending + s.Processing + s.Retrying))
}

// recordBatch は終了したジョブのバッチ実行結果を集計する
func (r *Recorder) recordBatch(job queue.Job) {
	result := job.Result
	if result == nil {
		return
	}

	if result.CompletedAt != nil {
		r.metrics.BatchDuration.Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())
	}

	// 結果のファイル名は元の変更セットのファイル名なので、そこから操作種別を引く
	statuses := make(map[string]ingestion.FileStatus, len(result.Files))
	for _, f := range result.Files {
		statuses[f.Filename] = f.Status
	}

	for _, fr := range result.Results {
		if fr.Status == ingestion.FileResultFailed {
			r.metrics.FileFailures.Inc()
			continue
		}
		if statuses[fr.Filename] == ingestion.FileRemoved {
			r.metrics.FilesRemoved.Inc()
		} else {
			r.metrics.FilesUploaded.Inc()
		}
	}
}

// インターフェース実装の確認
var _ queue.Notifier = (*Recorder)(nil)
