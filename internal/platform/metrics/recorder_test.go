package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/jinford/docsync/internal/core/ingestion"
	"github.com/jinford/docsync/internal/core/queue"
)

// fakeStats はStatsSourceのテスト用実装
type fakeStats struct {
	stats queue.Stats
}

func (f *fakeStats) Stats() queue.Stats { return f.stats }

func TestRecorderCountsTransitions(t *testing.T) {
	m := New(prometheus.NewRegistry())
	recorder := NewRecorder(m, &fakeStats{stats: queue.Stats{Pending: 1, Processing: 2}})

	// 投入→実行→リトライ→完了の遷移を順に流す
	recorder.JobUpdated(queue.Job{ID: "j1", Status: queue.StatusPending, Attempts: 0})
	recorder.JobUpdated(queue.Job{ID: "j1", Status: queue.StatusProcessing, Attempts: 1})
	recorder.JobUpdated(queue.Job{ID: "j1", Status: queue.StatusRetrying, Attempts: 1})
	// リトライからの昇格は投入として数えない
	recorder.JobUpdated(queue.Job{ID: "j1", Status: queue.StatusPending, Attempts: 1})
	recorder.JobUpdated(queue.Job{ID: "j1", Status: queue.StatusCompleted, Attempts: 2})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsAdmitted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsRetried))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsCompleted))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.JobsFailed))

	// キュー深度は pending + processing + retrying
	assert.Equal(t, float64(3), testutil.ToFloat64(m.QueueDepth))
}

func TestRecorderCountsBatchResults(t *testing.T) {
	m := New(prometheus.NewRegistry())
	recorder := NewRecorder(m, &fakeStats{})

	completedAt := time.Now()
	recorder.JobUpdated(queue.Job{
		ID:     "j1",
		Status: queue.StatusCompleted,
		Result: &ingestion.BatchJob{
			Status:      ingestion.BatchCompleted,
			StartedAt:   completedAt.Add(-2 * time.Second),
			CompletedAt: &completedAt,
			Files: []ingestion.FileChange{
				{Filename: "docs/a.md", Status: ingestion.FileAdded},
				{Filename: "docs/b.md", Status: ingestion.FileRemoved},
				{Filename: "docs/c.md", Status: ingestion.FileModified},
			},
			Results: []ingestion.FileResult{
				{Filename: "docs/a.md", Status: ingestion.FileResultSuccess},
				{Filename: "docs/b.md", Status: ingestion.FileResultSuccess},
				{Filename: "docs/c.md", Status: ingestion.FileResultFailed, Error: "upload failed"},
			},
		},
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.FilesUploaded))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FilesRemoved))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FileFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BatchDuration))
}

func TestRecorderIgnoresMissingResult(t *testing.T) {
	m := New(prometheus.NewRegistry())
	recorder := NewRecorder(m, &fakeStats{})

	// 結果なしで失敗したジョブでもパニックしない
	recorder.JobUpdated(queue.Job{ID: "j1", Status: queue.StatusFailed})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsFailed))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.FileFailures))
}
