package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/docsync/internal/core/ingestion"
)

// Status はジョブの状態
type Status string

const (
	// StatusPending は実行待ち
	StatusPending Status = "pending"
	// StatusProcessing は実行中
	StatusProcessing Status = "processing"
	// StatusRetrying はバックオフ待機中
	StatusRetrying Status = "retrying"
	// StatusCompleted は正常終了（終了状態）
	StatusCompleted Status = "completed"
	// StatusFailed はリトライ回数を使い切った失敗（終了状態）
	StatusFailed Status = "failed"
)

// ErrQueueFull はアクティブキューが上限に達している場合のエラー
var ErrQueueFull = errors.New("job queue is full")

// ErrAlreadyStarted はStartが二重に呼ばれた場合のエラー
var ErrAlreadyStarted = errors.New("queue scheduler already started")

// Job はキューが管理するインジェストジョブ
type Job struct {
	ID         string                 `json:"id"`
	Repository string                 `json:"repository"`
	Files      []ingestion.FileChange `json:"files"`
	Priority   int                    `json:"priority"`
	CreatedAt  time.Time              `json:"createdAt"`
	Attempts   int                    `json:"attempts"`
	Status     Status                 `json:"status"`
	Error      string                 `json:"error,omitempty"`
	// Result は実行結果（終了状態またはリトライ前の最新試行の記録）
	Result *ingestion.BatchJob `json:"result,omitempty"`

	// readyAt はretrying→pendingの遷移時刻
	readyAt time.Time
	// terminalAt は終了状態に到達した時刻（アクティブリストからの退避判定用）
	terminalAt time.Time
}

// Processor はジョブ本体を実行する
// ジョブ状態の遷移はキューだけが行い、Processorは結果を返すだけ
type Processor interface {
	Run(ctx context.Context, repository string, files []ingestion.FileChange) (*ingestion.BatchJob, error)
}

// Notifier はジョブの状態遷移ごとに呼ばれるオブザーバー
type Notifier interface {
	JobUpdated(job Job)
}

// Config はキューの設定
type Config struct {
	// MaxSize はアクティブキューの最大長（これ以上の投入は拒否される）
	MaxSize int
	// MaxConcurrent は同時実行ジョブ数の上限
	MaxConcurrent int
	// TickInterval はスケジューラーの実行間隔
	TickInterval time.Duration
	// MaxAttempts はジョブの最大試行回数
	MaxAttempts int
	// EvictAfter は終了状態のジョブをアクティブリストから退避するまでの猶予
	EvictAfter time.Duration
	// BackoffBase はリトライ待機の基底時間（待機 = BackoffBase * 2^attempts）
	BackoffBase time.Duration
}

// DefaultConfig はデフォルトのキュー設定
func DefaultConfig() Config {
	return Config{
		MaxSize:       100,
		MaxConcurrent: 3,
		TickInterval:  time.Second,
		MaxAttempts:   3,
		EvictAfter:    5 * time.Minute,
		BackoffBase:   time.Second,
	}
}

// Option はQueueのオプション設定
type Option func(*Queue)

// WithNotifier は状態遷移のオブザーバーを追加する
func WithNotifier(n Notifier) Option {
	return func(q *Queue) {
		q.notifiers = append(q.notifiers, n)
	}
}

// WithClock は現在時刻の取得関数を差し替える（テスト用）
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// Queue は優先度付きインジェストジョブキュー
//
// ジョブ状態の遷移はこのキューだけが行う。アクティブリストは優先度の
// 降順に保たれ、同一優先度は投入順を維持する。終了状態のジョブは
// 猶予時間の経過後にアクティブリストから退避されるが、完了マップには
// プロセス生存中ずっと残る
type Queue struct {
	processor Processor
	cfg       Config
	notifiers []Notifier
	now       func() time.Time

	mu         sync.Mutex
	active     []*Job
	completed  map[string]*Job
	processing int

	startMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// New は新しいQueueを作成する
func New(processor Processor, cfg Config, opts ...Option) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = 5 * time.Minute
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}

	q := &Queue{
		processor: processor,
		cfg:       cfg,
		now:       time.Now,
		completed: make(map[string]*Job),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Admit はジョブをキューに投入し、生成したジョブIDを返す
// アクティブキューが上限に達している場合はErrQueueFullを返し、何も変更しない
func (q *Queue) Admit(repository string, files []ingestion.FileChange, priority int) (string, error) {
	q.mu.Lock()

	if len(q.active) >= q.cfg.MaxSize {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: %d jobs active", ErrQueueFull, q.cfg.MaxSize)
	}

	job := &Job{
		ID:         uuid.NewString(),
		Repository: repository,
		Files:      files,
		Priority:   priority,
		CreatedAt:  q.now(),
		Status:     StatusPending,
	}

	// 優先度の降順を保つ安定挿入: 自分より厳密に低い優先度の直前に入る
	pos := len(q.active)
	for i, existing := range q.active {
		if existing.Priority < priority {
			pos = i
			break
		}
	}
	q.active = append(q.active, nil)
	copy(q.active[pos+1:], q.active[pos:])
	q.active[pos] = job

	snapshot := *job
	q.mu.Unlock()

	slog.Info("job admitted",
		"jobID", job.ID, "repository", repository, "priority", priority, "files", len(files))
	q.notify(snapshot)

	return job.ID, nil
}

// Start はバックグラウンドスケジューラーを起動する
func (q *Queue) Start(ctx context.Context) error {
	q.startMu.Lock()
	defer q.startMu.Unlock()

	if q.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})

	go q.run(ctx)

	return nil
}

// Stop はスケジューラーを停止し、ループの終了を待つ
// 実行中のジョブはコンテキストのキャンセルで中断される
func (q *Queue) Stop() {
	q.startMu.Lock()
	cancel, done := q.cancel, q.done
	q.startMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// run はスケジューラーループ本体
func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("queue scheduler started",
		"maxConcurrent", q.cfg.MaxConcurrent, "maxSize", q.cfg.MaxSize)

	for {
		select {
		case <-ctx.Done():
			slog.Info("queue scheduler stopped")
			return
		case <-ticker.C:
			q.tick(ctx)
		}
	}
}

// tick は1回のスケジューラー実行
// リトライ待機の昇格、終了ジョブの退避、実行枠が空いている限りのディスパッチを行う
func (q *Queue) tick(ctx context.Context) {
	now := q.now()

	q.mu.Lock()

	var promoted []Job
	kept := q.active[:0]
	for _, job := range q.active {
		switch job.Status {
		case StatusRetrying:
			if !job.readyAt.After(now) {
				job.Status = StatusPending
				promoted = append(promoted, *job)
			}
			kept = append(kept, job)
		case StatusCompleted, StatusFailed:
			// 終了状態のジョブは猶予時間の経過後にアクティブリストから外す
			// （完了マップには残るためStatusでは引き続き参照できる）
			if now.Sub(job.terminalAt) < q.cfg.EvictAfter {
				kept = append(kept, job)
			}
		default:
			kept = append(kept, job)
		}
	}
	q.active = kept

	var dispatched []*Job
	for q.processing < q.cfg.MaxConcurrent {
		job := q.nextPending()
		if job == nil {
			break
		}
		job.Status = StatusProcessing
		job.Attempts++
		q.processing++
		dispatched = append(dispatched, job)
	}

	snapshots := make([]Job, 0, len(promoted)+len(dispatched))
	snapshots = append(snapshots, promoted...)
	for _, job := range dispatched {
		snapshots = append(snapshots, *job)
	}

	q.mu.Unlock()

	for _, s := range snapshots {
		q.notify(s)
	}
	for _, job := range dispatched {
		go q.execute(ctx, job)
	}
}

// nextPending は最高優先度のpendingジョブを返す（ロック保持前提）
// アクティブリストは優先度順なので先頭から探せばよい
func (q *Queue) nextPending() *Job {
	for _, job := range q.active {
		if job.Status == StatusPending {
			return job
		}
	}
	return nil
}

// execute は1回の実行試行を行い、結果に応じて状態を遷移させる
// Processorのパニックはジョブの失敗として扱い、スケジューラーを止めない
func (q *Queue) execute(ctx context.Context, job *Job) {
	result, err := q.safeRun(ctx, job)

	now := q.now()

	q.mu.Lock()
	q.processing--

	job.Result = result

	switch {
	case err == nil:
		job.Status = StatusCompleted
		job.Error = ""
		job.terminalAt = now
		q.completed[job.ID] = job
	case job.Attempts < q.cfg.MaxAttempts:
		job.Status = StatusRetrying
		job.Error = err.Error()
		job.readyAt = now.Add(q.backoff(job.Attempts))
	default:
		job.Status = StatusFailed
		job.Error = err.Error()
		job.terminalAt = now
		q.completed[job.ID] = job
	}

	snapshot := *job
	q.mu.Unlock()

	switch snapshot.Status {
	case StatusCompleted:
		slog.Info("job completed", "jobID", snapshot.ID, "attempts", snapshot.Attempts)
	case StatusRetrying:
		slog.Warn("job failed, will retry",
			"jobID", snapshot.ID, "attempts", snapshot.Attempts, "error", snapshot.Error)
	case StatusFailed:
		slog.Error("job failed permanently",
			"jobID", snapshot.ID, "attempts", snapshot.Attempts, "error", snapshot.Error)
	}

	q.notify(snapshot)
}

// safeRun はProcessor.Runをパニック保護付きで呼ぶ
func (q *Queue) safeRun(ctx context.Context, job *Job) (result *ingestion.BatchJob, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()

	return q.processor.Run(ctx, job.Repository, job.Files)
}

// backoff はattempts回目の失敗後の待機時間を返す（指数バックオフ）
func (q *Queue) backoff(attempts int) time.Duration {
	return q.cfg.BackoffBase * time.Duration(1<<attempts)
}

// Status はジョブのスナップショットを返す
// アクティブリストを先に探し、見つからなければ完了マップを探す
func (q *Queue) Status(jobID string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.active {
		if job.ID == jobID {
			return *job, true
		}
	}
	if job, ok := q.completed[jobID]; ok {
		return *job, true
	}
	return Job{}, false
}

// Stats はキューの統計情報
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Retrying   int `json:"retrying"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	// Active はアクティブリストの長さ（退避前の終了ジョブを含む）
	Active int `json:"active"`
	// Total はプロセス開始以降に終了状態へ到達したジョブ数
	Total int `json:"total"`
}

// Stats は状態ごとのジョブ数を返す
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{Active: len(q.active), Total: len(q.completed)}
	for _, job := range q.active {
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusRetrying:
			stats.Retrying++
		}
	}
	for _, job := range q.completed {
		switch job.Status {
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// notify は登録されたオブザーバーに状態遷移を通知する
func (q *Queue) notify(job Job) {
	for _, n := range q.notifiers {
		n.JobUpdated(job)
	}
}
