package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/docsync/internal/core/markup"
)

// BatchProcessorConfig はバッチ処理の設定
type BatchProcessorConfig struct {
	// StoreID は既存インデックスストアのID（空の場合はリポジトリごとに作成）
	StoreID string
	// TempDir はアップロード前のコンテンツを書き出す一時ディレクトリ
	TempDir string
	// RemoveGroupSize は削除処理の同時実行グループサイズ
	RemoveGroupSize int
	// RemoveGroupPause は削除グループ間の待機時間
	RemoveGroupPause time.Duration
	// UploadGroupSize はアップロード処理の同時実行グループサイズ
	UploadGroupSize int
	// UploadGroupPause はアップロードグループ間の待機時間
	UploadGroupPause time.Duration
}

// BatchProcessor はファイル変更のリストをインデックスストアに反映する
//
// 削除をすべて処理してからアップロードを開始する。どちらも固定サイズの
// 並行グループで実行し、グループ間に待機を挟んでバーストレートを抑える
type BatchProcessor struct {
	store IndexStore
	cfg   BatchProcessorConfig

	// resolved はリポジトリ名→作成済みストアIDのキャッシュ
	mu       sync.Mutex
	resolved map[string]string
}

// NewBatchProcessor は新しいBatchProcessorを作成する
func NewBatchProcessor(store IndexStore, cfg BatchProcessorConfig) *BatchProcessor {
	if cfg.RemoveGroupSize <= 0 {
		cfg.RemoveGroupSize = 5
	}
	if cfg.RemoveGroupPause <= 0 {
		cfg.RemoveGroupPause = time.Second
	}
	if cfg.UploadGroupSize <= 0 {
		cfg.UploadGroupSize = 3
	}
	if cfg.UploadGroupPause <= 0 {
		cfg.UploadGroupPause = 2 * time.Second
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	return &BatchProcessor{
		store:    store,
		cfg:      cfg,
		resolved: make(map[string]string),
	}
}

// Run はリポジトリのファイル変更を1バッチとして処理する
//
// 個別ファイルの失敗は結果リストに記録して処理を継続する。ストア解決の
// 失敗などバッチレベルの失敗のみがエラーとして返り、ジョブのリトライ対象になる
func (p *BatchProcessor) Run(ctx context.Context, repository string, files []FileChange) (*BatchJob, error) {
	job := &BatchJob{
		ID:         uuid.NewString(),
		Repository: repository,
		Files:      files,
		Status:     BatchProcessing,
		StartedAt:  time.Now(),
	}

	storeID, err := p.resolveStore(ctx, repository)
	if err != nil {
		job.Status = BatchFailed
		job.Error = err.Error()
		return job, fmt.Errorf("failed to resolve index store for %s: %w", repository, err)
	}
	job.VectorStoreID = storeID

	var toRemove, toUpsert []FileChange
	for _, f := range files {
		switch {
		case f.Status == FileRemoved:
			toRemove = append(toRemove, f)
		case f.Content != "":
			toUpsert = append(toUpsert, f)
		}
	}

	run := newBatchRun(p.store, storeID, job)
	defer run.cleanup()

	// 削除を完了させてからアップロードを開始する
	run.processRemovals(ctx, toRemove, p.cfg.RemoveGroupSize, p.cfg.RemoveGroupPause)
	run.processUploads(ctx, toUpsert, p.cfg.TempDir, p.cfg.UploadGroupSize, p.cfg.UploadGroupPause)

	now := time.Now()
	job.Status = BatchCompleted
	job.CompletedAt = &now

	return job, nil
}

// resolveStore は対象ストアIDを解決する
// 設定済みIDがあればそれを使い、なければリポジトリ名でストアを作成する
func (p *BatchProcessor) resolveStore(ctx context.Context, repository string) (string, error) {
	if p.cfg.StoreID != "" {
		return p.cfg.StoreID, nil
	}

	p.mu.Lock()
	storeID, ok := p.resolved[repository]
	p.mu.Unlock()
	if ok {
		return storeID, nil
	}

	name := strings.ReplaceAll(repository, "/", "-")
	storeID, err := p.store.CreateStore(ctx, name)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.resolved[repository] = storeID
	p.mu.Unlock()

	slog.Info("created index store", "repository", repository, "storeID", storeID)
	return storeID, nil
}

// batchRun は1回のバッチ実行の内部状態
type batchRun struct {
	store   IndexStore
	storeID string
	job     *BatchJob

	mu        sync.Mutex
	index     map[string]Document // ファイル名（正規化済み）→ドキュメント
	indexErr  error
	listed    bool
	tempFiles []string
}

func newBatchRun(store IndexStore, storeID string, job *BatchJob) *batchRun {
	return &batchRun{
		store:   store,
		storeID: storeID,
		job:     job,
	}
}

// processRemovals は削除対象ファイルを固定サイズのグループで処理する
// インデックスに存在しないファイルの削除は成功として扱う
func (r *batchRun) processRemovals(ctx context.Context, files []FileChange, groupSize int, pause time.Duration) {
	if len(files) == 0 {
		return
	}

	if err := r.ensureIndex(ctx); err != nil {
		// 一覧取得に失敗した場合はこの操作の全ファイルを失敗として記録する
		for _, f := range files {
			r.record(f.Filename, FileResultFailed, fmt.Sprintf("failed to list index documents: %v", err))
		}
		return
	}

	r.runGroups(ctx, files, groupSize, pause, func(ctx context.Context, f FileChange) {
		doc, ok := r.lookup(f.Filename)
		if !ok {
			// 既に存在しないものは削除済みとみなす
			r.record(f.Filename, FileResultSuccess, "")
			return
		}

		if err := r.store.DeleteDocument(ctx, r.storeID, doc); err != nil {
			r.record(f.Filename, FileResultFailed, err.Error())
			return
		}

		r.forget(doc.Filename)
		r.record(f.Filename, FileResultSuccess, "")
	})
}

// processUploads は追加・変更ファイルを固定サイズのグループで処理する
func (r *batchRun) processUploads(ctx context.Context, files []FileChange, tempDir string, groupSize int, pause time.Duration) {
	if len(files) == 0 {
		return
	}

	r.runGroups(ctx, files, groupSize, pause, func(ctx context.Context, f FileChange) {
		filename, content := prepareContent(f)

		// 並行実行中のジョブと衝突しないよう一意な接頭辞を付ける
		tempPath := filepath.Join(tempDir, fmt.Sprintf("%s_%s", uuid.NewString(), filename))
		if err := os.WriteFile(tempPath, []byte(content), 0o600); err != nil {
			r.record(f.Filename, FileResultFailed, fmt.Sprintf("failed to write temp file: %v", err))
			return
		}
		r.trackTempFile(tempPath)

		// 変更の場合は同名の既存エントリを先に削除する（ベストエフォート）
		if f.Status == FileModified {
			r.deleteExisting(ctx, filename)
		}

		doc, err := r.store.UploadDocument(ctx, r.storeID, tempPath, filename)
		if err != nil {
			r.record(f.Filename, FileResultFailed, err.Error())
			return
		}

		r.remember(doc)
		r.record(f.Filename, FileResultSuccess, "")
	})
}

// deleteExisting は同じ最終ファイル名の既存エントリを探して削除する
// 見つからない・削除に失敗した場合もアップロードは中断しない
func (r *batchRun) deleteExisting(ctx context.Context, filename string) {
	if err := r.ensureIndex(ctx); err != nil {
		slog.Warn("failed to list index documents for upsert lookup", "error", err)
		return
	}

	doc, ok := r.lookup(filename)
	if !ok {
		return
	}

	if err := r.store.DeleteDocument(ctx, r.storeID, doc); err != nil {
		slog.Warn("failed to delete existing index entry",
			"filename", filename, "fileID", doc.FileID, "error", err)
		return
	}
	r.forget(doc.Filename)
}

// runGroups はグループ単位の並行実行を行う
// グループNの完了（グループ後の待機を含む）後にグループN+1を開始する
func (r *batchRun) runGroups(ctx context.Context, files []FileChange, size int, pause time.Duration, fn func(context.Context, FileChange)) {
	for start := 0; start < len(files); start += size {
		end := min(start+size, len(files))

		var wg sync.WaitGroup
		for _, f := range files[start:end] {
			wg.Add(1)
			go func(f FileChange) {
				defer wg.Done()
				fn(ctx, f)
			}(f)
		}
		wg.Wait()

		// 最終グループの後には待機しない
		if end < len(files) && pause > 0 {
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return
			}
		}
	}
}

// ensureIndex はストア内ドキュメントの一覧を1回だけ取得する
func (r *batchRun) ensureIndex(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listed {
		return r.indexErr
	}
	r.listed = true

	docs, err := r.store.ListDocuments(ctx, r.storeID)
	if err != nil {
		r.indexErr = err
		return err
	}

	r.index = make(map[string]Document, len(docs))
	for _, doc := range docs {
		r.index[canonicalName(doc.Filename)] = doc
	}
	return nil
}

// lookup はファイル名に対応する登録済みドキュメントを探す
func (r *batchRun) lookup(filename string) (Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.index[canonicalName(sanitizeFilename(filename))]
	return doc, ok
}

func (r *batchRun) remember(doc Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index == nil {
		r.index = make(map[string]Document)
	}
	r.index[canonicalName(doc.Filename)] = doc
}

func (r *batchRun) forget(filename string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.index, canonicalName(filename))
}

// record は1ファイルの終了状態を記録する（ファイルごとに1エントリ）
func (r *batchRun) record(filename string, status FileResultStatus, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job.Results = append(r.job.Results, FileResult{
		Filename: filename,
		Status:   status,
		Error:    errMsg,
	})
}

func (r *batchRun) trackTempFile(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tempFiles = append(r.tempFiles, path)
}

// cleanup はバッチで作成した一時ファイルをすべて削除する
// 成否にかかわらず実行され、削除失敗はログに残すだけでエラーにしない
func (r *batchRun) cleanup() {
	r.mu.Lock()
	paths := r.tempFiles
	r.tempFiles = nil
	r.mu.Unlock()

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove temp file", "path", path, "error", err)
		}
	}
}

// prepareContent はアップロード用のファイル名とコンテンツを決める
// マークアップ方言（.mdx）は正規化し、拡張子を.mdに書き換える
func prepareContent(f FileChange) (string, string) {
	filename := sanitizeFilename(f.Filename)
	content := f.Content

	if strings.EqualFold(filepath.Ext(filename), ".mdx") {
		content = markup.Normalize(content)
		filename = strings.TrimSuffix(filename, filepath.Ext(filename)) + ".md"
	}

	return filename, content
}

// sanitizeFilename はパス区切りをアンダースコアに置き換える
func sanitizeFilename(filename string) string {
	return strings.ReplaceAll(filepath.ToSlash(filename), "/", "_")
}

// canonicalName は.mdxと.mdを同一視するための正規化名を返す
// 正規化により.mdxはアップロード時点で.mdに書き換えられているため
func canonicalName(filename string) string {
	if strings.EqualFold(filepath.Ext(filename), ".mdx") {
		return strings.TrimSuffix(filename, filepath.Ext(filename)) + ".md"
	}
	return filename
}
