package ingestion

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"
)

// ExtractorConfig は変更セット抽出の設定
type ExtractorConfig struct {
	// Extensions は処理対象の拡張子（例: .md, .mdx）
	Extensions []string
	// ExcludedPaths は除外パターン（gitignore形式）
	ExcludedPaths []string
	// FetchGroupSize はコンテンツ取得の同時実行グループサイズ
	FetchGroupSize int
}

// Extractor はWebhookペイロードから具体的な変更セットを求める
//
// コミットごとの added/modified/removed を統合し、対象拡張子と
// 除外パスでフィルタした上で、削除以外のファイルのコンテンツを
// ソースリポジトリから取得する
type Extractor struct {
	fetcher        ContentFetcher
	extensions     map[string]struct{}
	excluded       *gitignore.GitIgnore
	fetchGroupSize int
}

// NewExtractor は新しいExtractorを作成する
func NewExtractor(fetcher ContentFetcher, cfg ExtractorConfig) *Extractor {
	if cfg.FetchGroupSize <= 0 {
		cfg.FetchGroupSize = 10
	}

	extensions := make(map[string]struct{}, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		extensions[strings.ToLower(ext)] = struct{}{}
	}

	var excluded *gitignore.GitIgnore
	if len(cfg.ExcludedPaths) > 0 {
		excluded = gitignore.CompileIgnoreLines(cfg.ExcludedPaths...)
	}

	return &Extractor{
		fetcher:        fetcher,
		extensions:     extensions,
		excluded:       excluded,
		fetchGroupSize: cfg.FetchGroupSize,
	}
}

// Extract はpushイベントから変更ファイルのリストを求める
//
// 抽出レベルの失敗は伝播させず空のリストを返す。個別ファイルの
// コンテンツ取得失敗はそのファイルを落とすだけでバッチ全体は継続する
func (e *Extractor) Extract(ctx context.Context, event PushEvent) []FileChange {
	changes := e.collectChanges(event)
	if len(changes) == 0 {
		return nil
	}

	e.fetchContents(ctx, event, changes)

	// 削除ファイルか、コンテンツ取得に成功したファイルだけを残す
	results := make([]FileChange, 0, len(changes))
	for _, change := range changes {
		if change.Status == FileRemoved || change.Content != "" {
			results = append(results, *change)
		} else {
			slog.Debug("dropping file without content",
				"filename", change.Filename, "status", change.Status)
		}
	}

	return results
}

// collectChanges はコミットの変更を統合しフィルタする
// 同一ファイルが複数コミットに現れた場合は後のコミットの状態が勝つ
func (e *Extractor) collectChanges(event PushEvent) []*FileChange {
	index := make(map[string]*FileChange)
	var order []string

	record := func(filename string, status FileStatus) {
		if !e.isSupported(filename) {
			return
		}
		if existing, ok := index[filename]; ok {
			existing.Status = status
			return
		}
		index[filename] = &FileChange{Filename: filename, Status: status}
		order = append(order, filename)
	}

	for _, commit := range event.Commits {
		// マージコミットは個別コミットの変更と重複するためスキップ
		if isMergeCommit(commit.Message) {
			continue
		}

		for _, f := range commit.Added {
			record(f, FileAdded)
		}
		for _, f := range commit.Modified {
			record(f, FileModified)
		}
		for _, f := range commit.Removed {
			record(f, FileRemoved)
		}
	}

	changes := make([]*FileChange, 0, len(order))
	for _, filename := range order {
		changes = append(changes, index[filename])
	}
	return changes
}

// fetchContents は削除以外のファイルのコンテンツを固定サイズのグループで並行取得する
func (e *Extractor) fetchContents(ctx context.Context, event PushEvent, changes []*FileChange) {
	var targets []*FileChange
	for _, change := range changes {
		if change.Status != FileRemoved {
			targets = append(targets, change)
		}
	}

	// 上流のレート制限を尊重して固定サイズずつ取得する
	for start := 0; start < len(targets); start += e.fetchGroupSize {
		end := min(start+e.fetchGroupSize, len(targets))

		var wg sync.WaitGroup
		for _, change := range targets[start:end] {
			wg.Add(1)
			go func(change *FileChange) {
				defer wg.Done()

				content, err := e.fetcher.FetchFile(ctx, event.Repository.CloneURL, event.After, change.Filename)
				if err != nil {
					// 1ファイルの取得失敗はバッチを中断しない
					slog.Warn("failed to fetch file content",
						"filename", change.Filename, "revision", event.After, "error", err)
					return
				}
				change.Content = content
				change.Size = len(content)
			}(change)
		}
		wg.Wait()
	}
}

// isSupported は対象拡張子かつ除外パスに該当しないファイルを判定する
func (e *Extractor) isSupported(filename string) bool {
	if filename == "" {
		return false
	}

	// ドットセグメントで始まるパスは対象外
	if strings.HasPrefix(filepath.ToSlash(filename), ".") {
		return false
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := e.extensions[ext]; !ok {
		return false
	}

	if e.excluded != nil && e.excluded.MatchesPath(filename) {
		return false
	}

	return true
}

// isMergeCommit はマージコミットの慣習的なメッセージを判定する
func isMergeCommit(message string) bool {
	return strings.HasPrefix(message, "Merge pull request") ||
		strings.HasPrefix(message, "Merge branch") ||
		strings.HasPrefix(message, "Merge remote-tracking branch")
}
