package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingFetcher はテスト用のContentFetcher実装
type recordingFetcher struct {
	mu       sync.Mutex
	contents map[string]string
	err      error
	fetched  []string
}

func (f *recordingFetcher) FetchFile(ctx context.Context, repoURL, revision, path string) (string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, path)
	f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}
	if content, ok := f.contents[path]; ok {
		return content, nil
	}
	return "", errors.New("file not found")
}

func (f *recordingFetcher) fetchedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func newTestExtractor(fetcher ContentFetcher) *Extractor {
	return NewExtractor(fetcher, ExtractorConfig{
		Extensions:    []string{".md", ".mdx", ".txt"},
		ExcludedPaths: []string{"node_modules/", "dist/", "vendor/"},
	})
}

func testEvent(commits ...PushCommit) PushEvent {
	return PushEvent{
		Ref:   "refs/heads/main",
		After: "rev-1",
		Repository: PushRepository{
			Name:     "docs",
			FullName: "jinford/docs",
			CloneURL: "https://example.com/jinford/docs.git",
		},
		Commits: commits,
	}
}

func TestExtract_UnionsCommits(t *testing.T) {
	fetcher := &recordingFetcher{contents: map[string]string{
		"a.md": "# A\n",
		"b.md": "# B\n",
	}}
	e := newTestExtractor(fetcher)

	files := e.Extract(context.Background(), testEvent(
		PushCommit{ID: "c1", Message: "add a", Added: []string{"a.md"}},
		PushCommit{ID: "c2", Message: "add b, drop c", Added: []string{"b.md"}, Removed: []string{"c.md"}},
	))

	require.Len(t, files, 3)
	byName := map[string]FileChange{}
	for _, f := range files {
		byName[f.Filename] = f
	}
	assert.Equal(t, FileAdded, byName["a.md"].Status)
	assert.Equal(t, FileAdded, byName["b.md"].Status)
	assert.Equal(t, FileRemoved, byName["c.md"].Status)
	assert.Equal(t, "# A\n", byName["a.md"].Content)
}

func TestExtract_LastStatusWins(t *testing.T) {
	// 同一ファイルが複数コミットに現れた場合は後のコミットの状態を使う
	fetcher := &recordingFetcher{contents: map[string]string{}}
	e := newTestExtractor(fetcher)

	files := e.Extract(context.Background(), testEvent(
		PushCommit{ID: "c1", Message: "add", Added: []string{"a.md"}},
		PushCommit{ID: "c2", Message: "remove", Removed: []string{"a.md"}},
	))

	require.Len(t, files, 1)
	assert.Equal(t, FileRemoved, files[0].Status)
}

func TestExtract_SkipsMergeCommits(t *testing.T) {
	fetcher := &recordingFetcher{contents: map[string]string{"a.md": "# A\n"}}
	e := newTestExtractor(fetcher)

	files := e.Extract(context.Background(), testEvent(
		PushCommit{
			ID:      "m1",
			Message: "Merge pull request #42 from jinford/feature",
			Added:   []string{"a.md", "b.md"},
		},
	))

	assert.Empty(t, files)
}

func TestExtract_Filtering(t *testing.T) {
	fetcher := &recordingFetcher{contents: map[string]string{
		"docs/guide.md": "# Guide\n",
	}}
	e := newTestExtractor(fetcher)

	files := e.Extract(context.Background(), testEvent(
		PushCommit{ID: "c1", Message: "mixed", Added: []string{
			"docs/guide.md",          // 対象
			"src/main.go",            // 対象外の拡張子
			"node_modules/pkg/x.md",  // 除外ディレクトリ
			"dist/out.md",            // 除外ディレクトリ
			".github/workflows/x.md", // ドットセグメント始まり
		}},
	))

	require.Len(t, files, 1)
	assert.Equal(t, "docs/guide.md", files[0].Filename)
}

func TestExtract_FetchFailureDropsFile(t *testing.T) {
	// 取得に失敗したファイルは黙って落とされ、他のファイルは残る
	fetcher := &recordingFetcher{contents: map[string]string{
		"ok.md": "# OK\n",
	}}
	e := newTestExtractor(fetcher)

	files := e.Extract(context.Background(), testEvent(
		PushCommit{ID: "c1", Message: "update", Added: []string{"ok.md", "missing.md"}},
	))

	require.Len(t, files, 1)
	assert.Equal(t, "ok.md", files[0].Filename)
}

func TestExtract_RemovedFilesSkipFetch(t *testing.T) {
	fetcher := &recordingFetcher{contents: map[string]string{}}
	e := newTestExtractor(fetcher)

	files := e.Extract(context.Background(), testEvent(
		PushCommit{ID: "c1", Message: "drop", Removed: []string{"old.md"}},
	))

	require.Len(t, files, 1)
	assert.Equal(t, FileRemoved, files[0].Status)
	assert.Empty(t, fetcher.fetchedPaths(), "removed files must not be fetched")
}

func TestExtract_EmptyEvent(t *testing.T) {
	e := newTestExtractor(&recordingFetcher{})

	assert.Empty(t, e.Extract(context.Background(), testEvent()))
}
