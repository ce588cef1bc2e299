package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	giturls "github.com/whilp/git-urls"

	"github.com/jinford/docsync/internal/core/ingestion"
)

// Client はソースリポジトリからのコンテンツ取得を提供する
//
// リポジトリごとにベアミラーをローカルに保持し、Webhookが指す
// リビジョンのファイル内容をミラーから読み出す
type Client struct {
	cloneDir string
	token    string

	// ミラーの作成・フェッチを直列化する（同一リポジトリへの同時クローン防止）
	mu sync.Mutex
}

// NewClient は新しい Client を作成する
// tokenが空の場合は認証なしでアクセスする（公開リポジトリ向け）
func NewClient(cloneDir, token string) *Client {
	return &Client{
		cloneDir: cloneDir,
		token:    token,
	}
}

// FetchFile は指定リビジョンのファイル内容を取得する
// ミラーに対象コミットがない場合は一度だけフェッチして再試行する
func (c *Client) FetchFile(ctx context.Context, repoURL, revision, path string) (string, error) {
	repo, err := c.ensureMirror(ctx, repoURL)
	if err != nil {
		return "", err
	}

	commit, err := repo.CommitObject(plumbing.NewHash(revision))
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		if err := c.fetch(ctx, repo); err != nil {
			return "", err
		}
		commit, err = repo.CommitObject(plumbing.NewHash(revision))
	}
	if err != nil {
		return "", fmt.Errorf("commit %s not found in %s: %w", revision, repoURL, err)
	}

	file, err := commit.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", fmt.Errorf("file %s not found at %s: %w", path, revision, err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s at %s: %w", path, revision, err)
	}

	content, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("failed to read contents of %s: %w", path, err)
	}

	return content, nil
}

// ensureMirror はリポジトリのベアミラーを開く（なければクローンする）
func (c *Client) ensureMirror(ctx context.Context, repoURL string) (*git.Repository, error) {
	dir, err := c.mirrorDir(repoURL)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	repo, err := git.PlainOpen(dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("failed to open mirror %s: %w", dir, err)
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create clone directory: %w", err)
	}

	repo, err = git.PlainCloneContext(ctx, dir, true, &git.CloneOptions{
		URL:    repoURL,
		Auth:   c.auth(),
		Mirror: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", repoURL, err)
	}

	return repo, nil
}

// fetch はミラーを最新化する
func (c *Client) fetch(ctx context.Context, repo *git.Repository) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := repo.FetchContext(ctx, &git.FetchOptions{
		Auth:  c.auth(),
		Force: true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to fetch mirror: %w", err)
	}
	return nil
}

// auth はトークンからHTTP認証情報を作る
func (c *Client) auth() transport.AuthMethod {
	if c.token == "" {
		return nil
	}
	return &githttp.BasicAuth{
		Username: "x-access-token",
		Password: c.token,
	}
}

// mirrorDir はリポジトリURLからミラーの配置パスを求める
func (c *Client) mirrorDir(repoURL string) (string, error) {
	u, err := giturls.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse repository URL %q: %w", repoURL, err)
	}

	hostname := u.Hostname()
	if hostname == "" {
		hostname = u.Host
	}

	path := strings.TrimPrefix(u.Path, "/")
	path = strings.TrimSuffix(path, ".git")

	return filepath.Join(c.cloneDir, hostname, path), nil
}

// インターフェース実装の確認
var _ ingestion.ContentFetcher = (*Client)(nil)
