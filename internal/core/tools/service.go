package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jinford/docsync/internal/core/markup"
)

var (
	// ErrNoStore は検索対象のストアが設定されていない場合のエラー
	ErrNoStore = errors.New("no index store configured for tool operations")

	// ErrEmptyQuery は空のクエリのエラー
	ErrEmptyQuery = errors.New("query must not be empty")
)

// SearchHit はインデックスサービスからの検索ヒット1件
type SearchHit struct {
	FileID   string
	Filename string
	Score    float64
	Snippets []string
}

// DocumentContent は取得したドキュメントの本体
type DocumentContent struct {
	FileID   string
	Filename string
	Content  string
}

// Index は検索・取得のためのインデックスサービスとの境界
type Index interface {
	// Search はストアに対するセマンティック検索を実行する
	Search(ctx context.Context, storeID, query string, limit int) ([]SearchHit, error)
	// RetrieveDocument はファイルIDからドキュメント本体を取得する
	RetrieveDocument(ctx context.Context, fileID string) (DocumentContent, error)
}

// SearchResult はツールサーバーのsearch操作の結果1件
type SearchResult struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

// Document はツールサーバーのfetch操作の結果
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Text     string            `json:"text"`
	URL      string            `json:"url"`
	Metadata map[string]string `json:"metadata"`
}

// Config はツールサービスの設定
type Config struct {
	// StoreID は検索対象のインデックスストアID
	StoreID string
	// PublicBaseURL は結果URLの組み立てに使う公開ベースURL（空の場合URLは相対パス）
	PublicBaseURL string
	// MaxResults は検索結果数の上限
	MaxResults int
}

// Service はツールサーバー境界のsearch/fetch操作を提供する
//
// バッチ処理が投入するのと同じインデックスストアへの薄い写像であり、
// リトライ・順序制御・並行制御は持たない
type Service struct {
	index Index
	cfg   Config
}

// New は新しいServiceを作成する
func New(index Index, cfg Config) *Service {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	return &Service{index: index, cfg: cfg}
}

// Search はクエリに対するセマンティック検索の結果を返す
func (s *Service) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if s.cfg.StoreID == "" {
		return nil, ErrNoStore
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	hits, err := s.index.Search(ctx, s.cfg.StoreID, query, s.cfg.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("index search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, SearchResult{
			ID:    hit.FileID,
			Title: titleFromFilename(hit.Filename),
			Text:  strings.Join(hit.Snippets, "\n"),
			URL:   s.documentURL(hit.Filename),
		})
	}
	return results, nil
}

// Fetch はドキュメント全体を取得する
func (s *Service) Fetch(ctx context.Context, id string) (Document, error) {
	content, err := s.index.RetrieveDocument(ctx, id)
	if err != nil {
		return Document{}, fmt.Errorf("failed to retrieve document %s: %w", id, err)
	}

	title := markup.Title(content.Content)
	if title == "" {
		title = titleFromFilename(content.Filename)
	}

	return Document{
		ID:    content.FileID,
		Title: title,
		Text:  markup.PlainText(content.Content),
		URL:   s.documentURL(content.Filename),
		Metadata: map[string]string{
			"filename": content.Filename,
		},
	}, nil
}

// documentURL は登録ファイル名から公開URLを組み立てる
// アップロード時のサニタイズ（"/"→"_"）は戻せないためファイル名をそのまま使う
func (s *Service) documentURL(filename string) string {
	path := strings.TrimSuffix(filename, ".md")
	if s.cfg.PublicBaseURL == "" {
		return "/" + path
	}
	return strings.TrimSuffix(s.cfg.PublicBaseURL, "/") + "/" + path
}

// titleFromFilename はファイル名からフォールバックのタイトルを作る
func titleFromFilename(filename string) string {
	name := strings.TrimSuffix(filename, ".md")
	name = strings.ReplaceAll(name, "_", " ")
	return name
}
