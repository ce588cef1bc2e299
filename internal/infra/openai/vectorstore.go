package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jinford/docsync/internal/core/ingestion"
	"github.com/jinford/docsync/internal/core/tools"
)

const (
	// DefaultTimeout はAPI呼び出し1回あたりのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// StoreExpiryDays はストアの最終アクティビティ基準の有効期限（日）
	StoreExpiryDays = 30
)

// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

// Client は OpenAI Vector Store をインデックスストアとして使うクライアント
//
// ingestion.IndexStore（バッチ処理用）と tools.Index（検索・取得用）の
// 両方の境界を実装する
type Client struct {
	client openai.Client
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

type clientOptions struct {
	timeout time.Duration
}

// WithTimeout はAPI呼び出しのタイムアウトを上書きする
func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = timeout
	}
}

// NewClient は新しい Client を作成する
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := clientOptions{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&options)
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(options.timeout),
	)

	return &Client{client: client}, nil
}

// CreateStore は指定名のVector Storeを作成しIDを返す
// ストアには最終アクティビティ基準で30日の有効期限を設定する
func (c *Client) CreateStore(ctx context.Context, name string) (string, error) {
	store, err := c.client.VectorStores.New(ctx, openai.VectorStoreNewParams{
		Name: openai.String(name),
		ExpiresAfter: openai.VectorStoreNewParamsExpiresAfter{
			Days: StoreExpiryDays,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create vector store %q: %w", name, err)
	}
	return store.ID, nil
}

// ListDocuments はストア内の全エントリをファイル名付きで返す
// Vector Storeのエントリ一覧はファイル名を含まないため、1件ずつ取得する
func (c *Client) ListDocuments(ctx context.Context, storeID string) ([]ingestion.Document, error) {
	var docs []ingestion.Document

	iter := c.client.VectorStores.Files.ListAutoPaging(ctx, storeID, openai.VectorStoreFileListParams{})
	for iter.Next() {
		entry := iter.Current()

		file, err := c.client.Files.Get(ctx, entry.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve file %s: %w", entry.ID, err)
		}

		docs = append(docs, ingestion.Document{
			FileID:   entry.ID,
			Filename: file.Filename,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list vector store files: %w", err)
	}

	return docs, nil
}

// DeleteDocument はストアのエントリと背後のファイルの両方を削除する
func (c *Client) DeleteDocument(ctx context.Context, storeID string, doc ingestion.Document) error {
	_, err := c.client.VectorStores.Files.Delete(ctx, storeID, doc.FileID)
	if err != nil {
		return fmt.Errorf("failed to delete vector store entry %s: %w", doc.FileID, err)
	}

	if _, err := c.client.Files.Delete(ctx, doc.FileID); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", doc.FileID, err)
	}

	return nil
}

// UploadDocument はローカルファイルをアップロードしてストアに登録する
func (c *Client) UploadDocument(ctx context.Context, storeID, path, filename string) (ingestion.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return ingestion.Document{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	// 一時ファイル名の一意接頭辞を登録名に残さないようファイル名を明示する
	file, err := c.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(f, filename, "text/markdown"),
		Purpose: openai.FilePurposeAssistants,
	})
	if err != nil {
		return ingestion.Document{}, fmt.Errorf("failed to upload file %s: %w", filename, err)
	}

	_, err = c.client.VectorStores.Files.New(ctx, storeID, openai.VectorStoreFileNewParams{
		FileID: file.ID,
	})
	if err != nil {
		return ingestion.Document{}, fmt.Errorf("failed to attach file %s to store %s: %w", file.ID, storeID, err)
	}

	return ingestion.Document{FileID: file.ID, Filename: filename}, nil
}

// Search はストアに対するセマンティック検索を実行する
func (c *Client) Search(ctx context.Context, storeID, query string, limit int) ([]tools.SearchHit, error) {
	page, err := c.client.VectorStores.Search(ctx, storeID, openai.VectorStoreSearchParams{
		Query: openai.VectorStoreSearchParamsQueryUnion{
			OfString: openai.String(query),
		},
		MaxNumResults: openai.Int(int64(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("vector store search failed: %w", err)
	}

	hits := make([]tools.SearchHit, 0, len(page.Data))
	for _, result := range page.Data {
		hit := tools.SearchHit{
			FileID:   result.FileID,
			Filename: result.Filename,
			Score:    result.Score,
		}
		for _, content := range result.Content {
			hit.Snippets = append(hit.Snippets, content.Text)
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// RetrieveDocument はファイルIDからドキュメント本体を取得する
func (c *Client) RetrieveDocument(ctx context.Context, fileID string) (tools.DocumentContent, error) {
	file, err := c.client.Files.Get(ctx, fileID)
	if err != nil {
		return tools.DocumentContent{}, fmt.Errorf("failed to retrieve file %s: %w", fileID, err)
	}

	resp, err := c.client.Files.Content(ctx, fileID)
	if err != nil {
		return tools.DocumentContent{}, fmt.Errorf("failed to retrieve file content %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tools.DocumentContent{}, fmt.Errorf("failed to read file content %s: %w", fileID, err)
	}

	return tools.DocumentContent{
		FileID:   fileID,
		Filename: file.Filename,
		Content:  string(body),
	}, nil
}

// インターフェース実装の確認
var (
	_ ingestion.IndexStore = (*Client)(nil)
	_ tools.Index          = (*Client)(nil)
)
