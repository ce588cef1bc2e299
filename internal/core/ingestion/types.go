package ingestion

import (
	"context"
	"time"
)

// FileStatus は変更セット内のファイルの状態
type FileStatus string

const (
	// FileAdded は新規追加されたファイル
	FileAdded FileStatus = "added"
	// FileModified は変更されたファイル
	FileModified FileStatus = "modified"
	// FileRemoved は削除されたファイル
	FileRemoved FileStatus = "removed"
)

// FileChange は1つの変更セット内の単一ファイルの変更を表す
// Filenameが変更セット内での識別子となる
type FileChange struct {
	Filename string     `json:"filename"`
	Status   FileStatus `json:"status"`
	// Content は削除以外のファイルに取得したコンテンツ（取得失敗時は空）
	Content string `json:"content,omitempty"`
	Size    int    `json:"size,omitempty"`
}

// PushEvent はリポジトリホスティングサービスからのpushイベントペイロード
type PushEvent struct {
	Ref        string         `json:"ref"`
	After      string         `json:"after"`
	Repository PushRepository `json:"repository"`
	Commits    []PushCommit   `json:"commits"`
}

// PushRepository はpushイベント内のリポジトリ情報
type PushRepository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	CloneURL string `json:"clone_url"`
}

// PushCommit はpushイベント内の単一コミット
type PushCommit struct {
	ID       string   `json:"id"`
	Message  string   `json:"message"`
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// Document はインデックスストアに登録済みのドキュメント1件を表す
type Document struct {
	// FileID はストレージバックエンド上のファイルID
	FileID string `json:"fileID"`
	// Filename は登録時のファイル名
	Filename string `json:"filename"`
}

// IndexStore は外部ドキュメントインデックスサービスとの境界
type IndexStore interface {
	// CreateStore は指定名の新しいストアを作成しIDを返す
	CreateStore(ctx context.Context, name string) (string, error)
	// ListDocuments はストア内の全ドキュメントをファイル名付きで返す
	ListDocuments(ctx context.Context, storeID string) ([]Document, error)
	// DeleteDocument はストアのエントリと背後のファイルを削除する
	DeleteDocument(ctx context.Context, storeID string, doc Document) error
	// UploadDocument はローカルファイルを指定の登録名でアップロードしてストアに登録する
	// （ローカルパスは衝突回避の一意な接頭辞を含むため、登録名は別に渡す）
	UploadDocument(ctx context.Context, storeID, path, filename string) (Document, error)
}

// ContentFetcher はソースリポジトリとの境界
type ContentFetcher interface {
	// FetchFile は指定リビジョンのファイル内容を取得する
	FetchFile(ctx context.Context, repoURL, revision, path string) (string, error)
}

// FileResultStatus は per-file 処理結果の終了状態
type FileResultStatus string

const (
	// FileResultSuccess は処理成功
	FileResultSuccess FileResultStatus = "success"
	// FileResultFailed は処理失敗
	FileResultFailed FileResultStatus = "failed"
)

// FileResult はバッチ内の1ファイルの処理結果
type FileResult struct {
	Filename string           `json:"filename"`
	Status   FileResultStatus `json:"status"`
	Error    string           `json:"error,omitempty"`
}

// BatchStatus はバッチ全体の状態
type BatchStatus string

const (
	// BatchProcessing は処理中
	BatchProcessing BatchStatus = "processing"
	// BatchCompleted は最後まで実行された状態（個別ファイルの失敗を含み得る）
	BatchCompleted BatchStatus = "completed"
	// BatchFailed はバッチレベルの例外で中断した状態
	BatchFailed BatchStatus = "failed"
)

// BatchJob は1回のバッチ実行の記録
type BatchJob struct {
	ID            string       `json:"id"`
	Repository    string       `json:"repository"`
	Files         []FileChange `json:"files"`
	VectorStoreID string       `json:"vectorStoreID"`
	Status        BatchStatus  `json:"status"`
	StartedAt     time.Time    `json:"startedAt"`
	CompletedAt   *time.Time   `json:"completedAt,omitempty"`
	Error         string       `json:"error,omitempty"`
	Results       []FileResult `json:"results"`
}
