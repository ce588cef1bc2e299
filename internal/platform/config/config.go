package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// HTTPサーバー設定
	Server ServerConfig

	// Webhook受信設定
	Webhook WebhookConfig

	// OpenAI設定（Vector Store / File Search用）
	OpenAI OpenAIConfig

	// Git設定（ソースリポジトリからのコンテンツ取得用）
	Git GitConfig

	// ジョブキュー設定
	Queue QueueConfig

	// バッチ処理設定
	Batch BatchConfig

	// 変更セット抽出設定
	Ingestion IngestionConfig
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Addr string
	// PublicBaseURL は検索結果URLの組み立てに使用する公開ベースURL
	PublicBaseURL string
}

// WebhookConfig はWebhook受信設定
type WebhookConfig struct {
	// Secret はHMAC-SHA256署名検証用の共有シークレット
	Secret string
	// Branch は処理対象ブランチ名（例: main）
	Branch string
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey string
	// VectorStoreID は既存Vector StoreのID（空の場合はリポジトリ名で新規作成）
	VectorStoreID string
	// CallTimeout はAPI呼び出し1回あたりのタイムアウト
	CallTimeout time.Duration
}

// GitConfig はGit操作設定
type GitConfig struct {
	// Token はリポジトリホスティングサービスのアクセストークン
	Token string
	// CloneDir はミラーリポジトリの配置ディレクトリ
	CloneDir string
}

// QueueConfig はジョブキュー設定
type QueueConfig struct {
	// MaxSize はアクティブキューの最大長
	MaxSize int
	// MaxConcurrent は同時実行ジョブ数の上限
	MaxConcurrent int
	// TickInterval はスケジューラーの実行間隔
	TickInterval time.Duration
	// MaxAttempts はジョブの最大試行回数
	MaxAttempts int
	// EvictAfter は終了状態のジョブをアクティブリストから退避するまでの猶予時間
	EvictAfter time.Duration
	// RateLimitCount / RateLimitWindow は外部公開用のレート制限情報
	RateLimitCount  int
	RateLimitWindow time.Duration
}

// BatchConfig はバッチ処理設定
type BatchConfig struct {
	// TempDir はアップロード前にコンテンツを書き出す一時ディレクトリ
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

// IngestionConfig は変更セット抽出設定
type IngestionConfig struct {
	// Extensions は処理対象の拡張子リスト（例: .md,.mdx）
	Extensions []string
	// ExcludedPaths は除外するパス断片（gitignore形式で解釈される）
	ExcludedPaths []string
	// FetchGroupSize はコンテンツ取得の同時実行グループサイズ
	FetchGroupSize int
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:          getEnv("DOCSYNC_ADDR", ":8080"),
			PublicBaseURL: getEnv("DOCSYNC_PUBLIC_BASE_URL", ""),
		},
		Webhook: WebhookConfig{
			Secret: getEnv("WEBHOOK_SECRET", ""),
			Branch: getEnv("WEBHOOK_BRANCH", "main"),
		},
		OpenAI: OpenAIConfig{
			APIKey:        getEnv("OPENAI_API_KEY", ""),
			VectorStoreID: getEnv("OPENAI_VECTOR_STORE_ID", ""),
			CallTimeout:   getEnvAsDuration("OPENAI_CALL_TIMEOUT", 60*time.Second),
		},
		Git: GitConfig{
			Token:    getEnv("GIT_TOKEN", ""),
			CloneDir: getEnv("GIT_CLONE_DIR", "/var/lib/docsync/repos"),
		},
		Queue: QueueConfig{
			MaxSize:         getEnvAsInt("QUEUE_MAX_SIZE", 100),
			MaxConcurrent:   getEnvAsInt("QUEUE_MAX_CONCURRENT", 3),
			TickInterval:    getEnvAsDuration("QUEUE_TICK_INTERVAL", time.Second),
			MaxAttempts:     getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
			EvictAfter:      getEnvAsDuration("QUEUE_EVICT_AFTER", 5*time.Minute),
			RateLimitCount:  getEnvAsInt("RATE_LIMIT_COUNT", 60),
			RateLimitWindow: getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Batch: BatchConfig{
			TempDir:          getEnv("BATCH_TEMP_DIR", os.TempDir()),
			RemoveGroupSize:  getEnvAsInt("BATCH_REMOVE_GROUP_SIZE", 5),
			RemoveGroupPause: getEnvAsDuration("BATCH_REMOVE_GROUP_PAUSE", time.Second),
			UploadGroupSize:  getEnvAsInt("BATCH_UPLOAD_GROUP_SIZE", 3),
			UploadGroupPause: getEnvAsDuration("BATCH_UPLOAD_GROUP_PAUSE", 2*time.Second),
		},
		Ingestion: IngestionConfig{
			Extensions:     getEnvAsSlice("INGEST_EXTENSIONS", []string{".md", ".mdx", ".txt"}),
			ExcludedPaths:  getEnvAsSlice("INGEST_EXCLUDED_PATHS", []string{"node_modules/", ".git/", "dist/", "build/", "vendor/"}),
			FetchGroupSize: getEnvAsInt("INGEST_FETCH_GROUP_SIZE", 10),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数をtime.Durationとして取得します
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice は環境変数をカンマ区切りのリストとして取得します
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
