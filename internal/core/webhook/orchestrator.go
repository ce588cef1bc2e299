package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jinford/docsync/internal/core/ingestion"
)

var (
	// ErrInvalidSignature は署名検証に失敗した場合のエラー
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedPayload はペイロードの解析に失敗した場合のエラー
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrBranchIgnored は対象外ブランチへのpushの場合のエラー
	ErrBranchIgnored = errors.New("push does not target the integration branch")

	// ErrNoFiles はフィルタ後に処理対象ファイルがない場合のエラー
	ErrNoFiles = errors.New("no supported files in change-set")
)

// signaturePrefix は署名ヘッダーの形式（sha256=<hex>）
const signaturePrefix = "sha256="

// maxPriority はジョブ優先度の上限
const maxPriority = 10

// criticalExtensions は優先度を引き上げる拡張子
var criticalExtensions = map[string]struct{}{
	".md":  {},
	".mdx": {},
}

// Admitter はジョブキューへの投入の境界
type Admitter interface {
	Admit(repository string, files []ingestion.FileChange, priority int) (string, error)
}

// Config はWebhookオーケストレーターの設定
type Config struct {
	// Secret はHMAC-SHA256署名検証用の共有シークレット
	Secret string
	// Branch は処理対象ブランチ名（例: main）
	Branch string
}

// Orchestrator は受信Webhookを検証・フィルタし、変更セットをジョブとして投入する
type Orchestrator struct {
	cfg       Config
	extractor *ingestion.Extractor
	admitter  Admitter
}

// New は新しいOrchestratorを作成する
func New(cfg Config, extractor *ingestion.Extractor, admitter Admitter) *Orchestrator {
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	return &Orchestrator{
		cfg:       cfg,
		extractor: extractor,
		admitter:  admitter,
	}
}

// VerifySignature は生ペイロードに対するHMAC-SHA256署名を検証する
// 比較は一定時間で行い、検証の詳細は呼び出し側へ漏らさない
func (o *Orchestrator) VerifySignature(signatureHeader string, payload []byte) error {
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return ErrInvalidSignature
	}

	received, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, signaturePrefix))
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(o.cfg.Secret))
	mac.Write(payload)

	if !hmac.Equal(received, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Handle は署名検証済みのペイロードを処理し、投入したジョブIDを返す
//
// 対象外ブランチ・空の変更セットはエラーとして区別されるが、どちらも
// 呼び出し側で正常応答にマップされる想定（処理対象がないだけで異常ではない）
func (o *Orchestrator) Handle(ctx context.Context, payload []byte) (string, error) {
	event, err := ParsePayload(payload)
	if err != nil {
		return "", err
	}

	// 統合ブランチ以外へのpushは無視する
	if event.Ref != "refs/heads/"+o.cfg.Branch {
		slog.Debug("ignoring push to non-integration branch", "ref", event.Ref)
		return "", ErrBranchIgnored
	}

	files := o.extractor.Extract(ctx, event)
	if len(files) == 0 {
		return "", ErrNoFiles
	}

	priority := Priority(files)

	jobID, err := o.admitter.Admit(event.Repository.FullName, files, priority)
	if err != nil {
		return "", fmt.Errorf("failed to admit ingestion job: %w", err)
	}

	slog.Info("webhook accepted",
		"repository", event.Repository.FullName, "jobID", jobID,
		"files", len(files), "priority", priority)

	return jobID, nil
}

// ParsePayload はpushイベントのJSONを型付きで解析する
// 不正なペイロードは境界で拒否し、後段へ伝播させない
func ParsePayload(payload []byte) (ingestion.PushEvent, error) {
	var event ingestion.PushEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return ingestion.PushEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if event.Ref == "" || event.Repository.FullName == "" {
		return ingestion.PushEvent{}, fmt.Errorf("%w: missing ref or repository", ErrMalformedPayload)
	}
	return event, nil
}

// Priority は変更セットからジョブ優先度を計算する
//
// ファイル数が多いほど基礎点が下がり（大きなバッチは急がない）、
// 重要拡張子が含まれる場合は+2される。結果は1..maxPriorityに収まる
func Priority(files []ingestion.FileChange) int {
	priority := 10 - len(files)/5
	if priority < 1 {
		priority = 1
	}

	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Filename))
		if _, ok := criticalExtensions[ext]; ok {
			priority += 2
			break
		}
	}

	if priority > maxPriority {
		priority = maxPriority
	}
	return priority
}
