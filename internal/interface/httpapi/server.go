package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jinford/docsync/internal/core/queue"
	"github.com/jinford/docsync/internal/core/tools"
	"github.com/jinford/docsync/internal/core/webhook"
	"github.com/jinford/docsync/internal/platform/metrics"
)

// signatureHeader はWebhook署名が載るリクエストヘッダー
const signatureHeader = "X-Hub-Signature-256"

// maxPayloadBytes はWebhookペイロードの最大サイズ
const maxPayloadBytes = 25 << 20

// Hook は受信Webhookの検証・処理の境界
type Hook interface {
	VerifySignature(signatureHeader string, payload []byte) error
	Handle(ctx context.Context, payload []byte) (string, error)
}

// JobStore はジョブ状態の参照の境界
type JobStore interface {
	Status(jobID string) (queue.Job, bool)
	Stats() queue.Stats
}

// ToolService はツールサーバー境界のsearch/fetch操作
type ToolService interface {
	Search(ctx context.Context, query string) ([]tools.SearchResult, error)
	Fetch(ctx context.Context, id string) (tools.Document, error)
}

// Config はHTTPサーバーが応答に載せる運用パラメータ
type Config struct {
	// RateLimitCount / RateLimitWindow は受信側へ公開するレート制限情報
	RateLimitCount  int
	RateLimitWindow time.Duration
	// UploadGroupSize / UploadGroupPause はバッチ処理のスループット情報
	UploadGroupSize  int
	UploadGroupPause time.Duration
}

// Server はdocsyncのHTTP境界を提供する
type Server struct {
	hook     Hook
	jobs     JobStore
	tools    ToolService
	ws       *WSManager
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	cfg      Config
}

// New は新しいServerを作成する
func New(hook Hook, jobs JobStore, toolSvc ToolService, ws *WSManager, m *metrics.Metrics, gatherer prometheus.Gatherer, cfg Config) *Server {
	return &Server{
		hook:     hook,
		jobs:     jobs,
		tools:    toolSvc,
		ws:       ws,
		metrics:  m,
		gatherer: gatherer,
		cfg:      cfg,
	}
}

// Handler はルーティング済みのHTTPハンドラーを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /jobs/{id}", s.handleJobStatus)
	mux.HandleFunc("GET /queue/stats", s.handleQueueStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /tools/search", s.handleToolSearch)
	mux.HandleFunc("GET /tools/fetch/{id}", s.handleToolFetch)
	mux.HandleFunc("GET /ws", s.ws.Handle)

	return mux
}

// handleWebhook は受信Webhookを検証し、変更セットをジョブとして投入する
//
// 署名検証は応答を返す前に行う。対象外ブランチや空の変更セットは
// 処理対象がないだけなので202で受理する
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	s.metrics.WebhooksReceived.Inc()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := s.hook.VerifySignature(r.Header.Get(signatureHeader), payload); err != nil {
		s.metrics.WebhooksRejected.Inc()
		slog.Warn("webhook signature verification failed", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	jobID, err := s.hook.Handle(r.Context(), payload)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"jobID":  jobID,
		})
	case errors.Is(err, webhook.ErrMalformedPayload):
		writeError(w, http.StatusBadRequest, "malformed payload")
	case errors.Is(err, webhook.ErrBranchIgnored), errors.Is(err, webhook.ErrNoFiles):
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "ignored",
			"reason": err.Error(),
		})
	case errors.Is(err, queue.ErrQueueFull):
		s.metrics.JobsRejected.Inc()
		writeError(w, http.StatusServiceUnavailable, "job queue is full")
	default:
		slog.Error("webhook handling failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleJobStatus はジョブのスナップショットを返す
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Status(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleQueueStats はキュー統計と運用パラメータを返す
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queue": s.jobs.Stats(),
		"rateLimit": map[string]any{
			"count":  s.cfg.RateLimitCount,
			"window": s.cfg.RateLimitWindow.String(),
		},
		"batch": map[string]any{
			"uploadGroupSize":  s.cfg.UploadGroupSize,
			"uploadGroupPause": s.cfg.UploadGroupPause.String(),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleToolSearch はインデックスストアに対するセマンティック検索を実行する
func (s *Server) handleToolSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := s.tools.Search(r.Context(), req.Query)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	case errors.Is(err, tools.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "query must not be empty")
	case errors.Is(err, tools.ErrNoStore):
		writeError(w, http.StatusServiceUnavailable, "no index store configured")
	default:
		slog.Error("tool search failed", "error", err)
		writeError(w, http.StatusBadGateway, "index search failed")
	}
}

// handleToolFetch はドキュメント全体を取得する
func (s *Server) handleToolFetch(w http.ResponseWriter, r *http.Request) {
	doc, err := s.tools.Fetch(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Warn("tool fetch failed", "id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response body", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
