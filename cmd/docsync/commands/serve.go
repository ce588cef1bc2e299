package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"

	"github.com/jinford/docsync/internal/core/ingestion"
	"github.com/jinford/docsync/internal/core/queue"
	"github.com/jinford/docsync/internal/core/tools"
	"github.com/jinford/docsync/internal/core/webhook"
	"github.com/jinford/docsync/internal/infra/git"
	"github.com/jinford/docsync/internal/infra/openai"
	"github.com/jinford/docsync/internal/interface/httpapi"
	"github.com/jinford/docsync/internal/platform/config"
	"github.com/jinford/docsync/internal/platform/logger"
	"github.com/jinford/docsync/internal/platform/metrics"
)

// shutdownTimeout はHTTPサーバのグレースフルシャットダウンの猶予時間
const shutdownTimeout = 10 * time.Second

// statsFunc は関数をmetrics.StatsSourceに適合させる
type statsFunc func() queue.Stats

func (f statsFunc) Stats() queue.Stats { return f() }

// ServeAction はWebhook受信・同期サーバを起動するコマンドのアクション
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return err
	}

	logger.New(logger.Config{
		Level:  logger.ParseLevel(cmd.String("log-level")),
		Format: cmd.String("log-format"),
		Output: os.Stdout,
	})

	if cfg.Webhook.Secret == "" {
		return errors.New("WEBHOOK_SECRET must be set")
	}

	indexClient, err := openai.NewClient(cfg.OpenAI.APIKey, openai.WithTimeout(cfg.OpenAI.CallTimeout))
	if err != nil {
		return err
	}

	fetcher := git.NewClient(cfg.Git.CloneDir, cfg.Git.Token)

	extractor := ingestion.NewExtractor(fetcher, ingestion.ExtractorConfig{
		Extensions:     cfg.Ingestion.Extensions,
		ExcludedPaths:  cfg.Ingestion.ExcludedPaths,
		FetchGroupSize: cfg.Ingestion.FetchGroupSize,
	})

	processor := ingestion.NewBatchProcessor(indexClient, ingestion.BatchProcessorConfig{
		StoreID:          cfg.OpenAI.VectorStoreID,
		TempDir:          cfg.Batch.TempDir,
		RemoveGroupSize:  cfg.Batch.RemoveGroupSize,
		RemoveGroupPause: cfg.Batch.RemoveGroupPause,
		UploadGroupSize:  cfg.Batch.UploadGroupSize,
		UploadGroupPause: cfg.Batch.UploadGroupPause,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// キューはオブザーバー付きで構築するため、統計参照は遅延クロージャで渡す
	var jobQueue *queue.Queue
	stats := statsFunc(func() queue.Stats { return jobQueue.Stats() })

	wsManager := httpapi.NewWSManager(stats.Stats)
	recorder := metrics.NewRecorder(m, stats)

	jobQueue = queue.New(processor, queue.Config{
		MaxSize:       cfg.Queue.MaxSize,
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		TickInterval:  cfg.Queue.TickInterval,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		EvictAfter:    cfg.Queue.EvictAfter,
		BackoffBase:   time.Second,
	}, queue.WithNotifier(wsManager), queue.WithNotifier(recorder))

	orchestrator := webhook.New(webhook.Config{
		Secret: cfg.Webhook.Secret,
		Branch: cfg.Webhook.Branch,
	}, extractor, jobQueue)

	toolSvc := tools.New(indexClient, tools.Config{
		StoreID:       cfg.OpenAI.VectorStoreID,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	})

	srv := httpapi.New(orchestrator, jobQueue, toolSvc, wsManager, m, registry, httpapi.Config{
		RateLimitCount:   cfg.Queue.RateLimitCount,
		RateLimitWindow:  cfg.Queue.RateLimitWindow,
		UploadGroupSize:  cfg.Batch.UploadGroupSize,
		UploadGroupPause: cfg.Batch.UploadGroupPause,
	})

	if err := jobQueue.Start(ctx); err != nil {
		return err
	}
	defer jobQueue.Stop()

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	slog.Info("docsync server started",
		"addr", cfg.Server.Addr, "branch", cfg.Webhook.Branch,
		"maxConcurrent", cfg.Queue.MaxConcurrent, "maxQueueSize", cfg.Queue.MaxSize)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
