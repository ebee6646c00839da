package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ekskog/avif-converter/internal/config"
	"github.com/ekskog/avif-converter/internal/convert"
	"github.com/ekskog/avif-converter/internal/storage"
	"github.com/ekskog/avif-converter/internal/store"
	"github.com/ekskog/avif-converter/internal/telemetry"
	"github.com/ekskog/avif-converter/internal/webhook"
	"github.com/ekskog/avif-converter/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "avif-converter-worker",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("trace exporter shutdown failed: %v", err)
		}
	}()

	if err := convert.Startup(); err != nil {
		logger.Fatalf("decoder startup failed: %v", err)
	}
	defer convert.Shutdown()

	converter := convert.New(convert.Config{
		ScratchDir:     cfg.Convert.ScratchDir,
		DecodeStrategy: convert.DecodeStrategy(cfg.Convert.DecodeStrategy),
		SampleInterval: cfg.Convert.SampleInterval,
	})

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage client setup failed: %v", err)
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Printf("bucket check failed, object sources may be unavailable: %v", err)
	}

	jobStore, closeJobStore := buildJobStore(ctx, cfg, logger)
	defer closeJobStore()

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		converter,
		storageClient,
		webhookClient,
		jobStore,
		nil,
	)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", srv.MetricsHandler())
		if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

func buildJobStore(ctx context.Context, cfg config.Config, logger *log.Logger) (store.JobStore, func()) {
	if strings.EqualFold(cfg.Database.Backend, "postgres") {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres job store setup failed: %v", err)
		}
		return pg, func() {
			if err := pg.Close(); err != nil {
				logger.Printf("job store close error: %v", err)
			}
		}
	}
	return store.NewMemoryJobStore(), func() {}
}
