package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ekskog/avif-converter/internal/api"
	"github.com/ekskog/avif-converter/internal/config"
	"github.com/ekskog/avif-converter/internal/convert"
	"github.com/ekskog/avif-converter/internal/queue"
	"github.com/ekskog/avif-converter/internal/ratelimit"
	"github.com/ekskog/avif-converter/internal/storage"
	"github.com/ekskog/avif-converter/internal/store"
	"github.com/ekskog/avif-converter/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "avif-converter-api",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	if err := convert.Startup(); err != nil {
		logger.Fatalf("decoder startup failed: %v", err)
	}
	defer convert.Shutdown()

	converter := convert.New(convert.Config{
		ScratchDir:     cfg.Convert.ScratchDir,
		DecodeStrategy: convert.DecodeStrategy(cfg.Convert.DecodeStrategy),
		SampleInterval: cfg.Convert.SampleInterval,
	})

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	jobStore, closeJobStore := buildJobStore(ctx, cfg, logger)
	defer closeJobStore()

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

	var limiter api.RateLimiter
	if cfg.API.RateLimitPerMin > 0 {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		limiter, err = ratelimit.NewRedisTokenBucket(redisClient, cfg.API.RateLimitPerMin, time.Minute, "avifconv:ratelimit")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
	}

	app := api.NewServer(logger, converter, queueClient, jobStore, storageClient, api.Options{
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		RateLimiter:    limiter,
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("trace exporter shutdown failed: %v", err)
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
