package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ekskog/avif-converter/internal/config"
	"github.com/ekskog/avif-converter/internal/convert"
	"github.com/ekskog/avif-converter/internal/domain"
	"github.com/ekskog/avif-converter/internal/queue"
	"github.com/ekskog/avif-converter/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const outputPrefix = "outputs"

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	converter     imageConverter
	storage       objectStore
	outputDir     string
	webhookClient webhookSender
	jobStore      store.JobStore
	statsStore    store.StatsStore
	metrics       *metrics
	tracer        trace.Tracer
}

type imageConverter interface {
	Convert(ctx context.Context, data []byte, formatTag, filename string) (*convert.Result, error)
}

type objectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	converter imageConverter,
	storageClient objectStore,
	webhookClient webhookSender,
	jobStore store.JobStore,
	statsStore store.StatsStore,
) (*Server, error) {
	if converter == nil {
		return nil, fmt.Errorf("converter is required")
	}

	if err := os.MkdirAll(workerCfg.LocalOutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create local output dir: %w", err)
	}

	if statsStore == nil {
		if jobAndStatsStore, ok := jobStore.(store.StatsStore); ok {
			statsStore = jobAndStatsStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		converter:     converter,
		storage:       storageClient,
		outputDir:     workerCfg.LocalOutputDir,
		webhookClient: webhookClient,
		jobStore:      jobStore,
		statsStore:    statsStore,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("avifconv/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeConvertImage, s.handleConvertImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleConvertImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseConvertImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.convert_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.source_format", payload.SourceFormat),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceFormat, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceFormat, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Converting... job_id=%s source_type=%s format=%s object_key=%s",
		payload.JobID,
		payload.SourceType,
		payload.SourceFormat,
		payload.ObjectKey,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	input, err := s.fetchSource(ctx, payload)
	if err != nil {
		return s.failJob(ctx, span, payload, fmt.Errorf("fetch source: %w", err))
	}

	result, err := s.converter.Convert(ctx, input, payload.SourceFormat, payload.Filename)
	if err != nil {
		failErr := s.failJob(ctx, span, payload, err)
		if convert.KindOf(err) == convert.KindInput {
			// Bad input stays bad; retrying burns codec time for nothing.
			return fmt.Errorf("%v: %w", failErr, asynq.SkipRetry)
		}
		return failErr
	}

	outputKey, err := s.emitOutput(ctx, payload, result)
	if err != nil {
		return s.failJob(ctx, span, payload, fmt.Errorf("emit output: %w", err))
	}

	if err := s.jobStore.SetOutput(ctx, payload.JobID, outputKey); err != nil {
		s.logger.Printf("output record failed job_id=%s err=%v", payload.JobID, err)
	}
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)

	s.logger.Printf(
		"Converted job_id=%s output_key=%s input_bytes=%d output_bytes=%d ratio=%.3f",
		payload.JobID, outputKey, result.InputSize, result.OutputSize, result.CompressionRatio,
	)
	s.recordStats(ctx, payload.JobID, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, "conversion.completed", map[string]any{
		"job_id":            payload.JobID,
		"status":            domain.JobStatusSucceeded,
		"source_type":       payload.SourceType,
		"source_format":     payload.SourceFormat,
		"object_key":        payload.ObjectKey,
		"output_key":        outputKey,
		"output_bytes":      result.OutputSize,
		"compression_ratio": result.CompressionRatio,
		"requested_at":      payload.RequestedAt,
		"completed_at":      time.Now().UTC(),
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "converted")
	return nil
}

func (s *Server) fetchSource(ctx context.Context, payload queue.ConvertImagePayload) ([]byte, error) {
	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		data, err := os.ReadFile(payload.ObjectKey)
		if err != nil {
			return nil, fmt.Errorf("read local source %s: %w", payload.ObjectKey, err)
		}
		return data, nil
	default:
		if s.storage == nil {
			return nil, fmt.Errorf("object storage is unavailable")
		}
		return s.storage.ReadObject(ctx, payload.ObjectKey)
	}
}

func (s *Server) emitOutput(ctx context.Context, payload queue.ConvertImagePayload, result *convert.Result) (string, error) {
	name := domain.SanitizeFilename(payload.Filename)
	if ext := filepath.Ext(name); ext != "" {
		name = name[:len(name)-len(ext)]
	}
	name += ".avif"

	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		path := filepath.Join(s.outputDir, payload.JobID+"-"+name)
		if err := os.WriteFile(path, result.Output, 0o644); err != nil {
			return "", fmt.Errorf("write local output %s: %w", path, err)
		}
		return path, nil
	default:
		if s.storage == nil {
			return "", fmt.Errorf("object storage is unavailable")
		}
		key := fmt.Sprintf("%s/%s/%s", outputPrefix, payload.JobID, name)
		if err := s.storage.WriteObject(ctx, key, result.Output, domain.MIMEAVIF); err != nil {
			return "", err
		}
		return key, nil
	}
}

func (s *Server) failJob(ctx context.Context, span trace.Span, payload queue.ConvertImagePayload, err error) error {
	if s.jobStore != nil {
		if storeErr := s.jobStore.SetError(ctx, payload.JobID, err.Error()); storeErr != nil {
			s.logger.Printf("error record failed job_id=%s err=%v", payload.JobID, storeErr)
		}
	}
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, "conversion failed")

	kind := convert.KindOf(err)
	if kind != 0 {
		s.metrics.conversionErrorsTotal.WithLabelValues(kind.String()).Inc()
	}

	s.dispatchWebhook(ctx, payload, "conversion.failed", map[string]any{
		"job_id":        payload.JobID,
		"status":        domain.JobStatusFailed,
		"source_type":   payload.SourceType,
		"source_format": payload.SourceFormat,
		"object_key":    payload.ObjectKey,
		"requested_at":  payload.RequestedAt,
		"failed_at":     time.Now().UTC(),
		"error":         err.Error(),
	})
	return fmt.Errorf("convert job %s: %w", payload.JobID, err)
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ConvertImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordStats(ctx context.Context, jobID string, result *convert.Result, computeDuration time.Duration) {
	var peakRSS uint64
	for _, stage := range result.Stages {
		if stage.PeakRSS > peakRSS {
			peakRSS = stage.PeakRSS
		}
	}

	bytesSaved := int64(result.InputSize) - int64(result.OutputSize)
	if bytesSaved < 0 {
		bytesSaved = 0
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	s.metrics.outputBytesTotal.Add(float64(result.OutputSize))
	s.metrics.bytesSavedTotal.Add(float64(bytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
	if peakRSS > 0 {
		s.metrics.peakRSSBytes.Observe(float64(peakRSS))
	}

	if s.statsStore == nil {
		return
	}
	stat := domain.ConversionStat{
		JobID:         jobID,
		InputBytes:    int64(result.InputSize),
		OutputBytes:   int64(result.OutputSize),
		BytesSaved:    bytesSaved,
		PeakRSSBytes:  int64(peakRSS),
		ComputeTimeMS: computeTimeMS,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.statsStore.CreateConversionStat(ctx, stat); err != nil {
		s.logger.Printf("conversion stat write failed job_id=%s err=%v", jobID, err)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
