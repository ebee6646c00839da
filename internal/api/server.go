package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ekskog/avif-converter/internal/convert"
	"github.com/ekskog/avif-converter/internal/domain"
	"github.com/ekskog/avif-converter/internal/id"
	"github.com/ekskog/avif-converter/internal/memstat"
	"github.com/ekskog/avif-converter/internal/queue"
	"github.com/ekskog/avif-converter/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const uploadFieldName = "image"

type Server struct {
	logger                *log.Logger
	converter             Converter
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	storage               objectStorage
	presignTTL            time.Duration
	maxUploadBytes        int64
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

// Converter is the conversion orchestrator contract the API depends on.
type Converter interface {
	Convert(ctx context.Context, data []byte, formatTag, filename string) (*convert.Result, error)
	RequiredTools(format domain.Format) []string
}

type queueEnqueuer interface {
	EnqueueConvertImage(ctx context.Context, payload queue.ConvertImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type Options struct {
	PresignTTL     time.Duration
	MaxUploadBytes int64
	RateLimiter    RateLimiter
	UserIDHeader   string
}

func NewServer(
	logger *log.Logger,
	converter Converter,
	queueClient queueEnqueuer,
	jobStore store.JobStore,
	storage objectStorage,
	opts Options,
) *Server {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	if opts.UserIDHeader == "" {
		opts.UserIDHeader = "X-User-ID"
	}
	if storage == nil {
		storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:                logger,
		converter:             converter,
		queueClient:           queueClient,
		jobStore:              jobStore,
		storage:               storage,
		presignTTL:            opts.PresignTTL,
		maxUploadBytes:        opts.MaxUploadBytes,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.UserIDHeader,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("avifconv/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /convert", s.handleConvert)
	s.mux.HandleFunc("POST /v1/conversions", s.handleCreateConversion)
	s.mux.HandleFunc("POST /v1/conversions/", s.handleStartConversion)
	s.mux.HandleFunc("GET /v1/conversions/", s.handleGetConversion)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	capabilities := make(map[string]bool)
	healthy := true
	for _, tool := range s.requiredTools() {
		available := convert.ToolAvailable(r.Context(), tool)
		capabilities[tool] = available
		healthy = healthy && available
	}

	snap := memstat.Capture()
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"service": "avif-converter",
		"memory": map[string]any{
			"rss_mb":     memstat.MB(snap.ProcessRSS),
			"vms_mb":     memstat.MB(snap.ProcessVMS),
			"percent":    snap.SystemUsedPercent,
			"low_memory": snap.LowMemory(),
		},
		"capabilities": capabilities,
	})
}

func (s *Server) requiredTools() []string {
	seen := make(map[string]struct{})
	var tools []string
	for _, format := range []domain.Format{domain.FormatJPEG, domain.FormatHEIC} {
		for _, tool := range s.converter.RequiredTools(format) {
			if _, ok := seen[tool]; ok {
				continue
			}
			seen[tool] = struct{}{}
			tools = append(tools, tool)
		}
	}
	return tools
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	file, header, err := r.FormFile(uploadFieldName)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'image' is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "uploaded image exceeds the size limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read uploaded image"})
		return
	}

	formatTag := header.Header.Get("Content-Type")
	if override := r.FormValue("format"); override != "" {
		formatTag = override
	}
	filename := domain.SanitizeFilename(header.Filename)

	started := time.Now()
	result, err := s.converter.Convert(r.Context(), data, formatTag, filename)
	if err != nil {
		s.logConversionFailure(filename, err)
		kind := convert.KindOf(err)
		s.metrics.conversionsTotal.WithLabelValues(formatLabel(formatTag), kind.String()).Inc()
		writeJSON(w, statusForKind(kind), map[string]string{
			"error": publicErrorMessage(kind),
			"kind":  kind.String(),
		})
		return
	}

	s.metrics.conversionsTotal.WithLabelValues(formatLabel(formatTag), "success").Inc()
	s.metrics.conversionDuration.WithLabelValues(formatLabel(formatTag)).Observe(time.Since(started).Seconds())
	s.metrics.outputBytesTotal.Add(float64(result.OutputSize))

	writeJSON(w, http.StatusOK, conversionResponse(filename, result))
}

func conversionResponse(filename string, result *convert.Result) map[string]any {
	stages := make([]map[string]any, 0, len(result.Stages))
	var peakRSS uint64
	for _, stage := range result.Stages {
		if stage.PeakRSS > peakRSS {
			peakRSS = stage.PeakRSS
		}
		stages = append(stages, map[string]any{
			"stage":        stage.Stage,
			"tool":         stage.Tool,
			"duration_sec": stage.Duration.Seconds(),
			"peak_rss_mb":  memstat.MB(stage.PeakRSS),
		})
	}

	return map[string]any{
		"success": true,
		"metrics": map[string]any{
			"memoryBeforeMB":    snapshotMB(result.MemoryStart),
			"memoryAfterMB":     snapshotMB(result.MemoryEnd),
			"peakMemoryMB":      memstat.MB(peakRSS),
			"conversionTimeSec": result.Duration.Seconds(),
			"compressionRatio":  result.CompressionRatio,
			"lowMemory":         result.LowMemory,
			"stages":            stages,
		},
		"data": map[string]any{
			"fullSize": map[string]any{
				"filename": filename,
				"content":  base64.StdEncoding.EncodeToString(result.Output),
				"size":     result.OutputSize,
				"mimetype": domain.MIMEAVIF,
				"variant":  "full",
			},
		},
	}
}

func snapshotMB(snap memstat.Snapshot) map[string]any {
	return map[string]any{
		"rss_mb":  memstat.MB(snap.ProcessRSS),
		"vms_mb":  memstat.MB(snap.ProcessVMS),
		"percent": snap.SystemUsedPercent,
	}
}

func (s *Server) logConversionFailure(filename string, err error) {
	var cerr *convert.Error
	if errors.As(err, &cerr) {
		s.logger.Printf(
			"conversion failed file=%q kind=%s stage=%s exit=%d stderr=%q",
			filename, cerr.Kind, cerr.Stage, cerr.ExitCode, cerr.Stderr,
		)
		return
	}
	s.logger.Printf("conversion failed file=%q err=%v", filename, err)
}

func statusForKind(kind convert.Kind) int {
	switch kind {
	case convert.KindInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func publicErrorMessage(kind convert.Kind) string {
	switch kind {
	case convert.KindInput:
		return "only JPEG and HEIC images are supported"
	case convert.KindEnvironment:
		return "conversion tooling is unavailable"
	default:
		return "conversion failed"
	}
}

func formatLabel(tag string) string {
	format, err := domain.ParseFormat(tag)
	if err != nil {
		return "unknown"
	}
	return string(format)
}

func (s *Server) handleCreateConversion(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateConversionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	sourceFormat, _ := domain.ParseFormat(req.SourceFormat)
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeObject {
		objectKey = fmt.Sprintf("uploads/%s/source", jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed for job %s: %v", jobID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.ConversionJob{
		ID:           jobID,
		Status:       domain.JobStatusCreated,
		SourceType:   sourceType,
		SourceFormat: sourceFormat,
		ObjectKey:    objectKey,
		Filename:     domain.SanitizeFilename(req.Filename),
		WebhookURL:   req.WebhookURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create conversion failed for job %s: %v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create conversion"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/conversions/%s/start", job.ID),
	})
}

func (s *Server) handleStartConversion(w http.ResponseWriter, r *http.Request) {
	jobID, err := extractJobIDFromStartPath(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch conversion failed for job %s: %v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load conversion"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversion not found"})
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	payload := queue.ConvertImagePayload{
		JobID:        job.ID,
		SourceType:   job.SourceType,
		SourceFormat: string(job.SourceFormat),
		ObjectKey:    job.ObjectKey,
		Filename:     job.Filename,
		WebhookURL:   job.WebhookURL,
		RequestedAt:  time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueConvertImage(r.Context(), payload)
	if err != nil {
		s.logger.Printf("enqueue failed for job %s: %v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue conversion"})
		return
	}

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed for job %s: %v", job.ID, err)
	}

	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetConversion(w http.ResponseWriter, r *http.Request) {
	jobID, err := extractJobIDFromGetPath(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch conversion failed for job %s: %v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load conversion"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversion not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":        job.ID,
		"status":        job.Status,
		"source_format": job.SourceFormat,
		"object_key":    job.ObjectKey,
		"output_key":    job.OutputKey,
		"filename":      job.Filename,
		"error":         job.Error,
		"created_at":    job.CreatedAt,
		"updated_at":    job.UpdatedAt,
	})
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.ConversionJob) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func extractJobIDFromStartPath(path string) (string, error) {
	trimmed := strings.TrimPrefix(path, "/v1/conversions/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "start" {
		return "", errors.New("expected path format /v1/conversions/{id}/start")
	}
	return parts[0], nil
}

func extractJobIDFromGetPath(path string) (string, error) {
	trimmed := strings.Trim(strings.TrimPrefix(path, "/v1/conversions/"), "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", errors.New("expected path format /v1/conversions/{id}")
	}
	return trimmed, nil
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
