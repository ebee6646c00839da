package store

import (
	"context"
	"testing"
	"time"

	"github.com/ekskog/avif-converter/internal/domain"
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	job := domain.ConversionJob{
		ID:           "job-1",
		Status:       domain.JobStatusCreated,
		SourceType:   domain.SourceTypeObject,
		SourceFormat: domain.FormatHEIC,
		ObjectKey:    "uploads/job-1/source",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, ok, err := s.Get(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.SourceFormat != domain.FormatHEIC {
		t.Fatalf("expected heic source format, got %s", got.SourceFormat)
	}

	updated, err := s.UpdateStatus(ctx, "job-1", domain.JobStatusSucceeded)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", updated.Status)
	}

	if err := s.SetOutput(ctx, "job-1", "outputs/job-1/output.avif"); err != nil {
		t.Fatalf("set output: %v", err)
	}
	if err := s.SetError(ctx, "job-1", "late failure"); err != nil {
		t.Fatalf("set error: %v", err)
	}

	got, _, _ = s.Get(ctx, "job-1")
	if got.OutputKey == "" || got.Error == "" {
		t.Fatalf("expected output key and error recorded, got %+v", got)
	}

	if _, err := s.UpdateStatus(ctx, "missing", domain.JobStatusFailed); err != ErrJobNotFound {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
