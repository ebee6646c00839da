package store

import (
	"context"

	"github.com/ekskog/avif-converter/internal/domain"
)

type JobStore interface {
	Create(ctx context.Context, job domain.ConversionJob) error
	Get(ctx context.Context, id string) (domain.ConversionJob, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.ConversionJob, error)
	SetOutput(ctx context.Context, id, outputKey string) error
	SetError(ctx context.Context, id, message string) error
}

type StatsStore interface {
	CreateConversionStat(ctx context.Context, stat domain.ConversionStat) error
}
