package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ekskog/avif-converter/internal/domain"
	_ "github.com/lib/pq"
)

const conversionSchemaSQL = `
CREATE TABLE IF NOT EXISTS conversions (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	source_format TEXT NOT NULL,
	object_key TEXT NOT NULL,
	output_key TEXT NOT NULL DEFAULT '',
	filename TEXT NOT NULL DEFAULT '',
	webhook_url TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS conversion_stats (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	input_bytes BIGINT NOT NULL,
	output_bytes BIGINT NOT NULL,
	bytes_saved BIGINT NOT NULL,
	peak_rss_bytes BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, conversionSchemaSQL); err != nil {
		return fmt.Errorf("ensure conversions schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.ConversionJob) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO conversions (id, status, source_type, source_format, object_key, output_key, filename, webhook_url, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID,
		job.Status,
		job.SourceType,
		string(job.SourceFormat),
		job.ObjectKey,
		job.OutputKey,
		job.Filename,
		job.WebhookURL,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversion job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.ConversionJob, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, source_type, source_format, object_key, output_key, filename, webhook_url, error, created_at, updated_at
		 FROM conversions
		 WHERE id = $1`,
		id,
	)

	var (
		job    domain.ConversionJob
		format string
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.SourceType,
		&format,
		&job.ObjectKey,
		&job.OutputKey,
		&job.Filename,
		&job.WebhookURL,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.ConversionJob{}, false, nil
		}
		return domain.ConversionJob{}, false, fmt.Errorf("query conversion job: %w", err)
	}
	job.SourceFormat = domain.Format(format)

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.ConversionJob, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE conversions
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		now,
		id,
	)
	if err != nil {
		return domain.ConversionJob{}, fmt.Errorf("update conversion status: %w", err)
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.ConversionJob{}, err
	}
	if !ok {
		return domain.ConversionJob{}, ErrJobNotFound
	}

	return job, nil
}

func (s *PostgresJobStore) SetOutput(ctx context.Context, id, outputKey string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE conversions SET output_key = $1, updated_at = $2 WHERE id = $3`,
		outputKey,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update conversion output: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) SetError(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE conversions SET error = $1, updated_at = $2 WHERE id = $3`,
		message,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update conversion error: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) CreateConversionStat(ctx context.Context, stat domain.ConversionStat) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO conversion_stats (job_id, input_bytes, output_bytes, bytes_saved, peak_rss_bytes, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		stat.JobID,
		stat.InputBytes,
		stat.OutputBytes,
		stat.BytesSaved,
		stat.PeakRSSBytes,
		stat.ComputeTimeMS,
		stat.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversion stat: %w", err)
	}
	return nil
}
