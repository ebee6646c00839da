package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile = "local_file"
	SourceTypeObject    = "object"
)

// CreateConversionRequest is the API payload for an asynchronous conversion
// job. Synchronous uploads bypass the job machinery entirely.
type CreateConversionRequest struct {
	SourceType   string `json:"source_type"`
	SourceFormat string `json:"source_format"`
	ObjectKey    string `json:"object_key,omitempty"`
	Filename     string `json:"filename,omitempty"`
	WebhookURL   string `json:"webhook_url,omitempty"`
}

// ConversionJob tracks one asynchronous conversion through the queue.
type ConversionJob struct {
	ID           string
	Status       string
	SourceType   string
	SourceFormat Format
	ObjectKey    string
	OutputKey    string
	Filename     string
	WebhookURL   string
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r CreateConversionRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeObject {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	// Object sources get a generated key at creation time; local sources must
	// name the file to convert.
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for local_file sources")
	}
	if _, err := ParseFormat(r.SourceFormat); err != nil {
		return err
	}
	return nil
}
