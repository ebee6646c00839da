package queue

import (
	"testing"
	"time"
)

func TestConvertImageTaskRoundTrip(t *testing.T) {
	payload := ConvertImagePayload{
		JobID:        "job-123",
		SourceType:   "object",
		SourceFormat: "heic",
		ObjectKey:    "uploads/job-123/source",
		Filename:     "IMG_0001.heic",
		RequestedAt:  time.Now().UTC(),
	}

	task, err := NewConvertImageTask(payload)
	if err != nil {
		t.Fatalf("NewConvertImageTask returned error: %v", err)
	}

	parsed, err := ParseConvertImagePayload(task)
	if err != nil {
		t.Fatalf("ParseConvertImagePayload returned error: %v", err)
	}

	if parsed.JobID != payload.JobID {
		t.Fatalf("expected job_id %q, got %q", payload.JobID, parsed.JobID)
	}
	if parsed.SourceFormat != "heic" {
		t.Fatalf("expected source_format heic, got %q", parsed.SourceFormat)
	}
}
