package domain

import (
	"fmt"
	"strings"
	"time"
)

// Format identifies a supported source image format. The set is closed:
// anything outside it is rejected before any pipeline stage runs.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatHEIC Format = "heic"
)

const MIMEAVIF = "image/avif"

// ParseFormat maps a declared format tag to a Format. The tag may be a bare
// tag ("jpeg") or a MIME type ("image/jpeg").
func ParseFormat(tag string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "jpeg", "jpg", "image/jpeg":
		return FormatJPEG, nil
	case "heic", "image/heic", "image/heif":
		return FormatHEIC, nil
	default:
		return "", fmt.Errorf("unsupported image format: %q", tag)
	}
}

func (f Format) MIME() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatHEIC:
		return "image/heic"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the artifact file extension for the format.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatHEIC:
		return "heic"
	default:
		return "bin"
	}
}

// StageResult captures the observable outcome of one pipeline stage. It is
// summarized into the conversion result once the next stage starts; nothing
// else holds a reference to it.
type StageResult struct {
	Stage    string        `json:"stage"`
	Tool     string        `json:"tool"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
	PeakRSS  uint64        `json:"peak_rss_bytes"`
}

// SanitizeFilename strips path separators and control characters from a
// display filename. Display filenames are used for logging and job records
// only, never for path construction.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "upload"
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r < 0x20:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
