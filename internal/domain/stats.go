package domain

import "time"

// ConversionStat is the per-job accounting record written after a successful
// asynchronous conversion.
type ConversionStat struct {
	JobID         string
	InputBytes    int64
	OutputBytes   int64
	BytesSaved    int64
	PeakRSSBytes  int64
	ComputeTimeMS int64
	CreatedAt     time.Time
}
