// Package memstat provides point-in-time memory observations for the
// conversion pipeline. All functions are read-only: snapshots feed metrics
// and low-memory warnings, never admission control.
package memstat

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// LowMemoryThreshold is the available-system-memory bound below which a
// conversion outcome is annotated with a low-memory warning.
const LowMemoryThreshold = 100 << 20

// Snapshot is an immutable memory observation taken on demand.
type Snapshot struct {
	ProcessRSS        uint64    `json:"process_rss_bytes"`
	ProcessVMS        uint64    `json:"process_vms_bytes"`
	SystemTotal       uint64    `json:"system_total_bytes"`
	SystemAvailable   uint64    `json:"system_available_bytes"`
	SystemUsedPercent float64   `json:"system_used_percent"`
	LimitSoft         uint64    `json:"limit_soft_bytes,omitempty"`
	LimitHard         uint64    `json:"limit_hard_bytes,omitempty"`
	TakenAt           time.Time `json:"taken_at"`
}

// Capture samples current-process and system-wide memory. Sampling is
// best-effort: fields that cannot be read are left zero.
func Capture() Snapshot {
	snap := Snapshot{TakenAt: time.Now().UTC()}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			snap.ProcessRSS = info.RSS
			snap.ProcessVMS = info.VMS
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		snap.SystemTotal = vm.Total
		snap.SystemAvailable = vm.Available
		snap.SystemUsedPercent = vm.UsedPercent
	}

	snap.LimitSoft, snap.LimitHard = addressSpaceLimit()
	return snap
}

// ProcessRSS reads the resident set size of an arbitrary process. Used to
// sample a running pipeline stage from the monitoring loop.
func ProcessRSS(pid int) (uint64, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, fmt.Errorf("open process %d: %w", pid, err)
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("read memory info for pid %d: %w", pid, err)
	}
	if info == nil {
		return 0, fmt.Errorf("no memory info for pid %d", pid)
	}
	return info.RSS, nil
}

// LowMemory reports whether available system memory was below
// LowMemoryThreshold when the snapshot was taken.
func (s Snapshot) LowMemory() bool {
	return s.SystemTotal > 0 && s.SystemAvailable < LowMemoryThreshold
}

// MB converts a byte count to megabytes for display.
func MB(bytes uint64) float64 {
	return float64(bytes) / (1 << 20)
}
