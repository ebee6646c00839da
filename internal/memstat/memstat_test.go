package memstat

import (
	"os"
	"testing"
)

func TestCaptureObservesCurrentProcess(t *testing.T) {
	snap := Capture()
	if snap.TakenAt.IsZero() {
		t.Fatal("expected snapshot timestamp")
	}
	if snap.ProcessRSS == 0 {
		t.Fatal("expected non-zero resident size for the test process")
	}
	if snap.SystemTotal == 0 {
		t.Fatal("expected non-zero system total memory")
	}
	if snap.SystemUsedPercent <= 0 || snap.SystemUsedPercent >= 100 {
		t.Fatalf("implausible system used percent: %f", snap.SystemUsedPercent)
	}
}

func TestProcessRSSForOwnPid(t *testing.T) {
	rss, err := ProcessRSS(os.Getpid())
	if err != nil {
		t.Fatalf("process rss: %v", err)
	}
	if rss == 0 {
		t.Fatal("expected non-zero RSS")
	}
}

func TestLowMemoryThreshold(t *testing.T) {
	low := Snapshot{SystemTotal: 8 << 30, SystemAvailable: 50 << 20}
	if !low.LowMemory() {
		t.Fatal("expected low-memory flag below the threshold")
	}
	healthy := Snapshot{SystemTotal: 8 << 30, SystemAvailable: 4 << 30}
	if healthy.LowMemory() {
		t.Fatal("did not expect low-memory flag with ample memory")
	}
	unknown := Snapshot{}
	if unknown.LowMemory() {
		t.Fatal("an empty snapshot must not report low memory")
	}
}

func TestMB(t *testing.T) {
	if got := MB(512 << 20); got != 512 {
		t.Fatalf("expected 512, got %f", got)
	}
}
