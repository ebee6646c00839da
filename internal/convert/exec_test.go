package convert

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeStubTool(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write stub tool %s: %v", name, err)
	}
	return path
}

// stubPATH points PATH at a private tool directory while keeping the system
// directories the stub scripts themselves depend on.
func stubPATH(t *testing.T, toolDir string) {
	t.Helper()
	t.Setenv("PATH", toolDir+":/usr/bin:/bin")
}

func TestExecutorCapturesExitCodeAndOutput(t *testing.T) {
	toolDir := t.TempDir()
	writeStubTool(t, toolDir, "failing-tool", `echo "stdout line"
echo "stderr line" >&2
exit 3
`)
	stubPATH(t, toolDir)

	res, err := executor{}.run(context.Background(), t.TempDir(), StageSpec{
		Name: "test-stage",
		Tool: "failing-tool",
	})
	if err != nil {
		t.Fatalf("expected non-zero exit to be reported in the result, got error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Output, "stdout line") || !strings.Contains(res.Output, "stderr line") {
		t.Fatalf("expected combined stdout/stderr, got %q", res.Output)
	}
	if res.Duration <= 0 {
		t.Fatal("expected a positive duration")
	}
}

func TestExecutorMissingToolIsDistinguishedFromFailure(t *testing.T) {
	stubPATH(t, t.TempDir())

	_, err := executor{}.run(context.Background(), t.TempDir(), StageSpec{
		Name: "test-stage",
		Tool: "definitely-not-installed",
	})
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("expected exec.ErrNotFound, got %v", err)
	}
}

func TestExecutorMonitoredSamplesChildMemory(t *testing.T) {
	toolDir := t.TempDir()
	writeStubTool(t, toolDir, "slow-tool", "sleep 0.5\n")
	stubPATH(t, toolDir)

	res, err := executor{sampleInterval: 50 * time.Millisecond}.runMonitored(
		context.Background(), t.TempDir(), StageSpec{Name: "test-stage", Tool: "slow-tool"})
	if err != nil {
		t.Fatalf("run monitored: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected clean exit, got %d", res.ExitCode)
	}
	if res.PeakRSS == 0 {
		t.Fatal("expected a non-zero peak RSS sample for a live child")
	}
	if res.Duration < 400*time.Millisecond {
		t.Fatalf("expected duration to cover the child lifetime, got %v", res.Duration)
	}
}

func TestExecutorContextCancellationKillsChild(t *testing.T) {
	toolDir := t.TempDir()
	writeStubTool(t, toolDir, "hanging-tool", "sleep 30\n")
	stubPATH(t, toolDir)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := executor{}.runMonitored(ctx, t.TempDir(), StageSpec{Name: "test-stage", Tool: "hanging-tool"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("child was not terminated promptly, waited %v", elapsed)
	}
}

func TestExecutorRunsInWorkdir(t *testing.T) {
	toolDir := t.TempDir()
	writeStubTool(t, toolDir, "touch-tool", "echo data > artifact.txt\n")
	stubPATH(t, toolDir)

	workdir := t.TempDir()
	res, err := executor{}.run(context.Background(), workdir, StageSpec{Name: "test-stage", Tool: "touch-tool"})
	if err != nil || res.ExitCode != 0 {
		t.Fatalf("run: err=%v exit=%d", err, res.ExitCode)
	}
	if _, err := os.Stat(filepath.Join(workdir, "artifact.txt")); err != nil {
		t.Fatalf("expected artifact in workdir: %v", err)
	}
}
