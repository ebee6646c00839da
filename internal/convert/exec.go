package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/ekskog/avif-converter/internal/domain"
	"github.com/ekskog/avif-converter/internal/memstat"
)

// DefaultSampleInterval bounds how stale the reported peak memory of a
// monitored stage can be.
const DefaultSampleInterval = 100 * time.Millisecond

// executor runs external pipeline stages. It returns a failed StageResult
// for non-zero exits; only launch and wait infrastructure problems surface
// as errors, so the classifier can tell a broken host from a broken stage.
type executor struct {
	sampleInterval time.Duration
}

func (e executor) interval() time.Duration {
	if e.sampleInterval > 0 {
		return e.sampleInterval
	}
	return DefaultSampleInterval
}

// run executes a stage command with the scratch directory as its working
// directory and captures combined stdout/stderr.
func (e executor) run(ctx context.Context, workdir string, spec StageSpec) (domain.StageResult, error) {
	return e.execute(ctx, workdir, spec, false)
}

// runMonitored behaves like run but additionally samples the child's
// resident set size on a fixed interval while waiting for it to exit. The
// sampling loop and the wait proceed concurrently; neither blocks the other.
func (e executor) runMonitored(ctx context.Context, workdir string, spec StageSpec) (domain.StageResult, error) {
	return e.execute(ctx, workdir, spec, true)
}

func (e executor) execute(ctx context.Context, workdir string, spec StageSpec, monitored bool) (domain.StageResult, error) {
	res := domain.StageResult{Stage: spec.Name, Tool: spec.Tool}

	path, err := exec.LookPath(spec.Tool)
	if err != nil {
		return res, fmt.Errorf("locate %s: %w", spec.Tool, err)
	}

	cmd := exec.CommandContext(ctx, path, spec.Args...)
	cmd.Dir = workdir
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return res, fmt.Errorf("start %s: %w", spec.Tool, err)
	}

	var (
		stop chan struct{}
		peak chan uint64
	)
	if monitored {
		stop = make(chan struct{})
		peak = make(chan uint64, 1)
		go samplePeakRSS(cmd.Process.Pid, e.interval(), stop, peak)
	}

	waitErr := cmd.Wait()
	if monitored {
		close(stop)
		res.PeakRSS = <-peak
	}
	res.Duration = time.Since(start)
	res.Output = combined.String()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, fmt.Errorf("wait for %s: %w", spec.Tool, waitErr)
	}
	return res, nil
}

// samplePeakRSS polls the child's resident size until stop closes, then
// delivers the maximum observed value. Sampling errors are ignored: the
// child may exit between the wait returning and the final tick.
func samplePeakRSS(pid int, interval time.Duration, stop <-chan struct{}, out chan<- uint64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var peak uint64
	sample := func() {
		if rss, err := memstat.ProcessRSS(pid); err == nil && rss > peak {
			peak = rss
		}
	}

	sample()
	for {
		select {
		case <-stop:
			out <- peak
			return
		case <-ticker.C:
			sample()
		}
	}
}
