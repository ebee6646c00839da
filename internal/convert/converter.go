// Package convert implements the AVIF conversion pipeline orchestrator. The
// actual pixel transformation is always delegated to external codec
// processes; this package selects the stage topology per input format, runs
// each stage in an isolated scratch directory while sampling its memory, and
// turns heterogeneous subprocess failures into classified errors.
package convert

import (
	"context"
	"os"
	"time"

	"github.com/ekskog/avif-converter/internal/domain"
	"github.com/ekskog/avif-converter/internal/memstat"
)

type Config struct {
	// ScratchDir is the parent for per-request scratch directories. Empty
	// means the system temp directory.
	ScratchDir string
	// DecodeStrategy selects the HEIC decode stage implementation.
	DecodeStrategy DecodeStrategy
	// SampleInterval overrides the monitored-execution sampling interval.
	SampleInterval time.Duration
}

// Converter orchestrates conversions. It holds no cross-request mutable
// state; concurrent Convert calls are isolated by their scratch directories
// and process trees.
type Converter struct {
	scratchDir string
	strategy   DecodeStrategy
	exec       executor
	decoder    bridgeDecoder
}

func New(cfg Config) *Converter {
	strategy := cfg.DecodeStrategy
	if strategy == "" {
		strategy = DecodeHeifConvert
	}
	return &Converter{
		scratchDir: cfg.ScratchDir,
		strategy:   strategy,
		exec:       executor{sampleInterval: cfg.SampleInterval},
		decoder:    newBridgeDecoder(),
	}
}

// Result is the success outcome of one conversion.
type Result struct {
	Output           []byte
	OutputSize       int
	InputSize        int
	CompressionRatio float64
	Filename         string
	Stages           []domain.StageResult
	MemoryStart      memstat.Snapshot
	MemoryEnd        memstat.Snapshot
	LowMemory        bool
	Duration         time.Duration
}

// RequiredTools lists the external commands a conversion of the given format
// would invoke. Used by health probes.
func (c *Converter) RequiredTools(format domain.Format) []string {
	plan, err := PlanFor(format, c.strategy)
	if err != nil {
		return nil
	}
	return plan.Tools()
}

// Convert runs the full pipeline for one input. The returned error, if any,
// is always a classified *Error. The scratch area is released exactly once
// on every path, including caller cancellation: the context kills the
// current stage's process and cleanup proceeds as for a failed stage.
func (c *Converter) Convert(ctx context.Context, data []byte, formatTag, filename string) (*Result, error) {
	format, err := domain.ParseFormat(formatTag)
	if err != nil {
		return nil, inputError("%v", err)
	}

	plan, err := PlanFor(format, c.strategy)
	if err != nil {
		return nil, err
	}
	if planNeedsLibraryDecoder(plan) && c.decoder == nil {
		return nil, environmentError(nil, "libvips decode strategy requires a govips-enabled build")
	}

	started := time.Now()
	memStart := memstat.Capture()
	inputSize := len(data)

	area, err := acquireScratch(c.scratchDir)
	if err != nil {
		return nil, environmentError(err, "scratch area unavailable")
	}
	defer area.release()

	if err := os.WriteFile(area.path(plan.InputFile), data, 0o600); err != nil {
		return nil, ioError(err, "write input artifact")
	}
	// The input now lives on disk; drop the in-memory reference so peak
	// resident memory does not double-count it.
	data = nil

	stages := make([]domain.StageResult, 0, len(plan.Stages))
	for _, stage := range plan.Stages {
		var (
			res    domain.StageResult
			runErr error
		)
		if stage.Library {
			res, runErr = c.decoder.decode(ctx, area.dir, stage.Input, stage.Output)
		} else {
			res, runErr = c.exec.runMonitored(ctx, area.dir, stage)
		}
		stages = append(stages, res)
		if runErr != nil || res.ExitCode != 0 {
			return nil, classifyStageError(stage, res, runErr)
		}
	}

	output, err := os.ReadFile(area.path(plan.OutputFile))
	if err != nil {
		return nil, ioError(err, "read converted artifact")
	}

	memEnd := memstat.Capture()
	ratio := 0.0
	if inputSize > 0 {
		ratio = 1 - float64(len(output))/float64(inputSize)
	}

	return &Result{
		Output:           output,
		OutputSize:       len(output),
		InputSize:        inputSize,
		CompressionRatio: ratio,
		Filename:         domain.SanitizeFilename(filename),
		Stages:           stages,
		MemoryStart:      memStart,
		MemoryEnd:        memEnd,
		LowMemory:        memStart.LowMemory() || memEnd.LowMemory(),
		Duration:         time.Since(started),
	}, nil
}

func planNeedsLibraryDecoder(plan Plan) bool {
	for _, stage := range plan.Stages {
		if stage.Library {
			return true
		}
	}
	return false
}
