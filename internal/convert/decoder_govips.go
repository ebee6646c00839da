//go:build govips && cgo

package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/ekskog/avif-converter/internal/domain"
	"github.com/ekskog/avif-converter/internal/memstat"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func newBridgeDecoder() bridgeDecoder {
	return vipsDecoder{}
}

type vipsDecoder struct{}

func (vipsDecoder) decode(ctx context.Context, workdir, input, bridge string) (domain.StageResult, error) {
	res := domain.StageResult{Stage: StageDecodeHEIC, Tool: toolLibvips}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	start := time.Now()
	before := memstat.Capture()

	img, err := vips.NewImageFromFile(filepath.Join(workdir, input))
	if err != nil {
		res.Duration = time.Since(start)
		res.ExitCode = 1
		return res, fmt.Errorf("decode HEIC: %w", err)
	}
	defer img.Close()

	params := vips.NewJpegExportParams()
	params.Quality = 92
	data, _, err := img.ExportJpeg(params)
	if err != nil {
		res.Duration = time.Since(start)
		res.ExitCode = 1
		return res, fmt.Errorf("export JPEG bridge: %w", err)
	}

	if err := os.WriteFile(filepath.Join(workdir, bridge), data, 0o600); err != nil {
		res.Duration = time.Since(start)
		res.ExitCode = 1
		return res, fmt.Errorf("write JPEG bridge: %w", err)
	}

	after := memstat.Capture()
	res.Duration = time.Since(start)
	res.PeakRSS = before.ProcessRSS
	if after.ProcessRSS > res.PeakRSS {
		res.PeakRSS = after.ProcessRSS
	}
	return res, nil
}
