package convert

import (
	"context"

	"github.com/ekskog/avif-converter/internal/domain"
)

// bridgeDecoder is the in-process HEIC decode strategy. It honours the same
// contract as the tool-backed decode stages: the HEIC input artifact in the
// scratch directory becomes a JPEG bridge artifact.
type bridgeDecoder interface {
	decode(ctx context.Context, workdir, input, bridge string) (domain.StageResult, error)
}
