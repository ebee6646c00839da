package convert

import (
	"context"
	"io"
	"os/exec"
	"time"
)

const toolProbeTimeout = 5 * time.Second

var toolVersionArgs = map[string][]string{
	ToolAvifenc:     {"--version"},
	ToolHeifConvert: {"--version"},
	ToolImageMagick: {"-version"},
}

// ToolAvailable probes an external tool with its version argument. Launch
// failure, timeout or non-zero exit all report the tool as unavailable. The
// probe never runs a conversion.
func ToolAvailable(ctx context.Context, tool string) bool {
	if _, err := exec.LookPath(tool); err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, toolProbeTimeout)
	defer cancel()

	args, ok := toolVersionArgs[tool]
	if !ok {
		args = []string{"--version"}
	}
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run() == nil
}
