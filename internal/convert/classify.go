package convert

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/ekskog/avif-converter/internal/domain"
)

const stderrExcerptLimit = 2048

// classifyStageError maps raw stage-failure material into a classified
// error. Uncertainty defaults to a stage failure with best-effort diagnostic
// text attached; nothing is silently swallowed.
func classifyStageError(spec StageSpec, res domain.StageResult, runErr error) *Error {
	excerpt := stderrExcerpt(res.Output)

	switch {
	case runErr != nil && errors.Is(runErr, exec.ErrNotFound):
		return &Error{
			Kind:    KindEnvironment,
			Stage:   spec.Name,
			Message: "required tool " + spec.Tool + " is not installed",
			Err:     runErr,
		}
	case runErr != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)):
		return &Error{
			Kind:    KindStage,
			Stage:   spec.Name,
			Stderr:  excerpt,
			Message: "stage aborted",
			Err:     runErr,
		}
	case runErr != nil:
		return &Error{
			Kind:    KindStage,
			Stage:   spec.Name,
			Stderr:  excerpt,
			Message: spec.Tool + " did not run to completion",
			Err:     runErr,
		}
	default:
		return &Error{
			Kind:     KindStage,
			Stage:    spec.Name,
			ExitCode: res.ExitCode,
			Stderr:   excerpt,
			Message:  spec.Tool + " exited with an error",
		}
	}
}

// stderrExcerpt keeps the tail of the combined output, which is where codec
// tools report the actual failure.
func stderrExcerpt(output string) string {
	output = strings.TrimSpace(output)
	if len(output) <= stderrExcerptLimit {
		return output
	}
	return output[len(output)-stderrExcerptLimit:]
}
