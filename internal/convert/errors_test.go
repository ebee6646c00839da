package convert

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ekskog/avif-converter/internal/domain"
)

func TestErrorFormatting(t *testing.T) {
	err := &Error{
		Kind:     KindStage,
		Stage:    StageEncodeAVIF,
		ExitCode: 2,
		Message:  "avifenc exited with an error",
	}
	msg := err.Error()
	for _, want := range []string{"stage_failure", "stage=encode-avif", "exit=2"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestKindOfUnwrapsChains(t *testing.T) {
	wrapped := fmt.Errorf("handling request: %w", inputError("bad format"))
	if KindOf(wrapped) != KindInput {
		t.Fatalf("expected input kind through wrapping, got %v", KindOf(wrapped))
	}
	if KindOf(fmt.Errorf("plain")) != 0 {
		t.Fatal("expected zero kind for unclassified errors")
	}
}

func TestStderrExcerptKeepsTail(t *testing.T) {
	long := strings.Repeat("x", stderrExcerptLimit) + "tail-marker"
	excerpt := stderrExcerpt(long)
	if len(excerpt) != stderrExcerptLimit {
		t.Fatalf("expected excerpt of %d bytes, got %d", stderrExcerptLimit, len(excerpt))
	}
	if !strings.HasSuffix(excerpt, "tail-marker") {
		t.Fatal("expected the tail of the output to be kept")
	}
}

func TestClassifyNonZeroExitDefaultsToStageFailure(t *testing.T) {
	spec := StageSpec{Name: StageEncodeAVIF, Tool: ToolAvifenc}
	res := domain.StageResult{Stage: spec.Name, ExitCode: 1, Output: "boom"}
	cerr := classifyStageError(spec, res, nil)
	if cerr.Kind != KindStage || cerr.ExitCode != 1 || cerr.Stderr != "boom" {
		t.Fatalf("unexpected classification: %+v", cerr)
	}
}
