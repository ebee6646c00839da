package convert

import (
	"errors"
	"testing"

	"github.com/ekskog/avif-converter/internal/domain"
)

func TestPlanForJPEGHasSingleEncodeStage(t *testing.T) {
	plan, err := PlanFor(domain.FormatJPEG, DecodeHeifConvert)
	if err != nil {
		t.Fatalf("plan jpeg: %v", err)
	}

	if len(plan.Stages) != 1 {
		t.Fatalf("expected 1 stage for jpeg, got %d", len(plan.Stages))
	}
	stage := plan.Stages[0]
	if stage.Name != StageEncodeAVIF {
		t.Fatalf("expected encode stage, got %s", stage.Name)
	}
	if stage.Tool != ToolAvifenc {
		t.Fatalf("expected avifenc, got %s", stage.Tool)
	}
	if stage.Input != plan.InputFile || stage.Output != plan.OutputFile {
		t.Fatalf("encode stage artifacts do not match plan: %+v", stage)
	}
}

func TestPlanForHEICBridgesDecodeIntoEncode(t *testing.T) {
	for _, strategy := range []DecodeStrategy{DecodeHeifConvert, DecodeImageMagick, DecodeLibvips} {
		plan, err := PlanFor(domain.FormatHEIC, strategy)
		if err != nil {
			t.Fatalf("plan heic strategy=%s: %v", strategy, err)
		}

		if len(plan.Stages) < 2 {
			t.Fatalf("strategy %s: expected at least 2 stages, got %d", strategy, len(plan.Stages))
		}
		decode := plan.Stages[0]
		encode := plan.Stages[len(plan.Stages)-1]
		if decode.Name != StageDecodeHEIC {
			t.Fatalf("strategy %s: expected decode stage first, got %s", strategy, decode.Name)
		}
		if decode.Output != encode.Input {
			t.Fatalf("strategy %s: decode output %q is not the encode input %q", strategy, decode.Output, encode.Input)
		}
		if encode.Tool != ToolAvifenc || encode.Output != plan.OutputFile {
			t.Fatalf("strategy %s: encode stage differs across strategies: %+v", strategy, encode)
		}
	}
}

func TestPlanForUnknownFormat(t *testing.T) {
	_, err := PlanFor(domain.Format("png"), DecodeHeifConvert)
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != KindInput {
		t.Fatalf("expected input error, got %v", err)
	}
}

func TestPlanForUnknownDecodeStrategy(t *testing.T) {
	_, err := PlanFor(domain.FormatHEIC, DecodeStrategy("pillow"))
	if err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	if KindOf(err) != KindEnvironment {
		t.Fatalf("expected environment error, got %v", err)
	}
}

func TestPlanToolsSkipsLibraryStages(t *testing.T) {
	plan, err := PlanFor(domain.FormatHEIC, DecodeLibvips)
	if err != nil {
		t.Fatalf("plan heic: %v", err)
	}
	tools := plan.Tools()
	if len(tools) != 1 || tools[0] != ToolAvifenc {
		t.Fatalf("expected only avifenc, got %v", tools)
	}
}
