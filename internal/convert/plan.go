package convert

import (
	"github.com/ekskog/avif-converter/internal/domain"
)

const (
	StageDecodeHEIC = "decode-heic"
	StageEncodeAVIF = "encode-avif"

	ToolAvifenc     = "avifenc"
	ToolHeifConvert = "heif-convert"
	ToolImageMagick = "magick"
	toolLibvips     = "libvips"

	artifactBridge = "bridge.jpg"
	artifactOutput = "output.avif"
)

// DecodeStrategy selects how the HEIC decode stage produces the JPEG bridge
// artifact. All strategies share the same contract (HEIC bytes in, JPEG
// bridge bytes out) so the encode stage is identical across them.
type DecodeStrategy string

const (
	DecodeHeifConvert DecodeStrategy = "heif-convert"
	DecodeImageMagick DecodeStrategy = "magick"
	DecodeLibvips     DecodeStrategy = "libvips"
)

// StageSpec describes one pipeline stage. Argument templates are fixed per
// stage and reference artifact names relative to the scratch directory.
type StageSpec struct {
	Name    string
	Tool    string
	Args    []string
	Input   string
	Output  string
	Library bool
}

// Plan is the ordered stage sequence for one conversion. Built once per
// request from the format tag, immutable thereafter.
type Plan struct {
	Format     domain.Format
	InputFile  string
	OutputFile string
	Stages     []StageSpec
}

var decodeStageSpecs = map[DecodeStrategy]func(input string) StageSpec{
	DecodeHeifConvert: func(input string) StageSpec {
		return StageSpec{
			Name:   StageDecodeHEIC,
			Tool:   ToolHeifConvert,
			Args:   []string{input, artifactBridge},
			Input:  input,
			Output: artifactBridge,
		}
	},
	DecodeImageMagick: func(input string) StageSpec {
		return StageSpec{
			Name:   StageDecodeHEIC,
			Tool:   ToolImageMagick,
			Args:   []string{input, artifactBridge},
			Input:  input,
			Output: artifactBridge,
		}
	},
	DecodeLibvips: func(input string) StageSpec {
		return StageSpec{
			Name:    StageDecodeHEIC,
			Tool:    toolLibvips,
			Input:   input,
			Output:  artifactBridge,
			Library: true,
		}
	},
}

func encodeStage(input string) StageSpec {
	return StageSpec{
		Name:   StageEncodeAVIF,
		Tool:   ToolAvifenc,
		Args:   []string{input, artifactOutput},
		Input:  input,
		Output: artifactOutput,
	}
}

// PlanFor builds the stage topology for a source format. Unknown formats
// yield an input error before any filesystem side effect.
func PlanFor(format domain.Format, strategy DecodeStrategy) (Plan, error) {
	if strategy == "" {
		strategy = DecodeHeifConvert
	}

	switch format {
	case domain.FormatJPEG:
		input := "input." + format.Extension()
		return Plan{
			Format:     format,
			InputFile:  input,
			OutputFile: artifactOutput,
			Stages:     []StageSpec{encodeStage(input)},
		}, nil
	case domain.FormatHEIC:
		buildDecode, ok := decodeStageSpecs[strategy]
		if !ok {
			return Plan{}, environmentError(nil, "unknown HEIC decode strategy %q", strategy)
		}
		input := "input." + format.Extension()
		decode := buildDecode(input)
		return Plan{
			Format:     format,
			InputFile:  input,
			OutputFile: artifactOutput,
			Stages:     []StageSpec{decode, encodeStage(decode.Output)},
		}, nil
	default:
		return Plan{}, inputError("unsupported image format: %q", string(format))
	}
}

// Tools returns the external commands the plan will invoke, in stage order.
// Library-backed stages contribute nothing.
func (p Plan) Tools() []string {
	tools := make([]string, 0, len(p.Stages))
	for _, stage := range p.Stages {
		if !stage.Library {
			tools = append(tools, stage.Tool)
		}
	}
	return tools
}
