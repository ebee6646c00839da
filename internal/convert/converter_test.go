package convert

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// installFakeCodecs provides avifenc and heif-convert stand-ins. The fake
// avifenc writes a fixed-size output so compression ratios are deterministic;
// both fail on empty input the way the real tools do.
func installFakeCodecs(t *testing.T) {
	t.Helper()
	toolDir := t.TempDir()
	writeStubTool(t, toolDir, "avifenc", `[ -s "$1" ] || { echo "no pixels to encode" >&2; exit 1; }
printf 'fake-avif-payload' > "$2"
`)
	writeStubTool(t, toolDir, "heif-convert", `[ -s "$1" ] || { echo "invalid HEIF data" >&2; exit 1; }
cat "$1" > "$2"
`)
	stubPATH(t, toolDir)
}

func scratchEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("read scratch base: %v", err)
	}
	return len(entries)
}

func TestConvertJPEGSucceeds(t *testing.T) {
	installFakeCodecs(t)
	scratchBase := filepath.Join(t.TempDir(), "scratch")
	c := New(Config{ScratchDir: scratchBase, SampleInterval: 20 * time.Millisecond})

	input := bytes.Repeat([]byte{0xAB}, 2<<20)
	res, err := c.Convert(context.Background(), input, "jpeg", "holiday photo.jpg")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	if res.OutputSize == 0 || !bytes.Equal(res.Output, []byte("fake-avif-payload")) {
		t.Fatalf("unexpected output: %d bytes", res.OutputSize)
	}
	if res.CompressionRatio <= 0 {
		t.Fatalf("expected positive compression ratio, got %f", res.CompressionRatio)
	}
	if len(res.Stages) != 1 || res.Stages[0].Stage != StageEncodeAVIF {
		t.Fatalf("unexpected stage results: %+v", res.Stages)
	}
	if res.Stages[0].Duration <= 0 {
		t.Fatal("expected stage duration to be recorded")
	}
	if res.MemoryStart.TakenAt.IsZero() || res.MemoryEnd.TakenAt.IsZero() {
		t.Fatal("expected memory snapshots at start and end")
	}
	if got := scratchEntries(t, scratchBase); got != 0 {
		t.Fatalf("expected scratch area to be released, found %d entries", got)
	}
}

func TestConvertHEICRunsDecodeThenEncode(t *testing.T) {
	installFakeCodecs(t)
	c := New(Config{ScratchDir: t.TempDir()})

	res, err := c.Convert(context.Background(), []byte("heic-bytes"), "heic", "img.heic")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(res.Stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(res.Stages))
	}
	if res.Stages[0].Stage != StageDecodeHEIC || res.Stages[1].Stage != StageEncodeAVIF {
		t.Fatalf("unexpected stage order: %+v", res.Stages)
	}
}

func TestConvertIsDeterministicAtFixedSettings(t *testing.T) {
	installFakeCodecs(t)
	c := New(Config{ScratchDir: t.TempDir()})

	input := bytes.Repeat([]byte{0x42}, 4096)
	first, err := c.Convert(context.Background(), input, "jpeg", "a.jpg")
	if err != nil {
		t.Fatalf("first convert: %v", err)
	}
	second, err := c.Convert(context.Background(), input, "jpeg", "a.jpg")
	if err != nil {
		t.Fatalf("second convert: %v", err)
	}
	if first.OutputSize != second.OutputSize {
		t.Fatalf("expected identical output sizes, got %d and %d", first.OutputSize, second.OutputSize)
	}
}

func TestConvertUnsupportedFormatHasNoSideEffects(t *testing.T) {
	installFakeCodecs(t)
	scratchBase := filepath.Join(t.TempDir(), "scratch")
	c := New(Config{ScratchDir: scratchBase})

	_, err := c.Convert(context.Background(), []byte("png-bytes"), "png", "img.png")
	if KindOf(err) != KindInput {
		t.Fatalf("expected input error, got %v", err)
	}
	if _, statErr := os.Stat(scratchBase); !os.IsNotExist(statErr) {
		t.Fatal("expected no scratch area for a rejected format")
	}
}

func TestConvertCorruptHEICFailsAtDecodeStage(t *testing.T) {
	installFakeCodecs(t)
	scratchBase := filepath.Join(t.TempDir(), "scratch")
	c := New(Config{ScratchDir: scratchBase})

	_, err := c.Convert(context.Background(), nil, "heic", "broken.heic")
	if KindOf(err) != KindStage {
		t.Fatalf("expected stage failure, got %v", err)
	}
	cerr := err.(*Error)
	if cerr.Stage != StageDecodeHEIC {
		t.Fatalf("expected failure at decode stage, got %s", cerr.Stage)
	}
	if cerr.ExitCode == 0 {
		t.Fatal("expected a non-zero exit code")
	}
	if cerr.Stderr == "" {
		t.Fatal("expected a stderr excerpt on the classified error")
	}
	if got := scratchEntries(t, scratchBase); got != 0 {
		t.Fatalf("expected scratch area to be released on failure, found %d entries", got)
	}
}

func TestConvertMissingEncoderIsEnvironmentError(t *testing.T) {
	stubPATH(t, t.TempDir())
	scratchBase := filepath.Join(t.TempDir(), "scratch")
	c := New(Config{ScratchDir: scratchBase})

	_, err := c.Convert(context.Background(), []byte("jpeg-bytes"), "jpeg", "img.jpg")
	if KindOf(err) != KindEnvironment {
		t.Fatalf("expected environment error, got %v", err)
	}
	if got := scratchEntries(t, scratchBase); got != 0 {
		t.Fatalf("expected scratch area to be released, found %d entries", got)
	}
}

func TestConvertCancelledCallerCleansUp(t *testing.T) {
	toolDir := t.TempDir()
	writeStubTool(t, toolDir, "avifenc", "sleep 30\n")
	stubPATH(t, toolDir)

	scratchBase := filepath.Join(t.TempDir(), "scratch")
	c := New(Config{ScratchDir: scratchBase})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.Convert(ctx, []byte("jpeg-bytes"), "jpeg", "img.jpg")
	if KindOf(err) != KindStage {
		t.Fatalf("expected a classified stage failure on cancellation, got %v", err)
	}
	if got := scratchEntries(t, scratchBase); got != 0 {
		t.Fatalf("expected scratch area to be released after cancellation, found %d entries", got)
	}
}

func TestConvertAcceptsMIMETags(t *testing.T) {
	installFakeCodecs(t)
	c := New(Config{ScratchDir: t.TempDir()})

	if _, err := c.Convert(context.Background(), []byte("jpeg-bytes"), "image/jpeg", "img.jpg"); err != nil {
		t.Fatalf("convert with mime tag: %v", err)
	}
}
