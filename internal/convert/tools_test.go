package convert

import (
	"context"
	"testing"
)

func TestToolAvailable(t *testing.T) {
	toolDir := t.TempDir()
	writeStubTool(t, toolDir, "avifenc", "exit 0\n")
	writeStubTool(t, toolDir, "heif-convert", "exit 1\n")
	stubPATH(t, toolDir)

	ctx := context.Background()
	if !ToolAvailable(ctx, "avifenc") {
		t.Fatal("expected avifenc to be reported available")
	}
	if ToolAvailable(ctx, "heif-convert") {
		t.Fatal("expected a tool failing its version probe to be unavailable")
	}
	if ToolAvailable(ctx, "not-installed-anywhere") {
		t.Fatal("expected a missing tool to be unavailable")
	}
}

func TestRequiredTools(t *testing.T) {
	c := New(Config{})
	tools := c.RequiredTools("jpeg")
	if len(tools) != 1 || tools[0] != ToolAvifenc {
		t.Fatalf("unexpected jpeg tools: %v", tools)
	}
	tools = c.RequiredTools("heic")
	if len(tools) != 2 || tools[0] != ToolHeifConvert || tools[1] != ToolAvifenc {
		t.Fatalf("unexpected heic tools: %v", tools)
	}
}
