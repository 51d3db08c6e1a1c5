package display

import (
	"bytes"
	"strings"
	"testing"

	"imgbatch/internal/inspector"
	"imgbatch/internal/transformer"
)

func TestReportPlainWriter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Report([]transformer.Outcome{
		{InputPath: "in/a.jpg", OutputPath: "out/a.webp", Status: transformer.StatusSucceeded, Actions: []string{"format conversion: webp"}},
		{InputPath: "in/x.txt", Status: transformer.StatusSkipped, Actions: []string{transformer.ActionSkip}},
		{InputPath: "in/b.jpg", Status: transformer.StatusFailed, Actions: []string{"error: decode: bad"}},
	})

	want := "✓ a.jpg -> a.webp (format conversion: webp)\n" +
		"- x.txt (skip, unsupported format)\n" +
		"✗ b.jpg (error: decode: bad)\n" +
		"\n1 succeeded, 1 skipped, 1 failed\n"
	if buf.String() != want {
		t.Fatalf("report =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestInfo(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Info(&inspector.Info{
		Path:   "photo.png",
		Format: "png",
		Width:  10,
		Height: 5,
		Mode:   "rgb",
		Size:   123,
	})

	out := buf.String()
	for _, want := range []string{"photo.png", "size: 10 x 5", "format: png", "mode: rgb", "bytes: 123"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in\n%s", want, out)
		}
	}
	if strings.Contains(out, "camera") {
		t.Error("empty camera must not be printed")
	}
}

func TestHeader(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Header([2]string{"input", "in"}, [2]string{"quality", "85"})

	want := "input: in\nquality: 85\n" + strings.Repeat("-", 40) + "\n"
	if buf.String() != want {
		t.Fatalf("header = %q", buf.String())
	}
}
