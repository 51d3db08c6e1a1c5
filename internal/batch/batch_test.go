package batch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"imgbatch/internal/format"
	"imgbatch/internal/logger"
	"imgbatch/internal/manifest"
	"imgbatch/internal/statistics"
	"imgbatch/internal/transformer"
)

func writeImage(t *testing.T, path string, w, h int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func newOrchestrator(t *testing.T, workers int) (*Orchestrator, *statistics.Statistics) {
	t.Helper()
	log := logger.Discard()
	tr, err := transformer.NewDefaultTransformer(format.WEBP, log)
	if err != nil {
		t.Fatal(err)
	}
	stats := statistics.NewStatistics()
	return NewOrchestrator(tr, log, stats, workers), stats
}

func baseOptions(in, out string) Options {
	return Options{
		InputDir:  in,
		OutputDir: out,
		MaxWidth:  1200,
		Convert:   true,
		Quality:   85,
		Recursive: true,
	}
}

func inputs(outcomes []transformer.Outcome) []string {
	names := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		names = append(names, filepath.ToSlash(o.InputPath))
	}
	return names
}

func TestDiscover(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "b.png"), "x")
	writeFile(t, filepath.Join(in, "a.JPG"), "x")
	writeFile(t, filepath.Join(in, "notes.txt"), "x")
	writeFile(t, filepath.Join(in, "icons", "logo.svg"), "x")
	writeFile(t, filepath.Join(in, "icons", "deep", "c.webp"), "x")
	writeFile(t, filepath.Join(in, "out", "old.webp"), "x")
	writeFile(t, filepath.Join(in, ".a.webp.0f8f.tmp"), "x")

	opts := baseOptions(in, filepath.Join(in, "out"))

	files, err := Discover(opts, logger.Discard())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want := []string{
		filepath.Join(in, "a.JPG"),
		filepath.Join(in, "b.png"),
		filepath.Join(in, "icons", "deep", "c.webp"),
		filepath.Join(in, "icons", "logo.svg"),
	}
	if strings.Join(files, "|") != strings.Join(want, "|") {
		t.Fatalf("recursive discovery = %v, want %v", files, want)
	}

	opts.Recursive = false
	files, err = Discover(opts, logger.Discard())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want = []string{filepath.Join(in, "a.JPG"), filepath.Join(in, "b.png")}
	if strings.Join(files, "|") != strings.Join(want, "|") {
		t.Fatalf("top-level discovery = %v, want %v", files, want)
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	opts := baseOptions(filepath.Join(t.TempDir(), "nope"), t.TempDir())
	if _, err := Discover(opts, nil); err == nil {
		t.Fatal("expected error for missing input directory")
	}
}

func TestOutputPath(t *testing.T) {
	opts := baseOptions(filepath.FromSlash("/in"), filepath.FromSlash("/out"))

	got, err := OutputPath(opts, filepath.FromSlash("/in/sub/a.jpg"))
	if err != nil || got != filepath.FromSlash("/out/sub/a.jpg") {
		t.Fatalf("mirrored = %q, %v", got, err)
	}

	opts.Flatten = true
	got, err = OutputPath(opts, filepath.FromSlash("/in/sub/a.jpg"))
	if err != nil || got != filepath.FromSlash("/out/a.jpg") {
		t.Fatalf("flattened = %q, %v", got, err)
	}

	opts.Flatten = false
	if _, err := OutputPath(opts, filepath.FromSlash("/elsewhere/a.jpg")); err == nil {
		t.Fatal("expected error for path outside input directory")
	}
}

func TestProcessDirectoryMirrored(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeImage(t, filepath.Join(in, "big.png"), 2400, 1200)
	writeImage(t, filepath.Join(in, "sub", "small.png"), 100, 50)
	writeFile(t, filepath.Join(in, "sub", "icon.svg"), "<svg/>")

	orch, stats := newOrchestrator(t, 1)
	outcomes, err := orch.ProcessDirectory(context.Background(), baseOptions(in, out))
	if err != nil {
		t.Fatalf("ProcessDirectory: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes", len(outcomes))
	}

	for _, o := range outcomes {
		if !o.Succeeded() {
			t.Fatalf("%s failed: %v", o.InputPath, o.Err)
		}
	}
	if outcomes[0].Actions[0] != "resize: 2400x1200 -> 1200x600" {
		t.Fatalf("big.png actions = %q", outcomes[0].Actions)
	}
	for _, p := range []string{"big.webp", "sub/small.webp", "sub/icon.svg"} {
		if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(p))); err != nil {
			t.Errorf("missing output %s: %v", p, err)
		}
	}
	if got := stats.GetSummary(); got != "3 succeeded, 0 skipped, 0 failed" {
		t.Fatalf("summary = %q", got)
	}
}

func TestProcessDirectoryFlattenCollision(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeImage(t, filepath.Join(in, "a", "photo.png"), 10, 10)
	writeImage(t, filepath.Join(in, "b", "photo.png"), 20, 20)
	writeImage(t, filepath.Join(in, "c", "photo.jpg.png"), 5, 5)

	opts := baseOptions(in, out)
	opts.Flatten = true

	orch, stats := newOrchestrator(t, 1)
	outcomes, err := orch.ProcessDirectory(context.Background(), opts)
	if err != nil {
		t.Fatalf("ProcessDirectory: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes", len(outcomes))
	}
	if !outcomes[0].Succeeded() {
		t.Fatalf("first claimant must win: %v", outcomes[0].Err)
	}
	second := outcomes[1]
	if second.Status != transformer.StatusFailed || !strings.Contains(second.Actions[0], "output collision with") {
		t.Fatalf("second outcome = %v %q", second.Status, second.Actions)
	}
	if !outcomes[2].Succeeded() {
		t.Fatalf("distinct name must succeed: %v", outcomes[2].Err)
	}
	if !stats.HasFailures() {
		t.Fatal("collision must count as a failure")
	}

	// The winner's pixels are kept.
	f, err := os.Open(filepath.Join(out, "photo.webp"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 10 {
		t.Fatalf("collision overwrote first output, width %d", cfg.Width)
	}
}

func TestProcessDirectoryParallelKeepsOrder(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	names := []string{"e.png", "a.png", "d.png", "c.png", "b.png", "f.svg"}
	for _, n := range names {
		if strings.HasSuffix(n, ".svg") {
			writeFile(t, filepath.Join(in, n), "<svg/>")
			continue
		}
		writeImage(t, filepath.Join(in, n), 64, 64)
	}

	var mu sync.Mutex
	seen := map[int]bool{}
	log := logger.Discard()
	tr, _ := transformer.NewDefaultTransformer(format.WEBP, log)
	orch := NewOrchestratorWithHooks(tr, log, statistics.NewStatistics(), 4, nil, func(i int, _ transformer.Outcome) {
		mu.Lock()
		seen[i] = true
		mu.Unlock()
	})

	outcomes, err := orch.ProcessDirectory(context.Background(), baseOptions(in, out))
	if err != nil {
		t.Fatalf("ProcessDirectory: %v", err)
	}

	want := make([]string, 0, len(names))
	for _, n := range []string{"a.png", "b.png", "c.png", "d.png", "e.png", "f.svg"} {
		want = append(want, filepath.ToSlash(filepath.Join(in, n)))
	}
	if strings.Join(inputs(outcomes), "|") != strings.Join(want, "|") {
		t.Fatalf("order = %v, want %v", inputs(outcomes), want)
	}
	if len(seen) != len(names) {
		t.Fatalf("hook saw %d items", len(seen))
	}
}

func TestProcessDirectoryCancelled(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeImage(t, filepath.Join(in, "a.png"), 8, 8)
	writeImage(t, filepath.Join(in, "b.png"), 8, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch, _ := newOrchestrator(t, 1)
	outcomes, err := orch.ProcessDirectory(ctx, baseOptions(in, out))
	if err == nil {
		t.Fatal("expected context error")
	}
	if len(outcomes) != 0 {
		t.Fatalf("no item should run after cancellation, got %d", len(outcomes))
	}
}

func TestProcessDirectoryRejectsBadOptions(t *testing.T) {
	orch, _ := newOrchestrator(t, 1)
	opts := baseOptions(t.TempDir(), t.TempDir())
	opts.Quality = 0
	if _, err := orch.ProcessDirectory(context.Background(), opts); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestProcessManifest(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeImage(t, filepath.Join(in, "photo001.png"), 1600, 800)
	writeImage(t, filepath.Join(in, "photo002.png"), 300, 300)

	m, err := manifest.Parse([]byte(`{
	  "images": [
	    {"input": "photo001.png", "output": "hero.png", "max_width": 400},
	    {"input": "photo002.png"},
	    {"input": "gone.jpg", "output": "x.webp"},
	    {"output": "orphan.webp"}
	  ],
	  "default": {"quality": 80}
	}`), ".json")
	if err != nil {
		t.Fatal(err)
	}

	orch, stats := newOrchestrator(t, 1)
	outcomes, err := orch.ProcessManifest(context.Background(), m, in, out)
	if err != nil {
		t.Fatalf("ProcessManifest: %v", err)
	}
	if len(outcomes) != 4 {
		t.Fatalf("got %d outcomes", len(outcomes))
	}

	hero := outcomes[0]
	wantHero := []string{"rename: photo001.png -> hero.png", "resize: 1600x800 -> 400x200", "format conversion: webp"}
	if strings.Join(hero.Actions, "|") != strings.Join(wantHero, "|") {
		t.Fatalf("hero actions = %q", hero.Actions)
	}
	if hero.OutputPath != filepath.Join(out, "hero.webp") {
		t.Fatalf("hero output = %q", hero.OutputPath)
	}

	for _, a := range outcomes[1].Actions {
		if strings.HasPrefix(a, "rename:") {
			t.Fatalf("omitted output must not rename: %q", outcomes[1].Actions)
		}
	}

	missing := outcomes[2]
	if missing.Status != transformer.StatusFailed || missing.Actions[0] != transformer.ActionNotFound {
		t.Fatalf("missing outcome = %v %q", missing.Status, missing.Actions)
	}
	if outcomes[3].Status != transformer.StatusFailed || !strings.HasPrefix(outcomes[3].Actions[0], "error: input") {
		t.Fatalf("orphan outcome = %v %q", outcomes[3].Status, outcomes[3].Actions)
	}

	if got := stats.GetSummary(); got != "2 succeeded, 0 skipped, 2 failed" {
		t.Fatalf("summary = %q", got)
	}
}

func TestProcessManifestMissingInputOnly(t *testing.T) {
	m, err := manifest.Parse([]byte(`{"images":[{"input":"a.jpg","output":"hero.webp","max_width":1200}], "default":{"quality":85}}`), ".json")
	if err != nil {
		t.Fatal(err)
	}

	orch, _ := newOrchestrator(t, 1)
	outcomes, err := orch.ProcessManifest(context.Background(), m, t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("ProcessManifest: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Succeeded() || outcomes[0].Actions[0] != "input file not found" {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}
	if got := statistics.Tally(statistics.Count(outcomes)); got != "0 succeeded, 0 skipped, 1 failed" {
		t.Fatalf("tally = %q", got)
	}
}

func TestProcessFile(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	src := filepath.Join(in, "nested", "a.png")
	writeImage(t, src, 20, 10)

	orch, _ := newOrchestrator(t, 1)
	o := orch.ProcessFile(baseOptions(in, out), src)
	if !o.Succeeded() {
		t.Fatalf("ProcessFile failed: %v", o.Err)
	}
	if o.OutputPath != filepath.Join(out, "nested", "a.webp") {
		t.Fatalf("output = %q", o.OutputPath)
	}
}
