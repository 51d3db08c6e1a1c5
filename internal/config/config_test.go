package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"imgbatch/internal/format"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Transform.MaxWidth != 1200 || cfg.Transform.MaxHeight != 0 || cfg.Transform.Quality != 85 || !cfg.Transform.Convert {
		t.Fatalf("unexpected transform defaults %+v", cfg.Transform)
	}
	if cfg.TargetFormat() != format.WEBP {
		t.Fatalf("default target = %s", cfg.TargetFormat())
	}
	if cfg.Debounce() != 500*time.Millisecond {
		t.Fatalf("default debounce = %s", cfg.Debounce())
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
input_directory: ./in
transform:
  max_width: 800
  target_format: JPEG
traversal:
  flatten: true
logging:
  level: DEBUG
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.InputDirectory != "./in" {
		t.Errorf("input_directory = %q", cfg.InputDirectory)
	}
	if cfg.Transform.MaxWidth != 800 || cfg.Transform.Quality != 85 {
		t.Errorf("transform = %+v", cfg.Transform)
	}
	if cfg.Transform.TargetFormat != "jpeg" || cfg.TargetFormat() != format.JPEG {
		t.Errorf("target format = %q", cfg.Transform.TargetFormat)
	}
	if !cfg.Traversal.Flatten || !cfg.Traversal.Recursive {
		t.Errorf("traversal = %+v", cfg.Traversal)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, "transform:\n  quality: 70\n")
	t.Setenv("IMGBATCH_TRANSFORM_QUALITY", "40")
	t.Setenv("IMGBATCH_PERFORMANCE_WORKER_THREADS", "3")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Transform.Quality != 40 {
		t.Errorf("quality = %d, want env override 40", cfg.Transform.Quality)
	}
	if cfg.Performance.WorkerThreads != 3 {
		t.Errorf("worker_threads = %d", cfg.Performance.WorkerThreads)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"quality too low":   func(c *Config) { c.Transform.Quality = 0 },
		"quality too high":  func(c *Config) { c.Transform.Quality = 101 },
		"negative width":    func(c *Config) { c.Transform.MaxWidth = -1 },
		"passthrough":       func(c *Config) { c.Transform.TargetFormat = "svg" },
		"unknown target":    func(c *Config) { c.Transform.TargetFormat = "heic" },
		"bad log level":     func(c *Config) { c.Logging.Level = "chatty" },
		"port out of range": func(c *Config) { c.Server.Port = 70000 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Performance.WorkerThreads = 0
	cfg.Watch.DebounceMS = -5
	cfg.Transform.TargetFormat = ".JPG"
	t.Setenv("IMGBATCH_TEST_ROOT", "/data")
	cfg.InputDirectory = "$IMGBATCH_TEST_ROOT/photos"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Performance.WorkerThreads != 1 || cfg.Watch.DebounceMS != 0 {
		t.Fatalf("not normalized: %+v %+v", cfg.Performance, cfg.Watch)
	}
	if cfg.Transform.TargetFormat != "jpeg" {
		t.Fatalf("target = %q", cfg.Transform.TargetFormat)
	}
	if !strings.HasPrefix(cfg.InputDirectory, "/data") {
		t.Fatalf("input directory not expanded: %q", cfg.InputDirectory)
	}
}
