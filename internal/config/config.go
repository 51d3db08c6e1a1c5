package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imgbatch/internal/format"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	InputDirectory  string            `mapstructure:"input_directory"`
	OutputDirectory string            `mapstructure:"output_directory"`
	Manifest        string            `mapstructure:"manifest"`
	Transform       TransformConfig   `mapstructure:"transform"`
	Traversal       TraversalConfig   `mapstructure:"traversal"`
	Performance     PerformanceConfig `mapstructure:"performance"`
	Watch           WatchConfig       `mapstructure:"watch"`
	Server          ServerConfig      `mapstructure:"server"`
	Logging         LoggingConfig     `mapstructure:"logging"`
}

// TransformConfig contains the per-file transform defaults
type TransformConfig struct {
	MaxWidth     int    `mapstructure:"max_width"`  // 0 means unbounded
	MaxHeight    int    `mapstructure:"max_height"` // 0 means unbounded
	Quality      int    `mapstructure:"quality"`
	Convert      bool   `mapstructure:"convert"`
	TargetFormat string `mapstructure:"target_format"`
}

// TraversalConfig controls directory discovery
type TraversalConfig struct {
	Recursive bool `mapstructure:"recursive"`
	Flatten   bool `mapstructure:"flatten"`
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	WorkerThreads int `mapstructure:"worker_threads"`
}

// WatchConfig contains watch mode settings
type WatchConfig struct {
	DebounceMS int `mapstructure:"debounce_ms"`
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Transform: TransformConfig{
			MaxWidth:     1200,
			MaxHeight:    0,
			Quality:      85,
			Convert:      true,
			TargetFormat: "webp",
		},
		Traversal: TraversalConfig{
			Recursive: true,
			Flatten:   false,
		},
		Performance: PerformanceConfig{
			WorkerThreads: 1,
		},
		Watch: WatchConfig{
			DebounceMS: 500,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
// An empty configPath searches the usual locations; a missing file is fine.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.imgbatch")
		v.AddConfigPath("/etc/imgbatch")
	}

	// IMGBATCH_TRANSFORM_QUALITY overrides transform.quality and so on.
	v.SetEnvPrefix("IMGBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// setDefaults registers every key so environment overrides apply even when
// the config file does not mention them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("input_directory", d.InputDirectory)
	v.SetDefault("output_directory", d.OutputDirectory)
	v.SetDefault("manifest", d.Manifest)

	v.SetDefault("transform.max_width", d.Transform.MaxWidth)
	v.SetDefault("transform.max_height", d.Transform.MaxHeight)
	v.SetDefault("transform.quality", d.Transform.Quality)
	v.SetDefault("transform.convert", d.Transform.Convert)
	v.SetDefault("transform.target_format", d.Transform.TargetFormat)

	v.SetDefault("traversal.recursive", d.Traversal.Recursive)
	v.SetDefault("traversal.flatten", d.Traversal.Flatten)

	v.SetDefault("performance.worker_threads", d.Performance.WorkerThreads)
	v.SetDefault("watch.debounce_ms", d.Watch.DebounceMS)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file_path", d.Logging.FilePath)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
}

// Validate validates and normalizes the configuration
func (c *Config) Validate() error {
	c.InputDirectory = expandPath(c.InputDirectory)
	c.OutputDirectory = expandPath(c.OutputDirectory)
	c.Manifest = expandPath(c.Manifest)

	if c.Transform.MaxWidth < 0 || c.Transform.MaxHeight < 0 {
		return fmt.Errorf("max_width and max_height must not be negative (0 means unbounded)")
	}
	if c.Transform.Quality < 1 || c.Transform.Quality > 100 {
		return fmt.Errorf("quality must be within 1-100, got %d", c.Transform.Quality)
	}

	target, err := format.Parse(c.Transform.TargetFormat)
	if err != nil {
		return err
	}
	if !target.IsRaster() {
		return fmt.Errorf("target_format must be a raster format, got %s", c.Transform.TargetFormat)
	}
	c.Transform.TargetFormat = target.String()

	if c.Performance.WorkerThreads <= 0 {
		c.Performance.WorkerThreads = 1
	}
	if c.Watch.DebounceMS < 0 {
		c.Watch.DebounceMS = 0
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// TargetFormat returns the parsed conversion target.
func (c *Config) TargetFormat() format.Format {
	f, err := format.Parse(c.Transform.TargetFormat)
	if err != nil {
		return format.WEBP
	}
	return f
}

// Debounce returns the watch debounce interval.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// Helper functions

func expandPath(path string) string {
	if path == "" {
		return ""
	}

	expanded := os.ExpandEnv(path)
	if strings.HasPrefix(expanded, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return expanded
		}
		expanded = filepath.Join(home, expanded[1:])
	}
	return expanded
}
