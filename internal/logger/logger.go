package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation bounds the size and age of the log file.
type Rotation struct {
	MaxSize    int // megabytes before the file is rotated
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Config describes where log entries go and how chatty they are.
type Config struct {
	Level    string
	FilePath string // empty disables file logging
	Rotation Rotation
	// Verbose forces debug entries onto the console.
	Verbose bool
	// Quiet keeps only errors.
	Quiet bool
	// Output overrides the console writer; stderr when nil.
	Output io.Writer
}

// DefaultConfig returns an info-level config with a rotating file policy.
func DefaultConfig() Config {
	return Config{
		Level: "info",
		Rotation: Rotation{
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// EffectiveLevel resolves the level actually used. Without a log file the
// console carries the report, so only errors are logged unless Verbose.
func (c Config) EffectiveLevel() string {
	switch {
	case c.Verbose:
		return "debug"
	case c.Quiet || c.FilePath == "":
		return "error"
	}
	return c.Level
}

func (c Config) console() io.Writer {
	if c.Output != nil {
		return c.Output
	}
	// The report goes to stdout.
	return os.Stderr
}

// New builds a JSON logrus logger writing to the rotating file, the
// console, or both.
func New(cfg Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.EffectiveLevel())
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	var writers []io.Writer
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.Rotation.MaxSize,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAge:     cfg.Rotation.MaxAge,
			Compress:   cfg.Rotation.Compress,
		})
	}
	if cfg.Verbose || cfg.FilePath == "" {
		writers = append(writers, cfg.console())
	}
	log.SetOutput(io.MultiWriter(writers...))

	return log, nil
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// WithFile returns an entry tagged with the file being worked on.
func WithFile(log *logrus.Logger, filePath string) *logrus.Entry {
	return log.WithField("file", filePath)
}

// WithOperation returns an entry tagged with the pipeline stage.
func WithOperation(log *logrus.Logger, operation string) *logrus.Entry {
	return log.WithField("operation", operation)
}

// Record is the loggable view of one processed file.
type Record struct {
	Input    string
	Output   string
	Status   string
	Actions  []string
	Duration time.Duration
	Err      error
}

// WithRecord returns an entry carrying everything known about one file's
// outcome. Empty parts are left out so skipped files stay terse.
func WithRecord(log *logrus.Logger, operation string, r Record) *logrus.Entry {
	fields := logrus.Fields{
		"file":      r.Input,
		"operation": operation,
		"status":    r.Status,
	}
	if r.Output != "" {
		fields["output"] = r.Output
	}
	if len(r.Actions) > 0 {
		fields["actions"] = strings.Join(r.Actions, ", ")
	}
	if r.Duration > 0 {
		fields["duration"] = r.Duration.String()
	}

	entry := log.WithFields(fields)
	if r.Err != nil {
		entry = entry.WithError(r.Err)
	}
	return entry
}
