package transformer

import (
	"fmt"
	"time"

	"imgbatch/internal/logger"
)

// Request describes how one input file is turned into one output file.
type Request struct {
	InputPath  string
	OutputPath string
	// MaxWidth and MaxHeight bound the output size; 0 means unbounded.
	MaxWidth  int
	MaxHeight int
	// Convert rewrites raster outputs to the transformer's target format.
	Convert bool
	// Quality is used by lossy encoders, 1-100.
	Quality int
}

// Validate checks the request invariants.
func (r Request) Validate() error {
	if r.InputPath == "" {
		return fmt.Errorf("input path is required")
	}
	if r.OutputPath == "" {
		return fmt.Errorf("output path is required")
	}
	if r.Quality < 1 || r.Quality > 100 {
		return fmt.Errorf("quality must be within 1-100, got %d", r.Quality)
	}
	if r.MaxWidth < 0 || r.MaxHeight < 0 {
		return fmt.Errorf("max dimensions must be positive, got %dx%d", r.MaxWidth, r.MaxHeight)
	}
	return nil
}

// Status is the final state of an outcome.
type Status int

const (
	StatusSucceeded Status = iota
	StatusSkipped
	StatusFailed
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown status %d", int(s))
	}
}

// Outcome records what happened to one work item.
type Outcome struct {
	InputPath string
	// OutputPath is the path actually written, after any extension rewrite.
	OutputPath string
	Status     Status
	// Actions lists what was done, in order.
	Actions    []string
	Err        error
	InputSize  int64
	OutputSize int64
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether the output was written.
func (o Outcome) Succeeded() bool { return o.Status == StatusSucceeded }

// Duration returns how long the item took.
func (o Outcome) Duration() time.Duration { return o.FinishedAt.Sub(o.StartedAt) }

// LogRecord flattens o for structured logging.
func (o Outcome) LogRecord() logger.Record {
	return logger.Record{
		Input:    o.InputPath,
		Output:   o.OutputPath,
		Status:   o.Status.String(),
		Actions:  o.Actions,
		Duration: o.Duration(),
		Err:      o.Err,
	}
}

// WithPrependedAction returns a copy of o with action in front of the
// existing actions.
func (o Outcome) WithPrependedAction(action string) Outcome {
	actions := make([]string, 0, len(o.Actions)+1)
	actions = append(actions, action)
	actions = append(actions, o.Actions...)
	o.Actions = actions
	return o
}

// Failed builds a failed outcome that never reached the transformer.
func Failed(inputPath, outputPath string, err error, action string) Outcome {
	now := time.Now()
	return Outcome{
		InputPath:  inputPath,
		OutputPath: outputPath,
		Status:     StatusFailed,
		Actions:    []string{action},
		Err:        err,
		StartedAt:  now,
		FinishedAt: now,
	}
}

// Transformer turns a single request into an outcome. Implementations never
// return errors or panic; every failure ends up in the outcome.
type Transformer interface {
	Transform(req Request) Outcome
}
