package statistics

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"imgbatch/internal/transformer"
)

// Statistics aggregates the outcomes of one batch run.
type Statistics struct {
	TotalItems int64
	Succeeded  int64
	Skipped    int64
	Failed     int64

	FilesResized   int64
	FilesConverted int64
	FilesCopied    int64
	FilesRenamed   int64
	FilesUnchanged int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64
	BytesIn        int64
	BytesOut       int64

	Errors []StatError

	mutex sync.RWMutex

	// FormatStats counts written outputs per extension.
	FormatStats map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string    `json:"file_path"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a copy of the counters that is safe to serialize.
type Snapshot struct {
	TotalItems     int64            `json:"total_items"`
	Succeeded      int64            `json:"succeeded"`
	Skipped        int64            `json:"skipped"`
	Failed         int64            `json:"failed"`
	FilesResized   int64            `json:"files_resized"`
	FilesConverted int64            `json:"files_converted"`
	FilesCopied    int64            `json:"files_copied"`
	FilesRenamed   int64            `json:"files_renamed"`
	BytesIn        int64            `json:"bytes_in"`
	BytesOut       int64            `json:"bytes_out"`
	Duration       string           `json:"duration"`
	FilesPerSecond float64          `json:"files_per_second"`
	FormatStats    map[string]int64 `json:"format_stats"`
	Errors         []StatError      `json:"errors"`
	Summary        string           `json:"summary"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		FormatStats: make(map[string]int64),
		Errors:      make([]StatError, 0),
	}
}

// Record folds one outcome into the counters. It is safe for concurrent use.
func (s *Statistics) Record(out transformer.Outcome) {
	atomic.AddInt64(&s.TotalItems, 1)

	switch out.Status {
	case transformer.StatusSucceeded:
		atomic.AddInt64(&s.Succeeded, 1)
	case transformer.StatusSkipped:
		atomic.AddInt64(&s.Skipped, 1)
		return
	default:
		atomic.AddInt64(&s.Failed, 1)
		msg := "unknown error"
		if out.Err != nil {
			msg = out.Err.Error()
		} else if len(out.Actions) > 0 {
			msg = out.Actions[len(out.Actions)-1]
		}
		s.AddError(out.InputPath, "transform", msg)
		return
	}

	atomic.AddInt64(&s.BytesIn, out.InputSize)
	atomic.AddInt64(&s.BytesOut, out.OutputSize)

	for _, action := range out.Actions {
		switch {
		case strings.HasPrefix(action, "resize:"):
			atomic.AddInt64(&s.FilesResized, 1)
		case strings.HasPrefix(action, "format conversion:"):
			atomic.AddInt64(&s.FilesConverted, 1)
		case strings.HasPrefix(action, "rename:"):
			atomic.AddInt64(&s.FilesRenamed, 1)
		case action == transformer.ActionCopy:
			atomic.AddInt64(&s.FilesCopied, 1)
		case action == transformer.ActionNoChanges:
			atomic.AddInt64(&s.FilesUnchanged, 1)
		}
	}

	s.IncrementFormat(strings.ToLower(filepath.Ext(out.OutputPath)))
}

// IncrementFormat increases the count for an output extension by 1.
func (s *Statistics) IncrementFormat(ext string) {
	if ext == "" {
		ext = "(none)"
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FormatStats[ext]++
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize calculates the duration and throughput of the run.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	total := atomic.LoadInt64(&s.TotalItems)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(total) / s.Duration.Seconds()
	}
}

// GetSummary returns the tally line.
func (s *Statistics) GetSummary() string {
	return Tally(
		atomic.LoadInt64(&s.Succeeded),
		atomic.LoadInt64(&s.Skipped),
		atomic.LoadInt64(&s.Failed),
	)
}

// GetDetailedSummary returns a formatted multi-line summary of all statistics.
func (s *Statistics) GetDetailedSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return fmt.Sprintf(`Image Batch Statistics Summary:

Items:
		Total: %d
		Succeeded: %d
		Skipped: %d
		Failed: %d

Transforms:
		Resized: %d
		Format Converted: %d
		Copied Verbatim: %d
		Renamed: %d
		Unchanged: %d

Performance:
		Duration: %v
		Files/Second: %.2f
		Bytes Read: %s
		Bytes Written: %s`,
		atomic.LoadInt64(&s.TotalItems),
		atomic.LoadInt64(&s.Succeeded),
		atomic.LoadInt64(&s.Skipped),
		atomic.LoadInt64(&s.Failed),
		atomic.LoadInt64(&s.FilesResized),
		atomic.LoadInt64(&s.FilesConverted),
		atomic.LoadInt64(&s.FilesCopied),
		atomic.LoadInt64(&s.FilesRenamed),
		atomic.LoadInt64(&s.FilesUnchanged),
		s.Duration,
		s.FilesPerSecond,
		formatBytes(atomic.LoadInt64(&s.BytesIn)),
		formatBytes(atomic.LoadInt64(&s.BytesOut)))
}

// GetFormatBreakdown returns a formatted breakdown of written output formats.
func (s *Statistics) GetFormatBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FormatStats) == 0 {
		return "No output format statistics available"
	}

	exts := make([]string, 0, len(s.FormatStats))
	for ext := range s.FormatStats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)

	var b strings.Builder
	b.WriteString("Output Format Breakdown:\n")
	for _, ext := range exts {
		fmt.Fprintf(&b, "  %s: %d\n", ext, s.FormatStats[ext])
	}
	return b.String()
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			fmt.Fprintf(&b, "  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		fmt.Fprintf(&b, "  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return b.String()
}

// Snapshot returns a consistent copy of the counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	formats := make(map[string]int64, len(s.FormatStats))
	for k, v := range s.FormatStats {
		formats[k] = v
	}
	errs := make([]StatError, len(s.Errors))
	copy(errs, s.Errors)

	return Snapshot{
		TotalItems:     atomic.LoadInt64(&s.TotalItems),
		Succeeded:      atomic.LoadInt64(&s.Succeeded),
		Skipped:        atomic.LoadInt64(&s.Skipped),
		Failed:         atomic.LoadInt64(&s.Failed),
		FilesResized:   atomic.LoadInt64(&s.FilesResized),
		FilesConverted: atomic.LoadInt64(&s.FilesConverted),
		FilesCopied:    atomic.LoadInt64(&s.FilesCopied),
		FilesRenamed:   atomic.LoadInt64(&s.FilesRenamed),
		BytesIn:        atomic.LoadInt64(&s.BytesIn),
		BytesOut:       atomic.LoadInt64(&s.BytesOut),
		Duration:       s.Duration.String(),
		FilesPerSecond: s.FilesPerSecond,
		FormatStats:    formats,
		Errors:         errs,
		Summary: Tally(
			atomic.LoadInt64(&s.Succeeded),
			atomic.LoadInt64(&s.Skipped),
			atomic.LoadInt64(&s.Failed),
		),
	}
}

// HasFailures reports whether any recorded item failed.
func (s *Statistics) HasFailures() bool {
	return atomic.LoadInt64(&s.Failed) > 0
}

// GetFailed returns the number of failed items.
func (s *Statistics) GetFailed() int64 {
	return atomic.LoadInt64(&s.Failed)
}

// GetDuration returns the total duration of the run.
func (s *Statistics) GetDuration() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Duration
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
