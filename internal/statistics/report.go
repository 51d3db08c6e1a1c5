package statistics

import (
	"fmt"
	"path/filepath"
	"strings"

	"imgbatch/internal/transformer"
)

// Status symbols used at the start of each report line.
const (
	SymbolSucceeded = "✓"
	SymbolSkipped   = "-"
	SymbolFailed    = "✗"
)

// Symbol returns the report symbol for a status.
func Symbol(status transformer.Status) string {
	switch status {
	case transformer.StatusSucceeded:
		return SymbolSucceeded
	case transformer.StatusSkipped:
		return SymbolSkipped
	default:
		return SymbolFailed
	}
}

// Tally renders the final count line.
func Tally(succeeded, skipped, failed int64) string {
	return fmt.Sprintf("%d succeeded, %d skipped, %d failed", succeeded, skipped, failed)
}

// Line renders one outcome without its status symbol. A successful item
// whose final name differs from its input name shows both names.
func Line(out transformer.Outcome) string {
	in := filepath.Base(out.InputPath)
	actions := strings.Join(out.Actions, ", ")

	if out.Status == transformer.StatusSucceeded && out.OutputPath != "" {
		if name := filepath.Base(out.OutputPath); name != in {
			return fmt.Sprintf("%s -> %s (%s)", in, name, actions)
		}
	}
	return fmt.Sprintf("%s (%s)", in, actions)
}

// Lines renders one line per outcome, in the given order.
func Lines(outcomes []transformer.Outcome) []string {
	lines := make([]string, 0, len(outcomes))
	for _, out := range outcomes {
		lines = append(lines, Symbol(out.Status)+" "+Line(out))
	}
	return lines
}

// Count partitions outcomes into succeeded, skipped and failed.
func Count(outcomes []transformer.Outcome) (succeeded, skipped, failed int64) {
	for _, out := range outcomes {
		switch out.Status {
		case transformer.StatusSucceeded:
			succeeded++
		case transformer.StatusSkipped:
			skipped++
		default:
			failed++
		}
	}
	return succeeded, skipped, failed
}

// Render returns the per-item lines followed by a blank line and the tally.
func Render(outcomes []transformer.Outcome) string {
	var b strings.Builder
	for _, line := range Lines(outcomes) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(Tally(Count(outcomes)))
	b.WriteByte('\n')
	return b.String()
}
