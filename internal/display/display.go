package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"imgbatch/internal/inspector"
	"imgbatch/internal/statistics"
	"imgbatch/internal/transformer"

	"github.com/charmbracelet/lipgloss"
)

var (
	ColorInk     = lipgloss.Color("#E5E9F0")
	ColorDim     = lipgloss.Color("#7A8291")
	ColorAccent  = lipgloss.Color("#88C0D0")
	ColorSuccess = lipgloss.Color("#A3BE8C")
	ColorWarn    = lipgloss.Color("#EBCB8B")
	ColorError   = lipgloss.Color("#BF616A")
)

// Printer writes report lines to a terminal. Colours are only emitted when
// the writer is a terminal that supports them.
type Printer struct {
	w  io.Writer
	mu sync.Mutex

	successStyle lipgloss.Style
	skipStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	textStyle    lipgloss.Style
	dimStyle     lipgloss.Style
	titleStyle   lipgloss.Style
}

// NewPrinter returns a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:            w,
		successStyle: r.NewStyle().Bold(true).Foreground(ColorSuccess),
		skipStyle:    r.NewStyle().Foreground(ColorWarn),
		errorStyle:   r.NewStyle().Bold(true).Foreground(ColorError),
		textStyle:    r.NewStyle().Foreground(ColorInk),
		dimStyle:     r.NewStyle().Foreground(ColorDim),
		titleStyle:   r.NewStyle().Bold(true).Foreground(ColorAccent),
	}
}

func (p *Printer) symbolStyle(status transformer.Status) lipgloss.Style {
	switch status {
	case transformer.StatusSucceeded:
		return p.successStyle
	case transformer.StatusSkipped:
		return p.skipStyle
	default:
		return p.errorStyle
	}
}

// Header prints label/value rows followed by a rule, above the report.
func (p *Printer) Header(rows ...[2]string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, row := range rows {
		fmt.Fprintf(p.w, "%s %s\n", p.dimStyle.Render(row[0]+":"), p.textStyle.Render(row[1]))
	}
	fmt.Fprintln(p.w, p.dimStyle.Render(strings.Repeat("-", 40)))
}

// Outcome prints one report line. Safe for concurrent use, so it can back
// an outcome hook.
func (p *Printer) Outcome(out transformer.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "%s %s\n",
		p.symbolStyle(out.Status).Render(statistics.Symbol(out.Status)),
		p.textStyle.Render(statistics.Line(out)))
}

// Report prints every outcome followed by the tally line.
func (p *Printer) Report(outcomes []transformer.Outcome) {
	for _, out := range outcomes {
		p.Outcome(out)
	}
	p.Summary(statistics.Count(outcomes))
}

// Summary prints the tally line, highlighted when something failed.
func (p *Printer) Summary(succeeded, skipped, failed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	style := p.successStyle
	if failed > 0 {
		style = p.errorStyle
	}
	fmt.Fprintf(p.w, "\n%s\n", style.Render(statistics.Tally(succeeded, skipped, failed)))
}

// Details prints a multi-line block in the dim style, e.g. the detailed statistics.
func (p *Printer) Details(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "\n%s\n", p.dimStyle.Render(text))
}

// Info prints the result of an info query.
func (p *Printer) Info(info *inspector.Info) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, p.titleStyle.Render(info.Path))
	row := func(label, value string) {
		fmt.Fprintf(p.w, "  %s %s\n", p.dimStyle.Render(label+":"), p.textStyle.Render(value))
	}
	if info.Width > 0 {
		row("size", fmt.Sprintf("%d x %d", info.Width, info.Height))
	}
	row("format", info.Format)
	if info.Mode != "" {
		row("mode", info.Mode)
	}
	row("alpha", fmt.Sprintf("%t", info.HasAlpha))
	if info.MIME != "" {
		row("mime", info.MIME)
	}
	row("bytes", fmt.Sprintf("%d", info.Size))
	if info.Camera != "" {
		row("camera", info.Camera)
	}
	if info.TakenAt != nil {
		row("taken", fmt.Sprintf("%s (%s)", info.TakenAt.Format("2006-01-02 15:04:05"), info.DateSource))
	}
}
