// Package ui renders CLI output: styled when attached to a TTY, plain
// when piped.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/findexd/findex/internal/progress"
	"github.com/findexd/findex/internal/search"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	pathStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	scoreStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// Renderer writes human-readable output.
type Renderer struct {
	out   io.Writer
	plain bool
}

// NewRenderer creates a renderer for out; styling is disabled when out
// is not a terminal.
func NewRenderer(out io.Writer) *Renderer {
	plain := true
	if f, ok := out.(*os.File); ok {
		plain = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}
	return &Renderer{out: out, plain: plain}
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return s.Render(text)
}

// Progress renders one job snapshot as a single line.
func (r *Renderer) Progress(snap progress.Snapshot) {
	bar := ""
	if snap.TotalFiles > 0 {
		pct := int(snap.Progress * 100)
		bar = fmt.Sprintf(" %3d%%", pct)
	}
	line := fmt.Sprintf("job %d [%s]%s %d/%d files",
		snap.JobID, snap.Status, bar, snap.ProcessedFiles, snap.TotalFiles)
	if snap.ErrorCount > 0 {
		line += r.style(errStyle, fmt.Sprintf(" (%d errors)", snap.ErrorCount))
	}
	if snap.Message != "" {
		line += " " + snap.Message
	}
	fmt.Fprintln(r.out, line)
}

// Results renders a search response.
func (r *Renderer) Results(resp *search.Response) {
	if resp.ConvertedText != "" {
		fmt.Fprintf(r.out, "recognized: %q (confidence %.2f)\n\n", resp.ConvertedText, resp.Confidence)
	}
	if resp.Degraded != "" {
		fmt.Fprintln(r.out, r.style(errStyle, "degraded: "+resp.Degraded))
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(r.out, "no results")
		return
	}

	for i, res := range resp.Results {
		fmt.Fprintf(r.out, "%2d. %s %s %s\n",
			i+1,
			r.style(titleStyle, res.FileName),
			r.style(scoreStyle, fmt.Sprintf("%.3f", res.RelevanceScore)),
			fmt.Sprintf("[%s]", res.MatchType))
		fmt.Fprintf(r.out, "    %s\n", r.style(pathStyle, res.FilePath))
		if res.Highlight != "" {
			fmt.Fprintf(r.out, "    %s\n", strings.TrimSpace(res.Highlight))
		}
	}
	fmt.Fprintf(r.out, "\n%d results in %dms\n", resp.Total, resp.ElapsedMs)
}

// Error renders an error line.
func (r *Renderer) Error(err error) {
	fmt.Fprintln(r.out, r.style(errStyle, "error: "+err.Error()))
}
