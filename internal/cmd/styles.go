package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/raedjah1/adtbot/internal/workflow"
)

var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	pausedColor  = lipgloss.Color("#60A5FA") // Blue

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
)

// statusColors maps workflow statuses to their display color.
var statusColors = map[workflow.Status]lipgloss.Color{
	workflow.StatusPlanned:   mutedColor,
	workflow.StatusRunning:   successColor,
	workflow.StatusPaused:    pausedColor,
	workflow.StatusCompleted: primaryColor,
	workflow.StatusFailed:    errorColor,
	workflow.StatusCancelled: warningColor,
}

// printer writes command output, styled only when it goes to a terminal.
type printer struct {
	out    io.Writer
	styled bool
}

func newPrinter(out io.Writer) *printer {
	styled := false
	if f, ok := out.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &printer{out: out, styled: styled}
}

func (p *printer) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

func (p *printer) title(s string) string   { return p.render(titleStyle, s) }
func (p *printer) muted(s string) string   { return p.render(mutedStyle, s) }
func (p *printer) success(s string) string { return p.render(successStyle, s) }
func (p *printer) warning(s string) string { return p.render(warningStyle, s) }
func (p *printer) failure(s string) string { return p.render(errorStyle, s) }

// clip shortens s to width visual columns, ending it with "..." when cut.
// Escape sequences already in s are preserved.
func clip(s string, width int) string {
	if width <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "...")
}

func (p *printer) status(s workflow.Status) string {
	return p.render(lipgloss.NewStyle().Bold(true).Foreground(statusColors[s]), string(s))
}

func (p *printer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

func (p *printer) println(args ...any) {
	_, _ = fmt.Fprintln(p.out, args...)
}
