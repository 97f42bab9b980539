// Package tui renders ccm results for the terminal.
// Plain streaming output: styled headers, boxed tables, a progress bar for
// multi-table writes.
package tui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

// Header prints a section header.
func Header(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ "+title))
}

// Field prints a muted label followed by a value.
func Field(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(label+":"), titleStyle.Render(fmt.Sprint(value)))
}

// Path prints a file path in code style.
func Path(w io.Writer, label, path string) {
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(label+":"), codeStyle.Render(path))
}

// Success prints a completion line.
func Success(w io.Writer, message string) {
	fmt.Fprintln(w, successStyle.Render("  ✓ "+message))
}

// Warn prints a warning line.
func Warn(w io.Writer, message string) {
	fmt.Fprintln(w, accentStyle.Render("  ✗ ")+message)
}

// Rule prints a horizontal separator.
func Rule(w io.Writer) {
	fmt.Fprintln(w, mutedStyle.Render("  ─────────────────────────────────────"))
}

// Elapsed prints how long an operation took.
func Elapsed(w io.Writer, d time.Duration) {
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Time:"), titleStyle.Render(formatDuration(d)))
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// ShowProgress creates a progress bar over total steps written to w.
func ShowProgress(w io.Writer, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
