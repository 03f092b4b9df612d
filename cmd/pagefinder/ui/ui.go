// Package ui provides terminal output utilities for the PageFinder CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// UI provides user-facing output helpers. In JSON mode all decorative
// output is suppressed so stdout stays machine-readable.
type UI struct {
	jsonMode bool
	noColor  bool
}

// New creates a UI instance.
func New(jsonMode, noColor bool) *UI {
	return &UI{jsonMode: jsonMode, noColor: noColor}
}

func (u *UI) print(w io.Writer, attr color.Attribute, prefix, format string, args ...interface{}) {
	if u.jsonMode {
		return
	}
	text := fmt.Sprintf(format, args...)
	if u.noColor {
		fmt.Fprintf(w, "%s %s\n", prefix, text)
		return
	}
	color.New(attr).Fprintf(w, "%s %s\n", prefix, text)
}

// Success prints a success message.
func (u *UI) Success(format string, args ...interface{}) {
	u.print(os.Stdout, color.FgGreen, "✓", format, args...)
}

// Error prints an error message to stderr. Errors are not suppressed in
// JSON mode; they go to stderr, never into the JSON stream.
func (u *UI) Error(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	if u.jsonMode || u.noColor {
		fmt.Fprintf(os.Stderr, "✗ %s\n", text)
		return
	}
	color.New(color.FgRed).Fprintf(os.Stderr, "✗ %s\n", text)
}

// Warning prints a warning message.
func (u *UI) Warning(format string, args ...interface{}) {
	u.print(os.Stdout, color.FgYellow, "⚠", format, args...)
}

// Info prints an info message.
func (u *UI) Info(format string, args ...interface{}) {
	u.print(os.Stdout, color.FgCyan, "ℹ", format, args...)
}

// Step prints a step message.
func (u *UI) Step(format string, args ...interface{}) {
	u.print(os.Stdout, color.FgBlue, "→", format, args...)
}

// Section prints a section header.
func (u *UI) Section(title string) {
	if u.jsonMode {
		return
	}
	fmt.Println()
	if u.noColor {
		fmt.Printf("━━━ %s ━━━\n", strings.ToUpper(title))
	} else {
		color.New(color.FgMagenta, color.Bold).Printf("━━━ %s ━━━\n", strings.ToUpper(title))
	}
	fmt.Println()
}

// KeyValue prints an indented key-value pair.
func (u *UI) KeyValue(key string, value interface{}) {
	if u.jsonMode {
		return
	}
	if u.noColor {
		fmt.Printf("  %s: %v\n", key, value)
		return
	}
	color.New(color.FgYellow).Printf("  %s: ", key)
	fmt.Printf("%v\n", value)
}

// Newline prints a newline.
func (u *UI) Newline() {
	if !u.jsonMode {
		fmt.Println()
	}
}

// Table prints a column-aligned table with a header row.
func (u *UI) Table(headers []string, rows [][]string) {
	if u.jsonMode || len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow := func(cells []string) {
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			fmt.Printf("  %-*s", w+2, cell)
		}
		fmt.Println()
	}

	if u.noColor {
		printRow(headers)
	} else {
		for i, w := range widths {
			color.New(color.FgCyan, color.Bold).Printf("  %-*s", w+2, headers[i])
		}
		fmt.Println()
	}
	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("─", w)
	}
	printRow(sep)
	for _, row := range rows {
		printRow(row)
	}
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// FormatBytes formats a byte count in a human-readable way.
func FormatBytes(bytes int64) string {
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

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
