package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.Faint)
)

func printSuccess(format string, args ...interface{}) {
	successColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	warningColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	infoColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode json: %v\n", err)
	}
}

// ProgressDisplay renders one status line on stderr. On a terminal the
// line is redrawn in place.
type ProgressDisplay struct {
	out    io.Writer
	inline bool
	phase  string
	errors []string
	drawn  bool
}

// NewProgressDisplay creates a progress display.
func NewProgressDisplay() *ProgressDisplay {
	return &ProgressDisplay{
		out:    os.Stderr,
		inline: term.IsTerminal(int(os.Stderr.Fd())),
	}
}

// SetPhase shows a phase label.
func (p *ProgressDisplay) SetPhase(phase string) {
	p.phase = phase
	p.draw(infoColor.Sprint(phase))
}

// Update shows the book being processed.
func (p *ProgressDisplay) Update(done, total int, current string) {
	line := fmt.Sprintf("[%d/%d] %s", done, total, current)
	if p.phase != "" {
		line = infoColor.Sprint(p.phase) + " " + line
	}
	p.draw(line)
}

// Note prints a line that stays above the status line.
func (p *ProgressDisplay) Note(line string) {
	p.clear()
	fmt.Fprintln(p.out, line)
}

// AddError records an error for the final report.
func (p *ProgressDisplay) AddError(msg string) {
	p.errors = append(p.errors, msg)
	p.Note(errorColor.Sprint("✗ ") + msg)
}

// Close ends the status line and lists collected errors.
func (p *ProgressDisplay) Close() {
	p.clear()
	if len(p.errors) == 0 {
		return
	}
	warningColor.Fprintf(p.out, "%d book(s) failed:\n", len(p.errors))
	for _, msg := range p.errors {
		fmt.Fprintf(p.out, "  - %s\n", msg)
	}
}

func (p *ProgressDisplay) draw(line string) {
	if !p.inline {
		fmt.Fprintln(p.out, line)
		return
	}
	fmt.Fprintf(p.out, "\r\033[K%s", line)
	p.drawn = true
}

func (p *ProgressDisplay) clear() {
	if p.inline && p.drawn {
		fmt.Fprint(p.out, "\r\033[K")
		p.drawn = false
	}
}

// formatAge renders a duration the way "state list" shows it.
func formatAge(d time.Duration) string {
	switch {
	case d <= 0:
		return "never"
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
