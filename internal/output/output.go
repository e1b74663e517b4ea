// Package output renders CLI results: answers with their sources, ranked
// chunks and status lines.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// Writer provides formatted output for CLI.
type Writer struct {
	out    io.Writer
	styles Styles
	color  bool
}

// New creates a Writer. Color is used only when out is a terminal and
// NO_COLOR is unset.
func New(out io.Writer) *Writer {
	return NewWithColor(out, IsTTY(out) && !DetectNoColor())
}

// NewWithColor creates a Writer with color forced on or off.
func NewWithColor(out io.Writer, color bool) *Writer {
	return &Writer{out: out, styles: GetStyles(!color), color: color}
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", w.styles.Success.Render(msg))
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", w.styles.Warning.Render(msg))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", w.styles.Error.Render(msg))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Source is a cited chunk.
type Source struct {
	ChunkID  string
	SourceID string
}

// Answer is a generated response as shown on the terminal.
type Answer struct {
	Text          string
	Tier          string
	RetrievalUsed bool
	Sources       []Source
	Degradations  []string
	Elapsed       time.Duration
}

// Answer prints the answer text, then its sources and a footer line.
func (w *Writer) Answer(a Answer) {
	text := a.Text
	if w.color {
		text = w.styles.Panel.Render(text)
	}
	_, _ = fmt.Fprintln(w.out, text)

	if len(a.Sources) > 0 {
		_, _ = fmt.Fprintf(w.out, "\n%s\n", w.styles.Header.Render("Sources"))
		for i, s := range a.Sources {
			line := fmt.Sprintf("  [%d] %s", i+1, s.ChunkID)
			if s.SourceID != "" {
				line += " " + w.styles.Label.Render("("+s.SourceID+")")
			}
			_, _ = fmt.Fprintln(w.out, line)
		}
	}

	footer := []string{"tier: " + a.Tier}
	if !a.RetrievalUsed {
		footer = append(footer, "no retrieval")
	}
	if a.Elapsed > 0 {
		footer = append(footer, a.Elapsed.Round(time.Millisecond).String())
	}
	_, _ = fmt.Fprintf(w.out, "\n%s\n", w.styles.Dim.Render(strings.Join(footer, " · ")))

	if len(a.Degradations) > 0 {
		w.Warningf("degraded: %s", strings.Join(a.Degradations, ", "))
	}
}

// Result is one ranked chunk.
type Result struct {
	ChunkID    string
	SourceID   string
	Text       string
	Score      float64
	ExactMatch bool
}

// Results prints ranked chunks, truncating each text to maxChars runes
// (0 prints it whole).
func (w *Writer) Results(query string, results []Result, maxChars int) {
	if len(results) == 0 {
		w.Warningf("No results for %q", query)
		return
	}

	noun := "results"
	if len(results) == 1 {
		noun = "result"
	}
	_, _ = fmt.Fprintf(w.out, "%s\n\n", w.styles.Header.Render(fmt.Sprintf("%d %s for %q", len(results), noun, query)))

	for i, r := range results {
		header := fmt.Sprintf("%d. %s", i+1, w.styles.Accent.Render(r.ChunkID))
		if r.SourceID != "" {
			header += " " + w.styles.Label.Render("("+r.SourceID+")")
		}
		score := fmt.Sprintf("score %.3f", r.Score)
		if r.ExactMatch {
			score += ", exact match"
		}
		_, _ = fmt.Fprintf(w.out, "%s %s\n", header, w.styles.Dim.Render(score))
		_, _ = fmt.Fprintf(w.out, "   %s\n\n", Truncate(oneLine(r.Text), maxChars))
	}
}

// KeyValues prints an aligned table of label and value pairs.
func (w *Writer) KeyValues(title string, pairs [][2]string) {
	if title != "" {
		_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(title))
	}
	width := 0
	for _, p := range pairs {
		width = max(width, len(p[0]))
	}
	for _, p := range pairs {
		label := fmt.Sprintf("%-*s", width, p[0])
		_, _ = fmt.Fprintf(w.out, "  %s  %s\n", w.styles.Label.Render(label), p[1])
	}
}

// Truncate shortens s to n runes, appending "..." when cut. n <= 0 keeps s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
