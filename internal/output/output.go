// Package output formats command results: status lines and search hits
// for terminals, and JSON for scripts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/vgrep/internal/chunk"
	"github.com/Aman-CERP/vgrep/internal/search"
	"github.com/Aman-CERP/vgrep/internal/ui"
)

// PreviewLines caps the lines of fragment text shown per result.
const PreviewLines = 15

// Writer writes formatted output. Errors from the underlying writer are
// ignored; console output is best effort.
type Writer struct {
	out    io.Writer
	styles ui.Styles
}

// New creates a Writer. Colors are used unless noColor is set.
func New(out io.Writer, noColor bool) *Writer {
	return &Writer{out: out, styles: ui.GetStyles(noColor)}
}

// Status prints msg after icon, or indented when icon is empty.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		_, _ = fmt.Fprintf(w.out, "  %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

func (w *Writer) Success(msg string) { w.Status(w.styles.Success.Render("✓"), msg) }
func (w *Writer) Warning(msg string) { w.Status(w.styles.Warning.Render("!"), msg) }
func (w *Writer) Error(msg string)   { w.Status(w.styles.Error.Render("✗"), msg) }

func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }
func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }
func (w *Writer) Errorf(format string, args ...any)   { w.Error(fmt.Sprintf(format, args...)) }

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Results prints ranked results as
//
//	[1] path/to/file.go:10-24 (87%)
//
// followed, when content is set, by a numbered preview of the fragment.
func (w *Writer) Results(results []search.Result, content bool) {
	if len(results) == 0 {
		_, _ = fmt.Fprintln(w.out, w.styles.Dim.Render("No results."))
		return
	}
	for _, r := range results {
		pct := int(r.Score * 100)
		_, _ = fmt.Fprintf(w.out, "\n%s %s %s\n",
			w.styles.Dim.Render(fmt.Sprintf("[%d]", r.Rank)),
			w.styles.Path.Render(Location(r)),
			w.styles.Score(r.Score).Render(fmt.Sprintf("(%d%%)", pct)))
		if content {
			w.preview(r)
		}
	}
}

func (w *Writer) preview(r search.Result) {
	_, _ = fmt.Fprintln(w.out, w.styles.Border.Render(strings.Repeat("─", 60)))
	lines := strings.Split(strings.TrimRight(r.Fragment.Text, "\n"), "\n")
	shown := lines
	if len(shown) > PreviewLines {
		shown = shown[:PreviewLines]
	}
	for i, line := range shown {
		_, _ = fmt.Fprintf(w.out, "%s %s\n",
			w.styles.LineNo.Render(fmt.Sprintf("%4d", r.Fragment.StartLine+i)), line)
	}
	if extra := len(lines) - len(shown); extra > 0 {
		_, _ = fmt.Fprintln(w.out, w.styles.Dim.Render(fmt.Sprintf("     ... (%d more lines)", extra)))
	}
}

// Files prints each distinct path once, in rank order.
func (w *Writer) Files(results []search.Result) {
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if seen[r.Path()] {
			continue
		}
		seen[r.Path()] = true
		_, _ = fmt.Fprintln(w.out, r.Path())
	}
}

// Location renders "path:line" or "path:start-end".
func Location(r search.Result) string {
	f := r.Fragment
	if f.StartLine == f.EndLine {
		return fmt.Sprintf("%s:%d", f.Path, f.StartLine)
	}
	return fmt.Sprintf("%s:%d-%d", f.Path, f.StartLine, f.EndLine)
}

// JSONResult is the machine-readable form of a result.
type JSONResult struct {
	File       string  `json:"file"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Score      float32 `json:"score"`
	Similarity float32 `json:"similarity"`
	Rank       int     `json:"rank"`
	Content    string  `json:"content"`
	Language   *string `json:"language"`
	ID         string  `json:"id"`
}

// ToJSON converts results for encoding.
func ToJSON(results []search.Result) []JSONResult {
	out := make([]JSONResult, len(results))
	for i, r := range results {
		f := r.Fragment
		out[i] = JSONResult{
			File:       f.Path,
			StartLine:  f.StartLine,
			EndLine:    f.EndLine,
			Score:      r.Score,
			Similarity: r.Similarity,
			Rank:       r.Rank,
			Content:    f.Text,
			ID:         chunk.IDString(f.ID),
		}
		if f.Language != "" {
			lang := f.Language
			out[i].Language = &lang
		}
	}
	return out
}

// JSON writes results as an indented JSON array.
func (w *Writer) JSON(results []search.Result) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(ToJSON(results))
}
