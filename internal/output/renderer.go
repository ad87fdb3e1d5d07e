package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/maxiberta/talisker/internal/model"
)

// Renderer writes LogEntry values to an output stream.
type Renderer interface {
	Render(entry model.LogEntry) error
}

// ---------------------------------------------------------------------------
// Text Renderer (colorized terminal output)
// ---------------------------------------------------------------------------

var (
	styleInfo     = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	styleDebug    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Faint(true)
	styleWarn     = lipgloss.NewStyle().Foreground(lipgloss.Color("220")) // yellow
	styleError    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleCritical = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("196")).
			Bold(true) // white on red
	styleModule    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Faint(true) // cyan
	styleField     = lipgloss.NewStyle().Foreground(lipgloss.Color("108"))            // green
	styleMalformed = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true) // orange
	styleTraceback = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Faint(true)
)

// TextRenderer prints entries to the terminal with severity-based colors.
type TextRenderer struct {
	w io.Writer
}

// NewTextRenderer returns a Renderer that writes colorized text to stdout.
func NewTextRenderer() *TextRenderer {
	return &TextRenderer{w: os.Stdout}
}

func (r *TextRenderer) Render(entry model.LogEntry) error {
	ts := "??:??:??"
	if entry.Timestamp != nil {
		ts = entry.Timestamp.Format("15:04:05.000")
	}

	parts := []string{ts, styleLevelTag(entry.Level), styleModule.Render(entry.Module), entry.Message}
	if len(entry.Fields) > 0 {
		parts = append(parts, styleField.Render(formatFields(entry.Fields)))
	}
	if entry.Malformed {
		parts = append(parts, styleMalformed.Render("[malformed]"))
	}

	if _, err := fmt.Fprintln(r.w, strings.Join(parts, " ")); err != nil {
		return err
	}

	if entry.Traceback != "" {
		for _, line := range strings.Split(entry.Traceback, "\n") {
			if _, err := fmt.Fprintln(r.w, styleTraceback.Render("    "+line)); err != nil {
				return err
			}
		}
	}
	return nil
}

// formatFields renders the fields map as sorted key=value pairs.
func formatFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fields[k]
		if strings.ContainsAny(v, " \t") {
			v = `"` + v + `"`
		}
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, " ")
}

func styleLevelTag(level string) string {
	padded := fmt.Sprintf("%-7s", level)
	switch level {
	case "DEBUG":
		return styleDebug.Render(padded)
	case "WARNING", "WARN":
		return styleWarn.Render(padded)
	case "ERROR":
		return styleError.Render(padded)
	case "CRITICAL", "FATAL":
		return styleCritical.Render(padded)
	default:
		return styleInfo.Render(padded)
	}
}

// ---------------------------------------------------------------------------
// JSON Renderer (structured output for piping)
// ---------------------------------------------------------------------------

// JSONRenderer prints each entry as a single JSON object per line.
// Unparsed timestamps serialize as null.
type JSONRenderer struct {
	enc *json.Encoder
}

// NewJSONRenderer returns a Renderer that writes JSON lines to w.
func NewJSONRenderer(w io.Writer) *JSONRenderer {
	return &JSONRenderer{enc: json.NewEncoder(w)}
}

func (r *JSONRenderer) Render(entry model.LogEntry) error {
	if entry.Fields == nil {
		entry.Fields = map[string]string{}
	}
	return r.enc.Encode(entry)
}
