package present

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/glamour"
)

const markdownTabWidth = 4

// Markdown renders agent answers and saved transcripts. The glamour style
// comes from GLAMOUR_STYLE.
type Markdown struct {
	r *glamour.TermRenderer
}

// NewMarkdown creates a renderer that wraps at wordWrap columns.
func NewMarkdown(wordWrap int) (*Markdown, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithEnvironmentConfig(),
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		return nil, fmt.Errorf("new markdown renderer: %w", err)
	}
	return &Markdown{r: r}, nil
}

// Render renders input without trailing whitespace. Tabs are expanded so
// tool output in code blocks lines up in the viewport.
func (m *Markdown) Render(input string) (string, error) {
	out, err := m.r.Render(input)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	out = strings.TrimRightFunc(out, unicode.IsSpace)
	return strings.ReplaceAll(out, "\t", strings.Repeat(" ", markdownTabWidth)), nil
}

// RenderMarkdown renders a final answer or a transcript for a terminal,
// ending with a single newline.
func RenderMarkdown(input string, wordWrap int) (string, error) {
	m, err := NewMarkdown(wordWrap)
	if err != nil {
		return "", err
	}
	out, err := m.Render(input)
	if err != nil {
		return "", err
	}
	return out + "\n", nil
}
