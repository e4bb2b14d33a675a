package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// MarkdownRenderer wraps glamour for terminal markdown rendering.
type MarkdownRenderer struct {
	renderer *glamour.TermRenderer
	style    string
	width    int
}

// NewMarkdownRenderer creates a renderer wrapping at width. style is "dark",
// "light", or "" for auto detection.
func NewMarkdownRenderer(width int, style string) (*MarkdownRenderer, error) {
	r, err := newTermRenderer(width, style)
	if err != nil {
		return nil, err
	}
	return &MarkdownRenderer{renderer: r, style: style, width: width}, nil
}

// Render renders markdown text for terminal display.
func (m *MarkdownRenderer) Render(text string) (string, error) {
	return m.renderer.Render(text)
}

// SetWidth updates the word wrap width.
func (m *MarkdownRenderer) SetWidth(width int) error {
	if width == m.width {
		return nil
	}
	r, err := newTermRenderer(width, m.style)
	if err != nil {
		return err
	}
	m.renderer = r
	m.width = width
	return nil
}

func newTermRenderer(width int, style string) (*glamour.TermRenderer, error) {
	opt := glamour.WithAutoStyle()
	if style == "dark" || style == "light" {
		opt = glamour.WithStandardStyle(style)
	}
	return glamour.NewTermRenderer(opt, glamour.WithWordWrap(width))
}

// renderText renders multi-line text as markdown. Single lines are left
// alone so streaming text does not jump between layouts.
func renderText(content string, md *MarkdownRenderer) string {
	normalized := strings.Trim(content, "\r\n")
	if md != nil && strings.Contains(normalized, "\n") {
		rendered, err := md.Render(normalized)
		if err == nil {
			return strings.Trim(rendered, "\n")
		}
	}
	return normalized
}
