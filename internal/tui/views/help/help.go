// Package help renders the key binding reference overlay from Markdown.
package help

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/termstream/termstream/internal/tui/theme"
)

const intro = `Everything you type is sent to the remote shell, except the keys below.
Output arrives in batches; the status bar counts them and shows why a
session ended.`

// Model caches the rendered help for the current width.
type Model struct {
	bindings []key.Binding
	width    int
	rendered string
}

func New(bindings []key.Binding) Model {
	return Model{bindings: bindings}
}

// Markdown returns the help source.
func (m Model) Markdown() string {
	var b strings.Builder
	b.WriteString("# termstream viewer\n\n")
	b.WriteString(intro)
	b.WriteString("\n\n| Key | Action |\n|---|---|\n")
	for _, k := range m.bindings {
		h := k.Help()
		fmt.Fprintf(&b, "| `%s` | %s |\n", h.Key, h.Desc)
	}
	return b.String()
}

// SetWidth re-renders the help for a new terminal width.
func (m *Model) SetWidth(width int) {
	if width == m.width && m.rendered != "" {
		return
	}
	m.width = width
	wrap := width - 8
	if wrap < 20 {
		wrap = 20
	}

	md := m.Markdown()
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		m.rendered = md
		return
	}
	out, err := r.Render(md)
	if err != nil {
		m.rendered = md
		return
	}
	m.rendered = strings.Trim(out, "\n")
}

// View renders the overlay panel.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	body := m.rendered
	if body == "" {
		body = m.Markdown()
	}
	footer := theme.StyleDimmed.Render("esc:close")
	return theme.StyleBorder.
		Width(innerW).
		MaxHeight(height).
		Padding(0, 1).
		Render(lipgloss.JoinVertical(lipgloss.Left, body, footer))
}
