package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/termstream/termstream/internal/session"
	"github.com/termstream/termstream/internal/tui/theme"
)

// Height is the number of rows the bar occupies, border included.
const Height = 2

// Model holds the status bar state.
type Model struct {
	Connected bool
	Session   session.Info
	Batches   int
	Tokens    int
	LastSeq   uint64
	// Reason is set once the session has ended.
	Reason    string
	Ended     bool
	Following bool
	Width     int
}

// New creates a status bar model.
func New() Model {
	return Model{Following: true}
}

// Record counts a received batch.
func (m *Model) Record(seq uint64, tokens int) {
	m.Batches++
	m.Tokens += tokens
	m.LastSeq = seq
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	switch {
	case m.Ended:
		connStr = lipgloss.NewStyle().Foreground(theme.ReasonColor(m.Reason)).Render("■ Ended: " + m.Reason)
	case m.Connected:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	default:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	name := m.Session.Name
	if name == "" {
		name = "(no session)"
	}
	id := m.Session.ID
	if len(id) > 8 {
		id = id[:8]
	}
	sessStr := theme.StyleHeader.Render(name)
	if m.Session.Mode != "" || id != "" {
		sessStr += theme.StyleDimmed.Render(fmt.Sprintf(" %s %s", m.Session.Mode, id))
	}

	counts := fmt.Sprintf("%d batches  %d tokens  seq %d", m.Batches, m.Tokens, m.LastSeq)

	scroll := theme.StyleAccent.Render("live")
	if !m.Following {
		scroll = lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("scrollback")
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := ansi.Truncate(connStr+sep+sessStr+sep+counts+sep+scroll, width-2, "…")

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		BorderBottom(true).
		Render(content)
}
