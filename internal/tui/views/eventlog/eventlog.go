// Package eventlog is the viewer's connection log overlay: attaches, drops,
// server errors and session endings, newest last.
package eventlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/termstream/termstream/internal/tui/theme"
)

const maxEntries = 200

type Kind string

const (
	KindConn    Kind = "conn"
	KindSession Kind = "sess"
	KindError   Kind = "err"
)

type Entry struct {
	Time    time.Time
	Kind    Kind
	Message string
}

// Model holds the log. Offset counts lines scrolled back from the newest.
type Model struct {
	Entries []Entry
	Offset  int
	now     func() time.Time
}

func New() Model {
	return Model{now: time.Now}
}

// Addf appends a formatted entry, dropping the oldest past the cap, and
// returns the view to the newest entry.
func (m *Model) Addf(kind Kind, format string, args ...interface{}) {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	m.Entries = append(m.Entries, Entry{Time: now(), Kind: kind, Message: fmt.Sprintf(format, args...)})
	if over := len(m.Entries) - maxEntries; over > 0 {
		m.Entries = append(m.Entries[:0:0], m.Entries[over:]...)
	}
	m.Offset = 0
}

// Scroll moves back (n > 0) or forward (n < 0) through the log.
func (m *Model) Scroll(n int) {
	m.Offset = max(0, min(m.Offset+n, len(m.Entries)-1))
}

// Count returns the number of entries of a kind.
func (m Model) Count(kind Kind) int {
	n := 0
	for _, e := range m.Entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func kindColor(kind Kind) lipgloss.Color {
	switch kind {
	case KindConn:
		return theme.ColorAccent
	case KindSession:
		return theme.ColorHealthy
	case KindError:
		return theme.ColorDanger
	default:
		return theme.ColorDimmed
	}
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	visible := max(height-6, 3)

	title := theme.StyleHeader.Render(" EVENT LOG ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("pgup/pgdown:scroll  esc:close  %d entries, %d errors",
		len(m.Entries), m.Count(KindError)))

	var body string
	if len(m.Entries) == 0 {
		body = theme.StyleDimmed.Render("  Nothing logged yet.")
	} else {
		end := max(len(m.Entries)-m.Offset, 0)
		start := max(end-visible, 0)
		lines := make([]string, 0, end-start)
		for _, e := range m.Entries[start:end] {
			line := fmt.Sprintf("%s %s %s",
				theme.StyleDimmed.Render(e.Time.Format("15:04:05.000")),
				lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(4).Render(string(e.Kind)),
				e.Message)
			lines = append(lines, ansi.Truncate(line, innerW-4, "..."))
		}
		body = strings.Join(lines, "\n")
		if m.Offset > 0 {
			body += "\n" + theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d newer", m.Offset))
		}
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help)
	return lipgloss.NewStyle().
		Width(innerW).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
