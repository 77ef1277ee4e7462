// Package theme provides the Lip Gloss palette and reusable styles for the
// termstream viewer. It is a leaf package apart from the decoder types it
// styles.
package theme

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/termstream/termstream/internal/decoder"
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorAccent  = lipgloss.Color("#06b6d4")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// AttrStyle returns the style for a literal run. Decoder colors are either a
// palette index or "#rrggbb", both of which lipgloss.Color accepts.
func AttrStyle(a decoder.Attrs) lipgloss.Style {
	s := lipgloss.NewStyle()
	if a.Fg != "" {
		s = s.Foreground(lipgloss.Color(a.Fg))
	}
	if a.Bg != "" {
		s = s.Background(lipgloss.Color(a.Bg))
	}
	return s.
		Bold(a.Bold).
		Faint(a.Dim).
		Italic(a.Italic).
		Underline(a.Underline).
		Blink(a.Blink).
		Reverse(a.Reverse)
}

// RenderRun styles text with the run's attributes. Hidden text keeps its width
// but prints as blanks.
func RenderRun(text string, a decoder.Attrs) string {
	if a.Hidden {
		text = strings.Repeat(" ", len([]rune(text)))
	}
	if a.IsZero() {
		return text
	}
	return AttrStyle(a).Render(text)
}

// ReasonColor returns the color used for a session end reason.
func ReasonColor(reason string) lipgloss.Color {
	switch reason {
	case "":
		return ColorHealthy
	case "eof", "closed", "shutdown":
		return ColorDimmed
	case "stalled":
		return ColorWarning
	default:
		return ColorDanger
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleAccent = lipgloss.NewStyle().
			Foreground(ColorAccent)
)
