// Package screen keeps the viewer's line model: decoded tokens are applied to
// a list of lines with a column cursor on the last one. It is not a
// cursor-addressable terminal. Vertical cursor motion is ignored and
// positioning only moves the column.
package screen

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/termstream/termstream/internal/decoder"
	"github.com/termstream/termstream/internal/tui/theme"
)

const (
	DefaultScrollback = 5000
	tabWidth          = 8
)

type cell struct {
	r     rune
	attrs decoder.Attrs
}

type line []cell

// Screen is not safe for concurrent use; the viewer only touches it from its
// update loop.
type Screen struct {
	lines      []line
	col        int
	scrollback int
	// trimmed counts lines dropped off the top of the scrollback.
	trimmed int

	alt       bool
	savedMain []line
	savedCol  int
}

func New(scrollback int) *Screen {
	if scrollback <= 0 {
		scrollback = DefaultScrollback
	}
	return &Screen{lines: []line{nil}, scrollback: scrollback}
}

// Apply folds tokens into the screen in order.
func (s *Screen) Apply(tokens []decoder.Token) {
	for _, t := range tokens {
		switch t.Kind {
		case decoder.Literal:
			s.write(t.Text, t.Attrs)
		case decoder.Control:
			if t.Effect != nil {
				s.effect(*t.Effect)
			}
		}
	}
}

func (s *Screen) cur() *line {
	return &s.lines[len(s.lines)-1]
}

func (s *Screen) write(text string, attrs decoder.Attrs) {
	for _, r := range text {
		switch r {
		case '\n':
			s.newline()
		case '\r':
			s.col = 0
		case '\b':
			if s.col > 0 {
				s.col--
			}
		case '\t':
			s.col = (s.col/tabWidth + 1) * tabWidth
		default:
			if r < 0x20 || r == 0x7f {
				continue
			}
			s.put(r, attrs)
		}
	}
}

func (s *Screen) put(r rune, attrs decoder.Attrs) {
	l := s.cur()
	for len(*l) < s.col {
		*l = append(*l, cell{r: ' '})
	}
	if s.col < len(*l) {
		(*l)[s.col] = cell{r: r, attrs: attrs}
	} else {
		*l = append(*l, cell{r: r, attrs: attrs})
	}
	s.col++
}

func (s *Screen) newline() {
	s.lines = append(s.lines, nil)
	s.col = 0
	if over := len(s.lines) - s.scrollback; over > 0 {
		s.lines = append(s.lines[:0:0], s.lines[over:]...)
		s.trimmed += over
	}
}

func (s *Screen) effect(e decoder.Effect) {
	switch e.Type {
	case decoder.EffectEraseDisplay:
		switch e.Param(0, 0) {
		case 0:
			s.truncate()
		case 1:
			s.lines = s.lines[len(s.lines)-1:]
			s.blankTo(s.col)
		default:
			s.clear()
		}
	case decoder.EffectEraseLine:
		switch e.Param(0, 0) {
		case 0:
			s.truncate()
		case 1:
			s.blankTo(s.col)
		default:
			*s.cur() = nil
		}
	case decoder.EffectCursorPosition:
		s.col = e.Param(1, 1) - 1
	case decoder.EffectCursorColumn:
		s.col = e.Param(0, 1) - 1
	case decoder.EffectCursorForward:
		s.col += e.Param(0, 1)
	case decoder.EffectCursorBack:
		s.col -= e.Param(0, 1)
		if s.col < 0 {
			s.col = 0
		}
	case decoder.EffectModeSet, decoder.EffectModeReset:
		if e.Mode() == "alt_screen" {
			s.altScreen(e.Type == decoder.EffectModeSet)
		}
	}
}

// truncate erases from the cursor to the end of the line.
func (s *Screen) truncate() {
	if l := s.cur(); s.col < len(*l) {
		*l = (*l)[:s.col]
	}
}

// blankTo erases from the start of the line through column col.
func (s *Screen) blankTo(col int) {
	l := *s.cur()
	for i := 0; i <= col && i < len(l); i++ {
		l[i] = cell{r: ' '}
	}
}

func (s *Screen) clear() {
	s.lines = []line{nil}
	s.col = 0
}

func (s *Screen) altScreen(on bool) {
	if on == s.alt {
		return
	}
	s.alt = on
	if on {
		s.savedMain, s.savedCol = s.lines, s.col
		s.clear()
		return
	}
	s.lines, s.col = s.savedMain, s.savedCol
	s.savedMain = nil
	if len(s.lines) == 0 {
		s.clear()
	}
}

// Alt reports whether the program on the other end switched to the alternate
// screen.
func (s *Screen) Alt() bool { return s.alt }

// Len returns the number of lines held.
func (s *Screen) Len() int { return len(s.lines) }

// Trimmed returns the number of lines dropped from the scrollback.
func (s *Screen) Trimmed() int { return s.trimmed }

// Cursor returns the column of the cursor on the last line.
func (s *Screen) Cursor() int { return s.col }

// Text returns the plain text of every line.
func (s *Screen) Text() []string {
	out := make([]string, len(s.lines))
	for i, l := range s.lines {
		var b strings.Builder
		for _, c := range l {
			b.WriteRune(c.r)
		}
		out[i] = b.String()
	}
	return out
}

// Render returns every line styled from its attributes and clipped to width
// cells. width <= 0 disables clipping.
func (s *Screen) Render(width int) []string {
	out := make([]string, len(s.lines))
	for i, l := range s.lines {
		var b strings.Builder
		var run strings.Builder
		var attrs decoder.Attrs
		for j, c := range l {
			if j > 0 && c.attrs != attrs {
				b.WriteString(theme.RenderRun(run.String(), attrs))
				run.Reset()
			}
			attrs = c.attrs
			run.WriteRune(c.r)
		}
		if run.Len() > 0 {
			b.WriteString(theme.RenderRun(run.String(), attrs))
		}
		rendered := b.String()
		if width > 0 {
			rendered = ansi.Truncate(rendered, width, "")
		}
		out[i] = rendered
	}
	return out
}
