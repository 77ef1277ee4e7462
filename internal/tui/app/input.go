package app

import (
	tea "github.com/charmbracelet/bubbletea"
)

// cursorKeys maps non-character keys to the bytes a VT-style terminal sends.
var cursorKeys = map[tea.KeyType]string{
	tea.KeyUp:     "\x1b[A",
	tea.KeyDown:   "\x1b[B",
	tea.KeyRight:  "\x1b[C",
	tea.KeyLeft:   "\x1b[D",
	tea.KeyHome:   "\x1b[H",
	tea.KeyEnd:    "\x1b[F",
	tea.KeyInsert: "\x1b[2~",
	tea.KeyDelete: "\x1b[3~",
	tea.KeySpace:  " ",
}

// keyInput returns the bytes to forward for a key press, or "" for keys the
// remote shell has no encoding for.
func keyInput(msg tea.KeyMsg) string {
	var s string
	switch {
	case msg.Type == tea.KeyRunes:
		s = string(msg.Runes)
		if msg.Paste {
			return "\x1b[200~" + s + "\x1b[201~"
		}
	case msg.Type >= 0 && (msg.Type < 0x20 || msg.Type == 0x7f):
		// Control keys carry their C0 code as the key type.
		s = string(rune(msg.Type))
	default:
		s = cursorKeys[msg.Type]
	}
	if s != "" && msg.Alt {
		s = "\x1b" + s
	}
	return s
}
