package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the viewer's own bindings. Every other key goes to the remote
// shell, so these stay off the keys a shell needs.
type KeyMap struct {
	Quit       key.Binding
	Help       key.Binding
	Log        key.Binding
	ScrollUp   key.Binding
	ScrollDown key.Binding
	Top        key.Binding
	Bottom     key.Binding
	Escape     key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+q"),
			key.WithHelp("ctrl+q", "quit the viewer (the session keeps running)"),
		),
		Help: key.NewBinding(
			key.WithKeys("f1"),
			key.WithHelp("f1", "this help"),
		),
		Log: key.NewBinding(
			key.WithKeys("f2"),
			key.WithHelp("f2", "connection event log"),
		),
		ScrollUp: key.NewBinding(
			key.WithKeys("shift+up", "pgup"),
			key.WithHelp("shift+↑/pgup", "scroll back"),
		),
		ScrollDown: key.NewBinding(
			key.WithKeys("shift+down", "pgdown"),
			key.WithHelp("shift+↓/pgdown", "scroll forward"),
		),
		Top: key.NewBinding(
			key.WithKeys("ctrl+home"),
			key.WithHelp("ctrl+home", "oldest output"),
		),
		Bottom: key.NewBinding(
			key.WithKeys("ctrl+end"),
			key.WithHelp("ctrl+end", "follow live output"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "close overlay"),
		),
	}
}

// Bindings lists the bindings shown in help.
func (k KeyMap) Bindings() []key.Binding {
	return []key.Binding{k.Quit, k.Help, k.Log, k.ScrollUp, k.ScrollDown, k.Top, k.Bottom, k.Escape}
}
