package app

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	"github.com/termstream/termstream/internal/session"
	"github.com/termstream/termstream/internal/tui/client"
	"github.com/termstream/termstream/internal/tui/screen"
	"github.com/termstream/termstream/internal/tui/theme"
	"github.com/termstream/termstream/internal/tui/views/eventlog"
	"github.com/termstream/termstream/internal/tui/views/help"
	"github.com/termstream/termstream/internal/tui/views/status"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayHelp
	OverlayLog
)

const scrollFPS = 60

type scrollTickMsg struct{}

type sendErrMsg struct{ err error }

// Terminal is the viewer's connection to one session.
type Terminal interface {
	Listen(ctx context.Context) tea.Cmd
	ReadLoop(ctx context.Context) tea.Cmd
	SendInput(data string) error
	SendResize(cols, rows int) error
	Close() error
}

var _ Terminal = (*client.WSClient)(nil)

// Model is the root Bubble Tea model.
type Model struct {
	term   Terminal
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	screen   *screen.Screen
	viewport viewport.Model
	follow   bool

	// Spring-animated scrolling between viewport offsets.
	spring       harmonica.Spring
	scrollPos    float64
	scrollVel    float64
	scrollTarget float64
	animating    bool

	overlay   Overlay
	statusBar status.Model
	log       eventlog.Model
	help      help.Model

	connected bool
	ended     bool
}

// New creates the root model for a session. info may be partial; the attach
// message fills it in.
func New(term Terminal, info session.Info) Model {
	ctx, cancel := context.WithCancel(context.Background())
	keys := DefaultKeyMap()
	m := Model{
		term:      term,
		ctx:       ctx,
		cancel:    cancel,
		keys:      keys,
		screen:    screen.New(screen.DefaultScrollback),
		viewport:  viewport.New(0, 0),
		follow:    true,
		spring:    harmonica.NewSpring(harmonica.FPS(scrollFPS), 8.0, 1.0),
		statusBar: status.New(),
		log:       eventlog.New(),
		help:      help.New(keys.Bindings()),
	}
	m.statusBar.Session = info
	return m
}

// Init starts the WebSocket connection.
func (m Model) Init() tea.Cmd {
	if m.term == nil {
		return nil
	}
	return m.term.Listen(m.ctx)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-status.Height, 1)
		m.help.SetWidth(msg.Width)
		m.refresh()
		return m, m.sendResize()

	case tea.KeyMsg:
		return m.handleKey(msg)

	case scrollTickMsg:
		return m, m.animateScroll()

	case sendErrMsg:
		m.log.Addf(eventlog.KindError, "send: %v", msg.err)
		return m, nil

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.log.Addf(eventlog.KindConn, "connected")
		return m, tea.Batch(m.term.ReadLoop(m.ctx), m.sendResize())

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		if m.ended {
			m.log.Addf(eventlog.KindConn, "connection closed")
			return m, nil
		}
		m.log.Addf(eventlog.KindConn, "disconnected: %v", msg.Err)
		return m, m.term.Listen(m.ctx)

	case client.WSGoneMsg:
		m.connected = false
		m.statusBar.Connected = false
		m.markEnded("gone")
		m.log.Addf(eventlog.KindSession, "session no longer exists on the server")
		return m, nil

	case client.WSAttachedMsg:
		// History replay follows, so start from a clean screen.
		m.screen = screen.New(screen.DefaultScrollback)
		m.statusBar.Session = msg.Payload.Session
		m.log.Addf(eventlog.KindSession, "attached to %s, replaying %d batches",
			msg.Payload.Session.Name, msg.Payload.Replayed)
		m.refresh()
		return m, m.term.ReadLoop(m.ctx)

	case client.WSBatchMsg:
		m.screen.Apply(msg.Batch.Tokens)
		m.statusBar.Record(msg.Batch.Seq, len(msg.Batch.Tokens))
		m.refresh()
		return m, m.term.ReadLoop(m.ctx)

	case client.WSSessionEndedMsg:
		m.markEnded(msg.Payload.Reason)
		m.log.Addf(eventlog.KindSession, "session ended (%s) after %d batches",
			msg.Payload.Reason, msg.Payload.Batches)
		return m, m.term.ReadLoop(m.ctx)

	case client.WSErrorMsg:
		m.log.Addf(eventlog.KindError, "%s", msg.Message)
		return m, m.term.ReadLoop(m.ctx)
	}

	return m, nil
}

func (m *Model) markEnded(reason string) {
	m.ended = true
	m.statusBar.Ended = true
	m.statusBar.Reason = reason
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.cancel()
		if m.term != nil {
			m.term.Close()
		}
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
		case m.overlay == OverlayLog && key.Matches(msg, m.keys.ScrollUp):
			m.log.Scroll(5)
		case m.overlay == OverlayLog && key.Matches(msg, m.keys.ScrollDown):
			m.log.Scroll(-5)
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Help):
		m.overlay = OverlayHelp
		return m, nil

	case key.Matches(msg, m.keys.Log):
		m.overlay = OverlayLog
		return m, nil

	case key.Matches(msg, m.keys.ScrollUp):
		return m, m.scrollTo(m.viewport.YOffset - m.viewport.Height/2)

	case key.Matches(msg, m.keys.ScrollDown):
		return m, m.scrollTo(m.viewport.YOffset + m.viewport.Height/2)

	case key.Matches(msg, m.keys.Top):
		return m, m.scrollTo(0)

	case key.Matches(msg, m.keys.Bottom):
		return m, m.scrollTo(m.maxOffset())
	}

	data := keyInput(msg)
	if data == "" || m.ended || m.term == nil {
		return m, nil
	}
	if !m.follow {
		m.follow = true
		m.animating = false
		m.statusBar.Following = true
		m.viewport.GotoBottom()
	}
	term := m.term
	return m, func() tea.Msg {
		if err := term.SendInput(data); err != nil {
			return sendErrMsg{err: err}
		}
		return nil
	}
}

func (m Model) sendResize() tea.Cmd {
	if m.term == nil || !m.connected || m.width == 0 {
		return nil
	}
	term, cols, rows := m.term, m.viewport.Width, m.viewport.Height
	return func() tea.Msg {
		if err := term.SendResize(cols, rows); err != nil {
			return sendErrMsg{err: err}
		}
		return nil
	}
}

// refresh re-renders the screen into the viewport.
func (m *Model) refresh() {
	m.viewport.SetContent(strings.Join(m.screen.Render(m.viewport.Width), "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m Model) maxOffset() int {
	return max(m.viewport.TotalLineCount()-m.viewport.Height, 0)
}

// scrollTo starts, or retargets, a spring animation toward offset.
func (m *Model) scrollTo(offset int) tea.Cmd {
	offset = max(0, min(offset, m.maxOffset()))
	m.scrollTarget = float64(offset)
	m.follow = offset == m.maxOffset()
	m.statusBar.Following = m.follow
	if m.animating {
		return nil
	}
	m.animating = true
	m.scrollPos = float64(m.viewport.YOffset)
	m.scrollVel = 0
	return scrollTick()
}

func scrollTick() tea.Cmd {
	return tea.Tick(time.Second/scrollFPS, func(time.Time) tea.Msg { return scrollTickMsg{} })
}

func (m *Model) animateScroll() tea.Cmd {
	if !m.animating {
		return nil
	}
	m.scrollPos, m.scrollVel = m.spring.Update(m.scrollPos, m.scrollVel, m.scrollTarget)
	if math.Abs(m.scrollPos-m.scrollTarget) < 0.5 && math.Abs(m.scrollVel) < 0.5 {
		m.animating = false
		m.viewport.SetYOffset(int(m.scrollTarget))
		if m.follow {
			m.viewport.GotoBottom()
		}
		return nil
	}
	m.viewport.SetYOffset(int(math.Round(m.scrollPos)))
	return scrollTick()
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	bodyHeight := max(m.height-status.Height, 1)
	var body string
	switch {
	case m.overlay == OverlayHelp:
		body = m.help.View(m.width, bodyHeight)
	case m.overlay == OverlayLog:
		body = m.log.View(m.width, bodyHeight)
	case !m.connected && !m.ended:
		body = lipgloss.Place(m.width, bodyHeight, lipgloss.Center, lipgloss.Center, m.disconnectedBox())
	default:
		body = m.viewport.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left, m.statusBar.View(), body)
}

func (m Model) disconnectedBox() string {
	name := m.statusBar.Session.Name
	if name == "" {
		name = "session"
	}
	content := lipgloss.JoinVertical(lipgloss.Center,
		lipgloss.NewStyle().Bold(true).Foreground(theme.ColorDanger).Render("DISCONNECTED"),
		theme.StyleDimmed.Render("Reconnecting to "+name+"..."),
		theme.StyleDimmed.Render("f2:event log  ctrl+q:quit"),
	)
	return theme.StyleBorder.Padding(1, 3).Render(content)
}
