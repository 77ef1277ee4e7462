package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/termstream/termstream/internal/config"
	"github.com/termstream/termstream/internal/logging"
	"github.com/termstream/termstream/internal/session"
	"github.com/termstream/termstream/internal/tui/app"
	"github.com/termstream/termstream/internal/tui/client"
	"go.uber.org/zap"
)

func main() {
	wsURL := flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL of the termstream server")
	token := flag.String("token", os.Getenv("TERMSTREAM_TOKEN"), "Auth token (if the server requires it)")
	sessionID := flag.String("session", "", "Attach to an existing session instead of opening one")
	mode := flag.String("mode", "mock", "Source mode for a new session (mock, ssh, local)")
	name := flag.String("name", "", "Name for a new session")
	logFile := flag.String("log", "", "Write debug logs to this file")
	flag.Parse()

	if *logFile != "" {
		flush, err := logging.Install(config.LogConfig{Level: "debug"}, *logFile)
		if err != nil {
			fatal(err)
		}
		defer flush()
	}

	httpClient := client.NewHTTPClient(deriveHTTPBase(*wsURL), *token)
	info, err := resolveSession(httpClient, *sessionID, *mode, *name)
	if err != nil {
		fatal(err)
	}
	zap.S().Infof("[tui] viewing %s (%s)", info.Name, info.ID)

	ws, err := client.NewWSClient(*wsURL, info.ID, *token)
	if err != nil {
		fatal(err)
	}

	m := app.New(ws, *info)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fatal(err)
	}
}

// resolveSession finds the session to attach to, opening a new one when no
// id is given.
func resolveSession(c *client.HTTPClient, id, mode, name string) (*session.Info, error) {
	if id == "" {
		return c.OpenSession(mode, name)
	}
	sessions, err := c.ListSessions()
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].ID == id || sessions[i].Name == id {
			return &sessions[i], nil
		}
	}
	return nil, fmt.Errorf("no session %q on the server", id)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// deriveHTTPBase converts ws://host:port/ws → http://host:port
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "http://127.0.0.1:8080"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
