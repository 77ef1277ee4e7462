package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/termstream/termstream/internal/render"
	"github.com/termstream/termstream/internal/ws"
	"go.uber.org/zap"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// ErrSessionGone is reported when the server no longer knows the session.
var ErrSessionGone = errors.New("session is gone")

// WSClient manages the viewer connection for one session.
type WSClient struct {
	url string

	mu      sync.Mutex
	writeMu sync.Mutex // serialises all conn writes (ping, input, resize)
	conn    *websocket.Conn
	seq     uint64
	pingCtx context.CancelFunc // cancels the active ping goroutine
}

// NewWSClient creates a client for the session behind baseURL
// (e.g. "ws://127.0.0.1:8080/ws").
func NewWSClient(baseURL, sessionID, token string) (*WSClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("session", sessionID)
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return &WSClient{url: u.String()}, nil
}

// --- Bubble Tea messages ---

// WSConnectedMsg is sent when the WebSocket connects.
type WSConnectedMsg struct{}

// WSDisconnectedMsg is sent when the connection drops.
type WSDisconnectedMsg struct{ Err error }

// WSGoneMsg is sent instead of reconnecting when the session no longer exists.
type WSGoneMsg struct{ Err error }

// WSAttachedMsg confirms the attach and announces the history replay.
type WSAttachedMsg struct{ Payload ws.AttachedPayload }

// WSBatchMsg delivers one render batch.
type WSBatchMsg struct{ Batch render.Batch }

// WSSessionEndedMsg is sent when the session ends on the server.
type WSSessionEndedMsg struct{ Payload ws.SessionEndedPayload }

// WSErrorMsg wraps a server-side error.
type WSErrorMsg struct{ Message string }

// Listen returns a Bubble Tea command that connects. It retries with backoff
// until ctx is done or the server reports the session missing.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := reconnectBaseDelay
		for {
			conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
			if err != nil {
				if resp != nil && resp.StatusCode == http.StatusNotFound {
					return WSGoneMsg{Err: ErrSessionGone}
				}
				zap.S().Warnf("[client] ws dial error: %v (retry in %v)", err, delay)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
				delay = min(delay*2, reconnectMaxDelay)
				continue
			}

			// Cancel any previous ping goroutine.
			c.mu.Lock()
			if c.pingCtx != nil {
				c.pingCtx()
			}
			pingCtx, pingCancel := context.WithCancel(ctx)
			c.conn = conn
			c.seq = 0
			c.pingCtx = pingCancel
			c.mu.Unlock()

			go c.pingLoop(pingCtx, conn)

			return WSConnectedMsg{}
		}
	}
}

// ReadLoop returns a Bubble Tea command that reads the next message from the
// connection. It should be started after WSConnectedMsg and re-issued after
// every message it delivers.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return WSDisconnectedMsg{Err: fmt.Errorf("no connection")}
		}

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return WSDisconnectedMsg{Err: err}
			}

			var msg ws.InboundMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}

			c.mu.Lock()
			c.seq = msg.Seq
			c.mu.Unlock()

			if teaMsg := dispatch(msg); teaMsg != nil {
				return teaMsg
			}
		}
	}
}

// pingLoop sends periodic pings on the given connection. It exits when the
// context is cancelled or the connection changes.
func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// SendInput forwards keystrokes to the session.
func (c *WSClient) SendInput(data string) error {
	return c.send(ws.MsgInput, ws.InputPayload{Data: data})
}

// SendResize reports the viewer's terminal size.
func (c *WSClient) SendResize(cols, rows int) error {
	return c.send(ws.MsgResize, ws.ResizePayload{Cols: cols, Rows: rows})
}

func (c *WSClient) send(t ws.MessageType, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(ws.WSMessage{Type: t, Payload: payload})
}

// Seq returns the last seen frame sequence number.
func (c *WSClient) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Close drops the connection and stops pinging.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.pingCtx != nil {
		c.pingCtx()
		c.pingCtx = nil
	}
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	c.writeMu.Unlock()
	return conn.Close()
}

func dispatch(msg ws.InboundMessage) tea.Msg {
	switch msg.Type {
	case ws.MsgAttached:
		var p ws.AttachedPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSAttachedMsg{Payload: p}
		}
	case ws.MsgBatch:
		var b render.Batch
		if json.Unmarshal(msg.Payload, &b) == nil {
			return WSBatchMsg{Batch: b}
		}
	case ws.MsgSessionEnded:
		var p ws.SessionEndedPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSSessionEndedMsg{Payload: p}
		}
	case ws.MsgError:
		var p ws.ErrorPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSErrorMsg{Message: p.Message}
		}
	}
	return nil
}
