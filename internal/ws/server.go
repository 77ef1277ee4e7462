package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/termstream/termstream/internal/channel"
	"github.com/termstream/termstream/internal/config"
	"github.com/termstream/termstream/internal/session"
	"go.uber.org/zap"
)

// ErrUnknownMode is returned by a SourceFactory for a mode it cannot open.
var ErrUnknownMode = errors.New("unknown session mode")

const (
	maxInputMessageSize = 64 * 1024
	maxOpenRequestSize  = 4 * 1024
	maxResizeCols       = 500
	maxResizeRows       = 500
	closeTimeout        = 5 * time.Second
)

// SourceFactory opens the channel source for a new session.
type SourceFactory func(ctx context.Context, mode string) (channel.Source, error)

type Server struct {
	ctrl           *session.Controller
	hub            *Hub
	open           SourceFactory
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	started        time.Time
}

func NewServer(cfg config.ServerConfig, ctrl *session.Controller, hub *Hub, open SourceFactory) *Server {
	s := &Server{
		ctrl:           ctrl,
		hub:            hub,
		open:           open,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.AuthToken,
		started:        time.Now(),
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("GET /api/sessions", s.handleList)
	mux.HandleFunc("POST /api/sessions", s.handleOpen)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleClose)
	mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Handler returns the routed API with security headers applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

// WatchEvents forwards session endings to attached viewers. It returns when
// the controller's event channel is closed.
func (s *Server) WatchEvents() {
	for ev := range s.ctrl.Events() {
		switch ev.Type {
		case session.EventOpened:
			zap.S().Debugf("[ws] session %s opened", ev.Info.ID)
		case session.EventEnded:
			s.hub.EndSession(SessionEndedPayload{
				SessionID: ev.Info.ID,
				Reason:    ev.Reason,
				Batches:   ev.Info.Batches,
			})
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sess, err := s.ctrl.Get(r.URL.Query().Get("session"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Warnf("[ws] upgrade error: %v", err)
		return
	}

	c, err := s.hub.AddClient(conn, sess.Info())
	if err != nil {
		code := websocket.CloseTryAgainLater
		if errors.Is(err, ErrSessionEnded) {
			code = websocket.CloseNormalClosure
		}
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		zap.S().Warnf("[ws] rejected viewer %s for session %s: %v", r.RemoteAddr, sess.ID(), err)
		return
	}

	zap.S().Infof("[ws] viewer %s attached to session %s", r.RemoteAddr, sess.ID())
	go s.readPump(c, r.RemoteAddr)
}

// readPump handles viewer input until the connection fails or closes.
func (s *Server) readPump(c *client, remote string) {
	defer func() {
		s.hub.RemoveClient(c)
		zap.S().Infof("[ws] viewer %s detached from session %s", remote, c.sessionID)
	}()

	c.conn.SetReadLimit(maxInputMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if err := s.handleInbound(c.sessionID, data); err != nil {
			s.hub.SendError(c, err.Error())
		}
	}
}

func (s *Server) handleInbound(sessionID string, data []byte) error {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	switch msg.Type {
	case MsgInput:
		var p InputPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid input payload: %w", err)
		}
		return s.ctrl.Write(sessionID, []byte(p.Data))
	case MsgResize:
		var p ResizePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid resize payload: %w", err)
		}
		if p.Cols <= 0 || p.Rows <= 0 || p.Cols > maxResizeCols || p.Rows > maxResizeRows {
			return fmt.Errorf("resize %dx%d out of range", p.Cols, p.Rows)
		}
		return s.ctrl.Resize(sessionID, p.Cols, p.Rows)
	}
	return fmt.Errorf("unknown message type %q", msg.Type)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.List())
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req OpenRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOpenRequestSize)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Mode == "" {
		req.Mode = "mock"
	}

	src, err := s.open(r.Context(), req.Mode)
	if err != nil {
		if errors.Is(err, ErrUnknownMode) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		zap.S().Errorf("[ws] open %s source: %v", req.Mode, err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	sess, err := s.ctrl.Open(session.Spec{Name: req.Name, Mode: req.Mode, Source: src, Consumer: s.hub})
	if err != nil {
		src.Close()
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrShutdown) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess.Info())
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), closeTimeout)
	defer cancel()
	err := s.ctrl.Close(ctx, r.PathValue("id"))
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case err != nil:
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := collectHealth(s.started)
	h.Sessions = s.ctrl.Count()
	h.Viewers = s.hub.ClientCount()
	h.DroppedEvents = s.ctrl.DroppedEvents()
	writeJSON(w, http.StatusOK, h)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorPayload{Message: message})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Termstream-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// NewHTTPServer binds the handler to host:port.
func NewHTTPServer(host string, port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
