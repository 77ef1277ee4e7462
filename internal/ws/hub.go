package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/termstream/termstream/internal/render"
	"github.com/termstream/termstream/internal/session"
	"go.uber.org/zap"
)

var (
	ErrTooManyConnections = errors.New("ws: too many connections")
	ErrSessionEnded       = errors.New("ws: session ended")
)

const (
	writeWait         = 5 * time.Second
	defaultSendBuffer = 64
	defaultHistory    = 256
	// maxEndedSessions bounds how many ended session ids the hub remembers
	// for refusing late attaches and discarding late batches.
	maxEndedSessions = 1024
)

type client struct {
	conn      *websocket.Conn
	hub       *Hub
	sessionID string
	send      chan []byte
	closeOnce sync.Once
}

// writePump is the only writer on the connection. It exits when send is
// closed or a write fails, and always leaves the client removed from the hub.
func (c *client) writePump() {
	defer func() {
		c.conn.Close()
		c.hub.RemoveClient(c)
	}()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
		time.Now().Add(writeWait))
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// room is one session's attached viewers and its recent batches.
type room struct {
	clients map[*client]bool
	history []render.Batch
}

// Hub fans render batches out to the viewers attached to each session. It is
// the render.Consumer behind every session's delivery queue, so Consume never
// blocks: a viewer whose send buffer is full is disconnected.
//
// Frames are stamped and queued under mu, so every viewer receives frames in
// increasing seq order.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	rooms      map[string]*room
	ended      map[string]bool
	endedOrder []string // oldest first
	maxConns   int
	history    int
	buffer     int
	seq        uint64
}

// NewHub creates a hub. maxConns <= 0 means unlimited; history is the number
// of recent batches replayed to a viewer that attaches late.
func NewHub(maxConns, history int) *Hub {
	if history < 0 {
		history = 0
	}
	return &Hub{
		clients:  make(map[*client]bool),
		rooms:    make(map[string]*room),
		ended:    make(map[string]bool),
		maxConns: maxConns,
		history:  history,
		buffer:   defaultSendBuffer,
	}
}

// frameLocked stamps the next hub-wide seq on a frame. h.mu must be held.
func (h *Hub) frameLocked(t MessageType, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(WSMessage{Type: t, Seq: h.seq + 1, Payload: payload})
	if err != nil {
		return nil, err
	}
	h.seq++
	return data, nil
}

// markEndedLocked remembers id as ended, forgetting the oldest ended session
// once more than maxEndedSessions are held.
func (h *Hub) markEndedLocked(id string) {
	if h.ended[id] {
		return
	}
	h.ended[id] = true
	h.endedOrder = append(h.endedOrder, id)
	if over := len(h.endedOrder) - maxEndedSessions; over > 0 {
		for _, old := range h.endedOrder[:over] {
			delete(h.ended, old)
		}
		h.endedOrder = append(h.endedOrder[:0:0], h.endedOrder[over:]...)
	}
}

func (h *Hub) roomLocked(id string) *room {
	r, ok := h.rooms[id]
	if !ok {
		r = &room{clients: make(map[*client]bool)}
		h.rooms[id] = r
	}
	return r
}

// AddClient attaches conn to a session: it queues an attached message and
// the session's history, then registers the viewer for live batches, all
// before any later batch can be fanned out.
func (h *Hub) AddClient(conn *websocket.Conn, info session.Info) (*client, error) {
	h.mu.Lock()
	if h.maxConns > 0 && len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	if h.ended[info.ID] {
		h.mu.Unlock()
		return nil, ErrSessionEnded
	}
	r := h.roomLocked(info.ID)

	c := &client{
		conn:      conn,
		hub:       h,
		sessionID: info.ID,
		send:      make(chan []byte, len(r.history)+h.buffer),
	}
	attached, err := h.frameLocked(MsgAttached, AttachedPayload{Session: info, Replayed: len(r.history)})
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	c.send <- attached
	for _, b := range r.history {
		msg, err := h.frameLocked(MsgBatch, b)
		if err != nil {
			h.mu.Unlock()
			return nil, err
		}
		c.send <- msg
	}
	h.clients[c] = true
	r.clients[c] = true
	h.mu.Unlock()

	go c.writePump()
	return c, nil
}

func (h *Hub) RemoveClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if r, ok := h.rooms[c.sessionID]; ok {
		delete(r.clients, c)
	}
	c.close()
}

// Consume fans a batch out to the session's viewers and records it in the
// session history.
func (h *Hub) Consume(b render.Batch) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended[b.SessionID] {
		zap.S().Debugf("[ws] session %s: dropping batch %d after end", b.SessionID, b.Seq)
		return nil
	}
	data, err := h.frameLocked(MsgBatch, b)
	if err != nil {
		return err
	}
	r := h.roomLocked(b.SessionID)
	if h.history > 0 {
		r.history = append(r.history, b)
		if over := len(r.history) - h.history; over > 0 {
			r.history = append(r.history[:0:0], r.history[over:]...)
		}
	}
	for c := range r.clients {
		h.sendLocked(c, data)
	}
	return nil
}

// sendLocked never blocks. A viewer that cannot keep up is disconnected.
func (h *Hub) sendLocked(c *client, data []byte) {
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		zap.S().Warnf("[ws] viewer of session %s too slow, disconnecting", c.sessionID)
		h.removeLocked(c)
	}
}

// SendError reports a problem to one viewer.
func (h *Hub) SendError(c *client, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	data, err := h.frameLocked(MsgError, ErrorPayload{Message: message})
	if err != nil {
		return
	}
	h.sendLocked(c, data)
}

// EndSession tells the session's viewers it ended, detaches them and drops
// its history. Batches for the session that arrive later are discarded.
func (h *Hub) EndSession(p SessionEndedPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.markEndedLocked(p.SessionID)
	r, ok := h.rooms[p.SessionID]
	if !ok {
		return
	}
	delete(h.rooms, p.SessionID)
	data, err := h.frameLocked(MsgSessionEnded, p)
	if err != nil {
		zap.S().Errorf("[ws] marshal session_ended: %v", err)
		for c := range r.clients {
			h.removeLocked(c)
		}
		return
	}
	for c := range r.clients {
		select {
		case c.send <- data:
		default:
		}
		h.removeLocked(c)
	}
}

// Stop disconnects every viewer.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Viewers returns the number of viewers attached to a session.
func (h *Hub) Viewers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[sessionID]; ok {
		return len(r.clients)
	}
	return 0
}

// History returns how many batches a viewer attaching now would be replayed.
func (h *Hub) History(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[sessionID]; ok {
		return len(r.history)
	}
	return 0
}
