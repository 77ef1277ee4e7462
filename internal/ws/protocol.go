package ws

import (
	"encoding/json"

	"github.com/termstream/termstream/internal/render"
	"github.com/termstream/termstream/internal/session"
)

type MessageType string

// Server to viewer.
const (
	MsgAttached     MessageType = "attached"
	MsgBatch        MessageType = "batch"
	MsgSessionEnded MessageType = "session_ended"
	MsgError        MessageType = "error"
)

// Viewer to server.
const (
	MsgInput  MessageType = "input"
	MsgResize MessageType = "resize"
)

// WSMessage is the envelope for every frame. Seq is a hub-wide frame counter,
// so it increases on every connection but is not contiguous per session. Use
// the batch Seq for per-session continuity.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq,omitempty"`
	Payload interface{} `json:"payload"`
}

// InboundMessage is a WSMessage with its payload left undecoded.
type InboundMessage struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type AttachedPayload struct {
	Session session.Info `json:"session"`
	// Replayed is the number of history batches that follow.
	Replayed int `json:"replayed"`
}

type BatchPayload = render.Batch

type SessionEndedPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
	Batches   uint64 `json:"batches"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type InputPayload struct {
	Data string `json:"data"`
}

type ResizePayload struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// OpenRequest is the body of POST /api/sessions.
type OpenRequest struct {
	Mode string `json:"mode"`
	Name string `json:"name,omitempty"`
}
