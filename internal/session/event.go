package session

import (
	"encoding/json"
	"time"
)

// EventType classifies session lifecycle events.
type EventType int

const (
	EventOpened EventType = iota // read loop started
	EventEnded                   // teardown finished, final batch delivered
)

var eventNames = map[EventType]string{
	EventOpened: "opened",
	EventEnded:  "ended",
}

func (e EventType) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return "unknown"
}

func (e EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// Event carries a session snapshot to observers.
type Event struct {
	Type EventType `json:"type"`
	Info Info      `json:"session"`
	// Reason is set on EventEnded: "eof", "closed", "stalled", "shutdown"
	// or a read error message.
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}
