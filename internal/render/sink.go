// Package render defines the hand-off from a session's scheduler to the
// display layer.
package render

import (
	"time"

	"github.com/termstream/termstream/internal/decoder"
)

// Batch is an immutable, ordered group of tokens handed to the display layer
// exactly once.
type Batch struct {
	SessionID string          `json:"sessionId"`
	Seq       uint64          `json:"seq"`
	Tokens    []decoder.Token `json:"tokens"`
	// OpenedAt is the arrival time of the first token in the batch.
	OpenedAt  time.Time `json:"openedAt"`
	FlushedAt time.Time `json:"flushedAt"`
	// Final marks the batch flushed while the session was closing.
	Final bool `json:"final,omitempty"`
}

// Len returns the number of tokens in the batch.
func (b Batch) Len() int {
	return len(b.Tokens)
}

// Sink receives batches in flush order. Deliver must return promptly; it is
// called from the scheduler's timer goroutine and from session teardown.
type Sink interface {
	Deliver(Batch)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Batch)

func (f SinkFunc) Deliver(b Batch) { f(b) }

// Consumer is the slow side of a Queue. It may block and may fail; failures
// are logged and do not stop later deliveries.
type Consumer interface {
	Consume(Batch) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(Batch) error

func (f ConsumerFunc) Consume(b Batch) error { return f(b) }
