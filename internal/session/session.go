// Package session owns terminal session lifecycles: each session runs one
// read loop that pulls bytes from its channel source, decodes them and feeds
// the tokens to its batch scheduler, which flushes render batches into a
// bounded delivery queue.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/termstream/termstream/internal/batch"
	"github.com/termstream/termstream/internal/channel"
	"github.com/termstream/termstream/internal/decoder"
	"github.com/termstream/termstream/internal/render"
	"go.uber.org/zap"
)

// Session is one open terminal. Only the Controller creates and destroys
// sessions.
type Session struct {
	id        string
	name      string
	mode      string
	createdAt time.Time

	src   channel.Source
	dec   *decoder.Decoder
	sched *batch.Scheduler
	queue *render.Queue

	readSize     int
	drainTimeout time.Duration

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
	// reason is written once before done is closed.
	reason error
}

// Info is a point-in-time view of a session.
type Info struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Mode      string            `json:"mode"`
	CreatedAt time.Time         `json:"createdAt"`
	Alive     bool              `json:"alive"`
	Batches   uint64            `json:"batches"`
	Pending   int               `json:"pending"`
	Queue     render.QueueStats `json:"queue"`
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Name() string { return s.name }
func (s *Session) Mode() string { return s.mode }

// Done is closed after teardown has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended, or nil while it is running.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.reason
	default:
		return nil
	}
}

func (s *Session) Info() Info {
	alive := true
	select {
	case <-s.done:
		alive = false
	default:
	}
	return Info{
		ID:        s.id,
		Name:      s.name,
		Mode:      s.mode,
		CreatedAt: s.createdAt,
		Alive:     alive,
		Batches:   s.sched.Flushed(),
		Pending:   s.sched.Pending(),
		Queue:     s.queue.Stats(),
	}
}

// readLoop reads, decodes and schedules until the source ends or the session
// is cancelled. Reads and decodes never overlap.
func (s *Session) readLoop() error {
	for {
		if s.ctx.Err() != nil {
			return context.Cause(s.ctx)
		}
		if !s.src.Alive() {
			return io.EOF
		}

		chunk, err := s.src.Read(s.ctx, s.readSize)
		if len(chunk) > 0 {
			if addErr := s.sched.Add(s.dec.Decode(chunk)...); addErr != nil {
				return addErr
			}
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return context.Cause(s.ctx)
			}
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// teardown runs once after the read loop: it surfaces bytes still held by
// the decoder, makes the scheduler's single close flush, releases the source
// and waits a bounded time for the queue to hand the last batches over.
func (s *Session) teardown() {
	if tail := s.dec.Flush(); len(tail) > 0 {
		if err := s.sched.Add(tail...); err != nil {
			zap.S().Errorf("[session] %s: dropping %d tail tokens: %v", s.id, len(tail), err)
		}
	}
	s.sched.Close()

	if err := s.src.Close(); err != nil {
		zap.S().Warnf("[session] %s: close source: %v", s.id, err)
	}

	s.queue.Close()
	select {
	case <-s.queue.Done():
	case <-time.After(s.drainTimeout):
		zap.S().Warnf("[session] %s: render queue did not drain within %v", s.id, s.drainTimeout)
	}
}

// reasonString maps a termination cause to the short reason reported in
// EventEnded.
func reasonString(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, io.EOF):
		return "eof"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	case errors.Is(err, render.ErrStalled):
		return "stalled"
	}
	return err.Error()
}
