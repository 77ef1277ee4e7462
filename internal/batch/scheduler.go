// Package batch coalesces decoded tokens into time-windowed render batches.
//
// The first token added to an empty batch arms a one-shot timer for the
// window; tokens added before it fires join the same batch. When the timer
// fires the pending batch is taken and cleared in one step and handed to the
// sink. A producer bursting hundreds of chunks per second therefore causes at
// most one flush per window.
package batch

import (
	"errors"
	"sync"
	"time"

	"github.com/termstream/termstream/internal/decoder"
	"github.com/termstream/termstream/internal/render"
	"go.uber.org/zap"
)

// DefaultWindow is the coalescing window D.
const DefaultWindow = 50 * time.Millisecond

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("batch: scheduler closed")

// Timer is the part of *time.Timer the scheduler uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Scheduler owns one session's pending batch and flush timer.
type Scheduler struct {
	sessionID string
	window    time.Duration
	sink      render.Sink
	afterFunc AfterFunc
	now       func() time.Time

	mu       sync.Mutex
	pending  []decoder.Token
	openedAt time.Time
	timer    Timer
	// gen identifies the armed timer. A callback whose generation no longer
	// matches was cancelled and does nothing.
	gen    uint64
	seq    uint64
	closed bool

	// deliverMu is taken before mu is released so batches reach the sink in
	// the order they were taken.
	deliverMu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWindow sets the coalescing window. Non-positive values keep the default.
func WithWindow(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithAfterFunc replaces the timer source.
func WithAfterFunc(fn AfterFunc) Option {
	return func(s *Scheduler) {
		s.afterFunc = fn
	}
}

// WithClock replaces the time source used to stamp batches.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(sessionID string, sink render.Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sessionID: sessionID,
		window:    DefaultWindow,
		sink:      sink,
		afterFunc: realAfterFunc,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add appends tokens to the pending batch in order, arming the flush timer if
// the batch was empty.
func (s *Scheduler) Add(tokens ...decoder.Token) error {
	if len(tokens) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if len(s.pending) == 0 {
		s.openedAt = s.now()
		s.gen++
		gen := s.gen
		s.timer = s.afterFunc(s.window, func() { s.fire(gen) })
	}
	s.pending = append(s.pending, tokens...)
	return nil
}

// Close cancels the armed timer and flushes the pending batch, if any, as a
// final batch. It reports whether a batch was flushed. Only the first call
// does anything; after it returns the sink receives nothing more from this
// scheduler.
func (s *Scheduler) Close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.gen++
	s.stopTimerLocked()

	flush := len(s.pending) > 0
	var b render.Batch
	if flush {
		b = s.takeLocked(true)
	}
	// Waiting on deliverMu also lets a flush that was taken before Close
	// finish reaching the sink before Close returns.
	s.deliverMu.Lock()
	s.mu.Unlock()

	if flush {
		s.deliver(b)
	}
	s.deliverMu.Unlock()
	return flush
}

// Armed reports whether a flush timer is pending.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Pending returns the number of tokens waiting for the next flush.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flushed returns the number of batches handed to the sink.
func (s *Scheduler) Flushed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen || len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	b := s.takeLocked(false)
	s.deliverMu.Lock()
	s.mu.Unlock()

	s.deliver(b)
	s.deliverMu.Unlock()
}

// takeLocked swaps out the pending batch. Caller must hold s.mu.
func (s *Scheduler) takeLocked(final bool) render.Batch {
	s.seq++
	b := render.Batch{
		SessionID: s.sessionID,
		Seq:       s.seq,
		Tokens:    s.pending,
		OpenedAt:  s.openedAt,
		FlushedAt: s.now(),
		Final:     final,
	}
	s.pending = nil
	s.openedAt = time.Time{}
	s.timer = nil
	return b
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// deliver shields the scheduler from a failing sink.
func (s *Scheduler) deliver(b render.Batch) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("[batch] session %s: sink panic on batch %d: %v", s.sessionID, b.Seq, r)
		}
	}()
	s.sink.Deliver(b)
}
