package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultPollTimeout is how long Read waits for data before returning empty.
const DefaultPollTimeout = 100 * time.Millisecond

const pumpBufferSize = 32 * 1024

// Stream adapts a blocking reader/writer pair into a Source. A pump goroutine
// reads from the reader and hands chunks to Read, which waits for them with a
// timeout. Closing the stream runs the closer, which must unblock the reader.
type Stream struct {
	name   string
	r      io.Reader
	w      io.Writer
	closer func() error
	resize func(cols, rows int) error
	poll   time.Duration

	chunks chan []byte
	stop   chan struct{}
	done   chan struct{}

	// pumpErr is written by the pump before it closes chunks.
	pumpErr error

	// leftover holds the unread tail of the last chunk. Only Read touches it.
	leftover []byte

	writeMu   sync.Mutex
	alive     atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithPollTimeout sets how long Read waits for data. Non-positive values keep
// the default.
func WithPollTimeout(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithResize installs the window-size handler used by Resize.
func WithResize(fn func(cols, rows int) error) StreamOption {
	return func(s *Stream) {
		s.resize = fn
	}
}

// NewStream starts pumping r. name is used in logs and errors.
func NewStream(name string, r io.Reader, w io.Writer, closer func() error, opts ...StreamOption) *Stream {
	s := &Stream{
		name:   name,
		r:      r,
		w:      w,
		closer: closer,
		poll:   DefaultPollTimeout,
		chunks: make(chan []byte, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.alive.Store(true)
	go s.pump()
	return s
}

func (s *Stream) pump() {
	defer close(s.done)
	buf := make([]byte, pumpBufferSize)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.stop:
				return
			}
		}
		if err != nil {
			s.pumpErr = err
			close(s.chunks)
			return
		}
	}
}

func (s *Stream) Read(ctx context.Context, max int) ([]byte, error) {
	max = readSize(max)
	if len(s.leftover) > 0 {
		return s.take(max), nil
	}

	timer := time.NewTimer(s.poll)
	defer timer.Stop()

	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			s.alive.Store(false)
			if s.pumpErr == nil || errors.Is(s.pumpErr, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("channel %s: read: %w", s.name, s.pumpErr)
		}
		s.leftover = chunk
		return s.take(max), nil
	case <-timer.C:
		return nil, nil
	case <-s.stop:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Stream) take(max int) []byte {
	n := min(max, len(s.leftover))
	out := s.leftover[:n:n]
	s.leftover = s.leftover[n:]
	return out
}

func (s *Stream) Write(p []byte) (int, error) {
	if !s.alive.Load() {
		return 0, ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.w.Write(p)
	if err != nil {
		return n, fmt.Errorf("channel %s: write: %w", s.name, err)
	}
	return n, nil
}

// Resize forwards a window change, or returns errors.ErrUnsupported.
func (s *Stream) Resize(cols, rows int) error {
	if s.resize == nil {
		return errors.ErrUnsupported
	}
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("channel %s: invalid size %dx%d", s.name, cols, rows)
	}
	return s.resize(cols, rows)
}

func (s *Stream) Alive() bool {
	return s.alive.Load()
}

// Close runs the closer once and waits briefly for the pump to exit.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.alive.Store(false)
		close(s.stop)
		if s.closer != nil {
			s.closeErr = s.closer()
		}
		select {
		case <-s.done:
		case <-time.After(time.Second):
			zap.S().Warnf("[channel] %s: reader did not stop after close", s.name)
		}
	})
	return s.closeErr
}
