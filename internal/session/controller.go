package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/termstream/termstream/internal/batch"
	"github.com/termstream/termstream/internal/channel"
	"github.com/termstream/termstream/internal/decoder"
	"github.com/termstream/termstream/internal/render"
	"go.uber.org/zap"
)

var (
	ErrNotFound  = errors.New("session: not found")
	ErrDuplicate = errors.New("session: duplicate id")
	// ErrClosed is the cause recorded when a session is closed on request.
	ErrClosed = errors.New("session: closed")
	// ErrShutdown is the cause recorded for sessions ended by CloseAll, and
	// the error Open returns afterwards.
	ErrShutdown = errors.New("session: controller shut down")
)

// Options tunes the pipeline of every session the controller opens.
type Options struct {
	Window       time.Duration // coalescing window D
	ReadSize     int
	MaxBatches   int // render queue batch limit
	MaxTokens    int // render queue token limit
	DrainTimeout time.Duration
	EventBuffer  int
	// MaxSequence bounds a control sequence before the decoder gives up on it.
	MaxSequence int
}

// DefaultOptions returns the pipeline defaults.
func DefaultOptions() Options {
	return Options{
		Window:       batch.DefaultWindow,
		ReadSize:     channel.DefaultReadSize,
		MaxBatches:   render.DefaultMaxBatches,
		MaxTokens:    render.DefaultMaxTokens,
		DrainTimeout: 2 * time.Second,
		EventBuffer:  256,
		MaxSequence:  decoder.DefaultMaxSequence,
	}
}

// Spec describes a session to open.
type Spec struct {
	// ID is generated when empty.
	ID string
	// Name defaults to "Terminal N".
	Name string
	// Mode labels the source kind ("mock", "ssh", "local").
	Mode     string
	Source   channel.Source
	Consumer render.Consumer
}

// Controller creates, tracks and tears down sessions.
type Controller struct {
	opts  Options
	store *Store

	events        chan Event
	droppedEvents atomic.Uint64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewController(opts Options) *Controller {
	def := DefaultOptions()
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = def.ReadSize
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = def.DrainTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = def.EventBuffer
	}
	if opts.MaxSequence <= 0 {
		opts.MaxSequence = def.MaxSequence
	}
	return &Controller{
		opts:   opts,
		store:  NewStore(),
		events: make(chan Event, opts.EventBuffer),
	}
}

// Events delivers lifecycle events. It is closed by CloseAll once every
// session has ended. Events are dropped, and counted, when the buffer is
// full.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// DroppedEvents returns how many events were dropped on a full buffer.
func (c *Controller) DroppedEvents() uint64 {
	return c.droppedEvents.Load()
}

// Open registers a session and starts its read loop. On error the source is
// left open for the caller.
func (c *Controller) Open(spec Spec) (*Session, error) {
	if spec.Source == nil || spec.Consumer == nil {
		return nil, errors.New("session: source and consumer are required")
	}
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	s := &Session{
		id:           id,
		name:         spec.Name,
		mode:         spec.Mode,
		createdAt:    time.Now(),
		src:          spec.Source,
		dec:          decoder.New(decoder.WithMaxSequence(c.opts.MaxSequence)),
		readSize:     c.opts.ReadSize,
		drainTimeout: c.opts.DrainTimeout,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	s.queue = render.NewQueue(spec.Consumer,
		render.WithLimits(c.opts.MaxBatches, c.opts.MaxTokens),
		render.WithStallHook(func(err error) { cancel(err) }),
	)
	s.sched = batch.New(id, s.queue, batch.WithWindow(c.opts.Window))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.abandon()
		return nil, ErrShutdown
	}
	if err := c.store.Add(s); err != nil {
		c.mu.Unlock()
		s.abandon()
		return nil, err
	}
	c.wg.Add(1)
	c.mu.Unlock()

	zap.S().Infof("[session] %s (%s, %s): opened", s.id, s.name, s.mode)
	c.emit(Event{Type: EventOpened, Info: s.Info(), At: time.Now()})
	go c.run(s)
	return s, nil
}

// abandon releases a session that was never started.
func (s *Session) abandon() {
	s.cancel(ErrClosed)
	s.sched.Close()
	s.queue.Close()
	<-s.queue.Done()
}

func (c *Controller) run(s *Session) {
	defer c.wg.Done()

	reason := s.readLoop()
	s.cancel(reason)
	s.teardown()
	c.store.Remove(s.id)

	s.reason = reason
	info := s.Info()
	info.Alive = false
	close(s.done)

	zap.S().Infof("[session] %s: ended (%s), %d batches", s.id, reasonString(reason), info.Batches)
	c.emit(Event{Type: EventEnded, Info: info, Reason: reasonString(reason), At: time.Now()})
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.droppedEvents.Add(1)
		zap.S().Warnf("[session] event buffer full, dropped %s event for %s", ev.Type, ev.Info.ID)
	}
}

// Get returns the session with the given id.
func (c *Controller) Get(id string) (*Session, error) {
	s, ok := c.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s, nil
}

// List returns snapshots of the open sessions, oldest first.
func (c *Controller) List() []Info {
	sessions := c.store.GetAll()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// Count returns the number of open sessions.
func (c *Controller) Count() int {
	return c.store.Count()
}

// Write forwards input to the session's source.
func (c *Controller) Write(id string, p []byte) error {
	s, err := c.Get(id)
	if err != nil {
		return err
	}
	if _, err := s.src.Write(p); err != nil {
		return fmt.Errorf("session %s: write: %w", id, err)
	}
	return nil
}

// Resize changes the session's window size if its source supports it.
func (c *Controller) Resize(id string, cols, rows int) error {
	s, err := c.Get(id)
	if err != nil {
		return err
	}
	r, ok := s.src.(channel.Resizer)
	if !ok {
		return fmt.Errorf("session %s: resize: %w", id, errors.ErrUnsupported)
	}
	if err := r.Resize(cols, rows); err != nil {
		return fmt.Errorf("session %s: resize: %w", id, err)
	}
	return nil
}

// Close ends the session and waits until its teardown, including the final
// flush, has finished or ctx is done.
func (c *Controller) Close(ctx context.Context, id string) error {
	s, err := c.Get(id)
	if err != nil {
		return err
	}
	s.cancel(ErrClosed)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseAll ends every session, waits for their teardown and closes the
// event channel. Open fails afterwards.
func (c *Controller) CloseAll() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	for _, s := range c.store.GetAll() {
		s.cancel(ErrShutdown)
	}
	c.wg.Wait()
	close(c.events)
}
