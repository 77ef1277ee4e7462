package render

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Queue limits.
const (
	DefaultMaxBatches = 64
	DefaultMaxTokens  = 64 * 1024
)

// ErrStalled reports that the consumer stopped draining and the overflow hit
// its token limit. The queue detaches from the consumer instead of growing
// without bound.
var ErrStalled = errors.New("render: sink stalled")

// Queue is a Sink that hands batches to a Consumer on its own goroutine.
// Deliver never blocks: batches wait in a FIFO of up to maxBatches, and past
// that in an overflow holding at most maxTokens tokens. A batch that would
// push the overflow over its limit stalls the queue: it is dropped along with
// every later delivery, ErrStalled goes to the stall hook once, and the
// batches already held are still handed to the consumer.
type Queue struct {
	consumer   Consumer
	maxBatches int
	maxTokens  int
	onStall    func(error)

	mu        sync.Mutex
	items     []Batch
	overflow  int // tokens held beyond maxBatches
	stalled   bool
	closed    bool
	delivered uint64
	failed    uint64
	dropped   uint64

	wake chan struct{}
	done chan struct{}
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithLimits sets the batch and token limits. Non-positive values keep the
// defaults.
func WithLimits(maxBatches, maxTokens int) QueueOption {
	return func(q *Queue) {
		if maxBatches > 0 {
			q.maxBatches = maxBatches
		}
		if maxTokens > 0 {
			q.maxTokens = maxTokens
		}
	}
}

// WithStallHook registers fn to be called, once and on its own goroutine,
// when the queue stalls.
func WithStallHook(fn func(error)) QueueOption {
	return func(q *Queue) {
		q.onStall = fn
	}
}

// NewQueue starts the delivery goroutine. Call Close to stop it.
func NewQueue(consumer Consumer, opts ...QueueOption) *Queue {
	q := &Queue{
		consumer:   consumer,
		maxBatches: DefaultMaxBatches,
		maxTokens:  DefaultMaxTokens,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.run()
	return q
}

// Deliver enqueues b for the consumer.
func (q *Queue) Deliver(b Batch) {
	q.mu.Lock()
	if q.closed || q.stalled {
		q.dropped++
		q.mu.Unlock()
		return
	}
	if len(q.items) >= q.maxBatches {
		if q.overflow+b.Len() > q.maxTokens {
			q.stalled = true
			q.dropped++
			held := len(q.items)
			hook := q.onStall
			q.mu.Unlock()

			zap.S().Warnf("[render] session %s: consumer stalled, overflow over %d tokens (%d batches held)",
				b.SessionID, q.maxTokens, held)
			if hook != nil {
				go hook(ErrStalled)
			}
			return
		}
		if q.overflow == 0 {
			zap.S().Debugf("[render] session %s: consumer behind, %d batches queued", b.SessionID, len(q.items))
		}
		q.overflow += b.Len()
	}
	q.items = append(q.items, b)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting batches. Batches already queued are still handed to
// the consumer; Done is closed once they have been.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Done is closed when the delivery goroutine has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Stalled reports whether the queue stopped accepting batches from a slow
// consumer.
func (q *Queue) Stalled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stalled
}

// Len returns the number of batches waiting for the consumer.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// QueueStats is a point-in-time view of a queue's counters.
type QueueStats struct {
	Queued    int    `json:"queued"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Stalled   bool   `json:"stalled"`
}

func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Queued:    len(q.items),
		Delivered: q.delivered,
		Failed:    q.failed,
		Dropped:   q.dropped,
		Stalled:   q.stalled,
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for range q.wake {
		q.mu.Lock()
		items := q.items
		q.items = nil
		q.overflow = 0
		closed := q.closed
		q.mu.Unlock()

		for _, b := range items {
			err := q.consume(b)
			q.mu.Lock()
			if err != nil {
				q.failed++
			} else {
				q.delivered++
			}
			q.mu.Unlock()
		}

		if closed {
			q.mu.Lock()
			empty := len(q.items) == 0
			q.mu.Unlock()
			if empty {
				return
			}
		}
	}
}

// consume isolates the consumer: an error or a panic is logged and the queue
// moves on to the next batch.
func (q *Queue) consume(b Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer panic: %v", r)
		}
		if err != nil {
			zap.S().Errorf("[render] session %s batch %d: %v", b.SessionID, b.Seq, err)
		}
	}()
	return q.consumer.Consume(b)
}
