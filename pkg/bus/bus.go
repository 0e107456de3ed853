// HookClaw - Telegram webhook gateway
// License: MIT

package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/zhaopengme/hookclaw/pkg/update"
)

var (
	ErrQueueClosed = errors.New("update queue is closed")
	ErrQueueFull   = errors.New("update queue is full")
)

type Option func(*UpdateQueue)

// WithLimit bounds the queue. Publishing to a full bounded queue fails with
// ErrQueueFull instead of blocking the producer. n <= 0 keeps it unbounded.
func WithLimit(n int) Option {
	return func(q *UpdateQueue) {
		if n > 0 {
			q.limit = n
		}
	}
}

// UpdateQueue is an unbounded FIFO with many producers and one consumer.
// Producers never wait for the consumer; the consumer parks on notify while
// the queue is empty.
type UpdateQueue struct {
	mu      sync.Mutex
	items   []update.Envelope
	head    int
	seq     uint64
	limit   int
	closed  bool
	notify  chan struct{}
	closing chan struct{}
}

func NewUpdateQueue(opts ...Option) *UpdateQueue {
	q := &UpdateQueue{
		notify:  make(chan struct{}, 1),
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Publish appends env and returns it with its arrival sequence set.
func (q *UpdateQueue) Publish(env update.Envelope) (update.Envelope, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return env, ErrQueueClosed
	}
	if q.limit > 0 && q.lenLocked() >= q.limit {
		q.mu.Unlock()
		return env, ErrQueueFull
	}
	q.seq++
	env.Seq = q.seq
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return env, nil
}

// Consume returns the oldest envelope. It reports false when ctx is done, or
// once the queue has been closed and everything queued before Close has been
// handed out.
func (q *UpdateQueue) Consume(ctx context.Context) (update.Envelope, bool) {
	for {
		q.mu.Lock()
		if q.lenLocked() > 0 {
			env := q.items[q.head]
			q.items[q.head] = update.Envelope{}
			q.head++
			if q.head == len(q.items) {
				q.items = q.items[:0]
				q.head = 0
			} else if q.head > 1024 && q.head*2 >= len(q.items) {
				q.items = append(q.items[:0], q.items[q.head:]...)
				q.head = 0
			}
			q.mu.Unlock()
			return env, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return update.Envelope{}, false
		}

		select {
		case <-q.notify:
		case <-q.closing:
		case <-ctx.Done():
			return update.Envelope{}, false
		}
	}
}

func (q *UpdateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *UpdateQueue) lenLocked() int {
	return len(q.items) - q.head
}

// Close rejects further publishes. Envelopes already queued can still be
// consumed.
func (q *UpdateQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.closing)
}

func (q *UpdateQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
