package signaling

import (
	"context"
	"io"
	"sync"
)

// Queue is an unbounded FIFO of messages with a single consumer. Close stops
// new pushes; Pop drains what is left and then returns io.EOF.
type Queue struct {
	mu     sync.Mutex
	items  []Message
	closed bool
	// kick has room for one pending wakeup.
	kick chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{kick: make(chan struct{}, 1)}
}

// Push appends msg. It fails with ErrChannelClosed after Close.
func (q *Queue) Push(msg Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrChannelClosed
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.wake()
	return nil
}

// Pop removes the oldest message, waiting for one if the queue is empty.
func (q *Queue) Pop(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, io.EOF
		}

		select {
		case <-q.kick:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len reports the number of buffered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}
