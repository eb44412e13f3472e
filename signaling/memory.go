package signaling

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

var _ Channel = (*Memory)(nil)

// Memory is an in-process Channel endpoint. Two endpoints created by
// NewMemoryPair share one ordered queue per direction, so messages sent
// before the other side starts receiving are kept.
type Memory struct {
	send *Queue
	recv *Queue

	mu     sync.Mutex
	closed bool
}

// NewMemoryPair returns two connected endpoints.
func NewMemoryPair() (*Memory, *Memory) {
	ab, ba := NewQueue(), NewQueue()
	return &Memory{send: ab, recv: ba}, &Memory{send: ba, recv: ab}
}

// Connect is a no-op.
func (m *Memory) Connect(ctx context.Context) error {
	return ctx.Err()
}

// Send queues msg for the other endpoint.
func (m *Memory) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	// copy, the caller may reuse its buffer
	msg = append(Message(nil), msg...)
	if err := m.send.Push(msg); err != nil {
		if errors.Is(err, ErrChannelClosed) {
			log.Debugf("memory signaling: remote end closed, dropping %d bytes", len(msg))
			return nil
		}
		return err
	}
	return nil
}

// Receive returns the next message from the other endpoint.
func (m *Memory) Receive(ctx context.Context) (Message, error) {
	return m.recv.Pop(ctx)
}

// Close stops this endpoint. Messages already queued for it can still be
// received.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.recv.Close()
	return nil
}
