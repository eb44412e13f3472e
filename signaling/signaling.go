// Package signaling carries the out-of-band connection setup messages
// (offers, answers, ICE candidates) between the two ends of a peer
// connection before its data channel exists.
//
// Messages are opaque JSON produced and consumed by the peer connection
// engine. A Channel only has to move them in order, per direction.
package signaling

//go:generate mockgen -source=signaling.go -destination=mock_signaling/channel.go

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errors.New("signaling channel closed")

// Message is one opaque signaling payload.
type Message = json.RawMessage

// Channel is one end of a signaling path.
//
// Receive blocks until a message is available. After Close it keeps
// returning buffered messages and then io.EOF.
type Channel interface {
	// Connect makes the channel ready to send and receive. It may be a no-op.
	Connect(ctx context.Context) error
	// Send delivers msg to the remote end, in call order.
	Send(ctx context.Context, msg Message) error
	// Receive returns the next inbound message.
	Receive(ctx context.Context) (Message, error)
	// Close marks the channel closed.
	Close() error
}
