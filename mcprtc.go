// Package mcprtc carries JSON-RPC messages between two processes over a
// WebRTC data channel. The transport package implements the Transport
// contract declared here.
package mcprtc

import (
	"context"

	"github.com/ray1422/mcprtc/jsonrpc"
	"github.com/ray1422/mcprtc/peer"
)

// Transport is the message transport a JSON-RPC session runs on.
type Transport interface {
	// Start brings the connection up. It may be called once.
	Start(ctx context.Context) error
	// Send waits until the connection is open and writes one message.
	Send(ctx context.Context, msg jsonrpc.Message) error
	// Close ends the connection.
	Close() error

	// OnMessage registers the handler for inbound messages.
	OnMessage(func(jsonrpc.Message))
	// OnError registers the handler for asynchronous errors.
	OnError(func(error))
	// OnClose registers the handler called once the connection closed.
	OnClose(func())
}

// Role is the connection polarity of one end.
type Role = peer.Role

const (
	// Initiator offers; the server end of a tool session.
	Initiator = peer.Initiator
	// Responder answers; the client end of a tool session.
	Responder = peer.Responder
)
