package transport

import "github.com/ray1422/mcprtc/peer"

// NewClient returns a transport that answers the remote end's offer.
func NewClient(opts Options) (*Transport, error) {
	return New(peer.Responder, opts)
}

// NewServer returns a transport that opens the data channel and offers.
func NewServer(opts Options) (*Transport, error) {
	return New(peer.Initiator, opts)
}
