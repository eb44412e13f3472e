package grpcsig

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ray1422/mcprtc/signaling"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Hub serves the Signaling service and routes each authenticated stream
// to the ServerChannel of its session.
type Hub struct {
	issuer *TokenIssuer

	mu       sync.Mutex
	sessions map[string]*ServerChannel
}

var _ SignalingServer = (*Hub)(nil)

// NewHub creates a hub accepting tokens from issuer.
func NewHub(issuer *TokenIssuer) *Hub {
	return &Hub{
		issuer:   issuer,
		sessions: map[string]*ServerChannel{},
	}
}

// Register registers the hub on s.
func (h *Hub) Register(s grpc.ServiceRegistrar) {
	RegisterSignalingServer(s, h)
}

// Open creates a session and returns its channel with the token the
// remote end must dial with.
func (h *Hub) Open() (*ServerChannel, string, error) {
	id := NewSessionID()
	token, err := h.issuer.Issue(id)
	if err != nil {
		return nil, "", err
	}
	ch := newServerChannel(id, h.remove)

	h.mu.Lock()
	h.sessions[id] = ch
	h.mu.Unlock()
	log.Infof("opened signaling session %s", id)
	return ch, token, nil
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// Exchange implements SignalingServer.
func (h *Hub) Exchange(stream grpc.ServerStream) error {
	session, err := h.issuer.sessionFromContext(stream.Context())
	if err != nil {
		log.Debugf("rejecting signaling stream: %v", err)
		return err
	}
	h.mu.Lock()
	ch, ok := h.sessions[session]
	h.mu.Unlock()
	if !ok {
		return status.Errorf(codes.NotFound, "session %s not found", session)
	}
	return ch.serve(stream)
}

// ServerChannel is the hub side of one session. Messages sent before the
// remote end attaches are buffered.
type ServerChannel struct {
	id       string
	onClose  func(string)
	outbound *signaling.Queue
	inbound  *signaling.Queue

	mu       sync.Mutex
	attached bool
	closed   bool
}

var _ signaling.Channel = (*ServerChannel)(nil)

func newServerChannel(id string, onClose func(string)) *ServerChannel {
	return &ServerChannel{
		id:       id,
		onClose:  onClose,
		outbound: signaling.NewQueue(),
		inbound:  signaling.NewQueue(),
	}
}

// ID returns the session id.
func (c *ServerChannel) ID() string {
	return c.id
}

// Connect implements signaling.Channel. Nothing to do: the remote end
// attaches on its own schedule.
func (c *ServerChannel) Connect(ctx context.Context) error {
	return ctx.Err()
}

// Send implements signaling.Channel.
func (c *ServerChannel) Send(_ context.Context, msg signaling.Message) error {
	return c.outbound.Push(append(signaling.Message(nil), msg...))
}

// Receive implements signaling.Channel.
func (c *ServerChannel) Receive(ctx context.Context) (signaling.Message, error) {
	return c.inbound.Pop(ctx)
}

// Close implements signaling.Channel. Buffered outbound messages are still
// flushed to an attached stream before it ends.
func (c *ServerChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.outbound.Close()
	c.inbound.Close()
	c.onClose(c.id)
	return nil
}

func (c *ServerChannel) serve(stream grpc.ServerStream) error {
	c.mu.Lock()
	if c.attached {
		c.mu.Unlock()
		return status.Errorf(codes.AlreadyExists, "session %s already has a peer", c.id)
	}
	c.attached = true
	c.mu.Unlock()

	// headers tell the dialer it was accepted
	if err := stream.SendHeader(metadata.Pairs("session", c.id)); err != nil {
		return err
	}
	log.Debugf("peer attached to signaling session %s", c.id)

	go c.recv(stream)

	ctx := stream.Context()
	for {
		msg, err := c.outbound.Pop(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return status.FromContextError(err).Err()
		}
		if err := stream.SendMsg(&Envelope{Signal: msg}); err != nil {
			return err
		}
	}
}

func (c *ServerChannel) recv(stream grpc.ServerStream) {
	for {
		var env Envelope
		if err := stream.RecvMsg(&env); err != nil {
			if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
				log.Debugf("signaling session %s: %v", c.id, err)
			}
			// the remote end sends nothing more
			c.inbound.Close()
			return
		}
		if err := c.inbound.Push(env.Signal); err != nil {
			return
		}
	}
}
