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
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// ErrNotConnected is returned by Send before Connect.
var ErrNotConnected = errors.New("grpcsig: not connected")

// ClientChannel dials a Hub session.
type ClientChannel struct {
	cc      grpc.ClientConnInterface
	conn    *grpc.ClientConn // owned, closed on Close
	token   string
	inbound *signaling.Queue

	mu      sync.Mutex
	stream  grpc.ClientStream
	cancel  context.CancelFunc
	closed  bool
	recvErr error

	sendMu sync.Mutex
}

var _ signaling.Channel = (*ClientChannel)(nil)

// NewClientChannel uses an existing connection. The caller keeps
// ownership of cc.
func NewClientChannel(cc grpc.ClientConnInterface, token string) *ClientChannel {
	return &ClientChannel{cc: cc, token: token, inbound: signaling.NewQueue()}
}

// Dial connects to the hub at addr. Without options the connection is
// plaintext.
func Dial(ctx context.Context, addr, token string, opts ...grpc.DialOption) (*ClientChannel, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, err
	}
	ch := NewClientChannel(conn, token)
	ch.conn = conn
	return ch, nil
}

// Connect opens the stream and waits until the hub accepted it.
func (c *ClientChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return signaling.ErrChannelClosed
	}
	if c.stream != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	streamCtx, cancel := context.WithCancel(withToken(context.Background(), c.token))
	stream, err := c.cc.NewStream(streamCtx, &serviceDesc.Streams[0], exchangeMethod,
		grpc.CallContentSubtype(codecName))
	if err != nil {
		cancel()
		return err
	}

	accepted := make(chan error, 1)
	go func() {
		_, err := stream.Header()
		accepted <- err
	}()
	select {
	case err = <-accepted:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		// a rejected stream ends with trailers only and no header
		if _, hasSession := headerSession(stream); !hasSession {
			err = stream.RecvMsg(&Envelope{})
			if err == nil || errors.Is(err, io.EOF) {
				err = status.Error(codes.Unknown, "stream ended before it was accepted")
			}
		}
	}
	if err != nil {
		cancel()
		return err
	}

	c.mu.Lock()
	c.stream, c.cancel = stream, cancel
	c.mu.Unlock()
	go c.recv(stream)
	return nil
}

func headerSession(stream grpc.ClientStream) (string, bool) {
	md, err := stream.Header()
	if err != nil {
		return "", false
	}
	values := md.Get("session")
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (c *ClientChannel) recv(stream grpc.ClientStream) {
	for {
		var env Envelope
		if err := stream.RecvMsg(&env); err != nil {
			if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
				c.mu.Lock()
				c.recvErr = err
				c.mu.Unlock()
				log.Debugf("signaling stream: %v", err)
			}
			c.inbound.Close()
			return
		}
		if err := c.inbound.Push(env.Signal); err != nil {
			return
		}
	}
}

// Send implements signaling.Channel.
func (c *ClientChannel) Send(_ context.Context, msg signaling.Message) error {
	c.mu.Lock()
	stream, closed := c.stream, c.closed
	c.mu.Unlock()
	if closed {
		return signaling.ErrChannelClosed
	}
	if stream == nil {
		return ErrNotConnected
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return stream.SendMsg(&Envelope{Signal: msg})
}

// Receive implements signaling.Channel. After the stream ended it returns
// the buffered messages, then the stream error or io.EOF.
func (c *ClientChannel) Receive(ctx context.Context) (signaling.Message, error) {
	msg, err := c.inbound.Pop(ctx)
	if errors.Is(err, io.EOF) {
		c.mu.Lock()
		recvErr := c.recvErr
		c.mu.Unlock()
		if recvErr != nil {
			return nil, recvErr
		}
	}
	return msg, err
}

// Close implements signaling.Channel.
func (c *ClientChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stream, cancel := c.stream, c.cancel
	c.mu.Unlock()

	if stream != nil {
		c.sendMu.Lock()
		if err := stream.CloseSend(); err != nil {
			log.Debugf("closing signaling stream: %v", err)
		}
		c.sendMu.Unlock()
		cancel()
	}
	c.inbound.Close()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
