// Package wssig carries signaling messages over one WebSocket connection,
// one text frame per message.
package wssig

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ray1422/mcprtc/signaling"
	log "github.com/sirupsen/logrus"
)

const closeTimeout = time.Second

// Channel is a signaling channel over a WebSocket connection.
type Channel struct {
	conn    *websocket.Conn
	inbound *signaling.Queue

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

var _ signaling.Channel = (*Channel)(nil)

// New wraps an established connection and starts reading from it.
func New(conn *websocket.Conn) *Channel {
	c := &Channel{conn: conn, inbound: signaling.NewQueue()}
	go c.read()
	return c
}

// Dial opens a WebSocket connection to url.
func Dial(ctx context.Context, url string, header http.Header) (*Channel, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{Status: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	return New(conn), nil
}

// HandshakeError is returned by Dial when the server refused the upgrade.
type HandshakeError struct {
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	return "websocket handshake: " + http.StatusText(e.Status) + ": " + e.Err.Error()
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

var upgrader = websocket.Upgrader{
	// signaling carries no cookies; any origin may open a session
	CheckOrigin: func(*http.Request) bool { return true },
}

// Upgrade accepts a WebSocket request.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Channel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// Handler upgrades every request and passes the channel to accept.
func Handler(accept func(*Channel)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch, err := Upgrade(w, r)
		if err != nil {
			log.Debugf("websocket signaling upgrade: %v", err)
			return
		}
		accept(ch)
	})
}

func (c *Channel) read() {
	defer c.inbound.Close()
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				log.Debugf("websocket signaling read: %v", err)
			}
			return
		}
		if typ != websocket.TextMessage {
			log.Debugf("websocket signaling: ignoring frame type %d", typ)
			continue
		}
		if err := c.inbound.Push(data); err != nil {
			return
		}
	}
}

// Connect implements signaling.Channel. The connection is already open.
func (c *Channel) Connect(ctx context.Context) error {
	return ctx.Err()
}

// Send implements signaling.Channel.
func (c *Channel) Send(ctx context.Context, msg signaling.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return signaling.ErrChannelClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Receive implements signaling.Channel.
func (c *Channel) Receive(ctx context.Context) (signaling.Message, error) {
	return c.inbound.Pop(ctx)
}

// Close sends a close frame and closes the connection. Frames already
// read stay available to Receive.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeTimeout))
	c.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Debugf("websocket signaling close frame: %v", err)
	}
	c.inbound.Close()
	return c.conn.Close()
}
