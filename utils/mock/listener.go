// Package mock holds in-process stand-ins for networks used by tests.
package mock

import (
	"context"
	"io"
	"net"
	"sync"
)

// Listener is an in-memory net.Listener. Every Dial creates a net.Pipe
// whose server end is returned by Accept. Serve a grpc.Server on it and
// dial with grpc.WithContextDialer(l.DialContext-wrapper).
type Listener struct {
	ch      chan net.Conn
	closeCh chan struct{}
	once    sync.Once
}

// NewMockListener returns a mock listener.
func NewMockListener() *Listener {
	return &Listener{
		ch:      make(chan net.Conn),
		closeCh: make(chan struct{}),
	}
}

// Accept returns the server end of the next dialed connection.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.ch:
		return c, nil
	case <-l.closeCh:
		return nil, io.EOF
	}
}

// Close closes the listener. Closing twice returns io.EOF.
func (l *Listener) Close() error {
	err := io.EOF
	l.once.Do(func() {
		close(l.closeCh)
		err = nil
	})
	return err
}

// Dial dials to the listener.
func (l *Listener) Dial(network, addr string) (net.Conn, error) {
	return l.DialContext(context.Background(), addr)
}

// DialContext waits until the connection is accepted, the listener is
// closed or ctx is done.
func (l *Listener) DialContext(ctx context.Context, addr string) (net.Conn, error) {
	select {
	case <-l.closeCh:
		return nil, io.EOF
	default:
	}
	c0, c1 := net.Pipe()
	select {
	case <-ctx.Done():
		c0.Close()
		c1.Close()
		return nil, ctx.Err()
	case l.ch <- c0:
		return c1, nil
	case <-l.closeCh:
		c0.Close()
		c1.Close()
		return nil, io.EOF
	}
}

type addr struct{}

func (a *addr) Network() string {
	return "pipe"
}
func (a *addr) String() string {
	return "test_addr"
}

// Addr returns a mock address.
func (l *Listener) Addr() net.Addr {
	return &addr{}
}
