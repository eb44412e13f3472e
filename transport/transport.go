// Package transport runs a JSON-RPC message stream over one WebRTC data
// channel. A Transport brings the channel up through a signaling path,
// then exchanges one JSON-RPC message per data channel message.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ray1422/mcprtc"
	"github.com/ray1422/mcprtc/jsonrpc"
	"github.com/ray1422/mcprtc/peer"
	"github.com/ray1422/mcprtc/signaling"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNotStarted is returned by Send, Close and Signal before Start.
	ErrNotStarted = errors.New("transport not started")
	// ErrConnectionClosed is returned by Send once the connection closed,
	// including when it closed before it ever opened.
	ErrConnectionClosed = errors.New("transport connection closed")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("transport already started")
	// ErrNoSignaling is returned by New when Options selects no signaling path.
	ErrNoSignaling = errors.New("transport needs either a signaling channel or an OnSignal callback")
	// ErrSignalingConflict is returned by New when Options selects both.
	ErrSignalingConflict = errors.New("transport takes a signaling channel or an OnSignal callback, not both")
)

// Options configures a Transport.
type Options struct {
	// Signaling carries the handshake. The transport does not own it but
	// closes it on Close.
	Signaling signaling.Channel
	// OnSignal receives every local signaling message in order when there
	// is no Signaling channel. Inbound messages go to Transport.Signal.
	OnSignal func(json.RawMessage)
	// Peer is passed to the peer connection.
	Peer peer.Options
}

func (o Options) validate() error {
	switch {
	case o.Signaling == nil && o.OnSignal == nil:
		return ErrNoSignaling
	case o.Signaling != nil && o.OnSignal != nil:
		return ErrSignalingConflict
	}
	return nil
}

// Transport is one end of a peer connection carrying JSON-RPC messages.
// It is single use: once closed it cannot be started again.
type Transport struct {
	role   peer.Role
	opts   Options
	log    *log.Entry
	events *dispatcher
	// outbound signals waiting for Signaling.Send
	outbound *signaling.Queue

	connected   chan struct{}
	connectOnce sync.Once
	closed      chan struct{}
	closeOnce   sync.Once

	mu        sync.Mutex
	started   bool
	closing   bool
	conn      *peer.Conn
	onMessage func(jsonrpc.Message)
	onError   func(error)
	onClose   func()

	cancel context.CancelFunc
	loops  sync.WaitGroup
}

var _ mcprtc.Transport = (*Transport)(nil)

// New creates an inert transport with the given polarity.
func New(role peer.Role, opts Options) (*Transport, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Transport{
		role:      role,
		opts:      opts,
		log:       log.WithField("role", role.String()),
		events:    newDispatcher(),
		outbound:  signaling.NewQueue(),
		connected: make(chan struct{}),
		closed:    make(chan struct{}),
		cancel:    func() {},
	}, nil
}

// Role returns the polarity fixed at construction.
func (t *Transport) Role() peer.Role {
	return t.role
}

// State returns the state of the peer connection, StateNew before Start.
func (t *Transport) State() peer.State {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		select {
		case <-t.closed:
			return peer.StateClosed
		default:
			return peer.StateNew
		}
	}
	return conn.State()
}

// OnMessage implements mcprtc.Transport.
func (t *Transport) OnMessage(f func(jsonrpc.Message)) {
	t.mu.Lock()
	t.onMessage = f
	t.mu.Unlock()
}

// OnError implements mcprtc.Transport.
func (t *Transport) OnError(f func(error)) {
	t.mu.Lock()
	t.onError = f
	t.mu.Unlock()
}

// OnClose implements mcprtc.Transport.
func (t *Transport) OnClose(f func()) {
	t.mu.Lock()
	t.onClose = f
	t.mu.Unlock()
}

// Start creates the peer connection, connects the signaling channel and
// starts the handshake. ctx bounds only the signaling connect; the
// connection itself lives until Close.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.mu.Unlock()

	go t.events.run()

	conn, err := peer.New(t.role, t.opts.Peer, peer.Events{
		OnSignal:  t.onLocalSignal,
		OnConnect: t.onConnect,
		OnData:    t.onData,
		OnError:   t.emitError,
		OnClose:   t.onPeerClose,
	})
	if err != nil {
		t.onPeerClose()
		return err
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	if t.closing {
		// Close ran while the peer connection was being built
		t.mu.Unlock()
		cancel()
		if err := conn.Close(); err != nil {
			t.log.WithError(err).Debug("closing peer connection")
		}
		return ErrConnectionClosed
	}
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()

	if sig := t.opts.Signaling; sig != nil {
		if err := sig.Connect(ctx); err != nil {
			t.abort(conn)
			return fmt.Errorf("connecting signaling: %w", err)
		}
		t.mu.Lock()
		if t.closing {
			t.mu.Unlock()
			t.abort(conn)
			return ErrConnectionClosed
		}
		t.loops.Add(2)
		t.mu.Unlock()
		go t.sendSignals(loopCtx, sig)
		go t.receiveSignals(loopCtx, sig, conn)
	}

	if err := conn.Negotiate(); err != nil {
		t.abort(conn)
		return fmt.Errorf("negotiating: %w", err)
	}
	t.log.Debug("transport started")
	return nil
}

// abort undoes a Start that failed after the peer connection existed.
func (t *Transport) abort(conn *peer.Conn) {
	t.outbound.Close()
	if err := conn.Close(); err != nil {
		t.log.WithError(err).Debug("closing peer connection")
	}
	t.stopLoops()
}

// Signal feeds one inbound signaling message into the handshake. It is
// the inbound half of the OnSignal mode and may also be used alongside a
// signaling channel.
func (t *Transport) Signal(raw json.RawMessage) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotStarted
	}
	return conn.Signal(raw)
}

// Send waits until the data channel is open, then writes msg as one
// frame. It fails with ErrConnectionClosed if the connection closes first
// and with ctx.Err() if ctx ends first.
func (t *Transport) Send(ctx context.Context, msg jsonrpc.Message) error {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	select {
	case <-t.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case <-t.connected:
	case <-t.closed:
	case <-ctx.Done():
		return ctx.Err()
	}
	// closed wins when both fired
	select {
	case <-t.closed:
		return ErrConnectionClosed
	default:
	}

	frame, err := jsonrpc.Encode(msg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if err := conn.Send(frame); err != nil {
		if errors.Is(err, peer.ErrClosed) {
			return ErrConnectionClosed
		}
		return fmt.Errorf("sending frame: %w", err)
	}
	return nil
}

// Close closes the signaling channel, then the peer connection, and waits
// for the signaling goroutines to exit. A second Close returns
// ErrConnectionClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return ErrNotStarted
	}
	if t.closing {
		t.mu.Unlock()
		return ErrConnectionClosed
	}
	t.closing = true
	conn := t.conn
	t.mu.Unlock()

	if sig := t.opts.Signaling; sig != nil {
		if err := sig.Close(); err != nil {
			t.log.WithError(err).Debug("closing signaling channel")
		}
	}
	t.outbound.Close()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	t.stopLoops()
	// the peer reports close itself; this covers a Start that never got that far
	t.onPeerClose()
	return err
}

func (t *Transport) stopLoops() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.loops.Wait()
}

// sendSignals forwards local signals to the channel in the order the
// engine produced them.
func (t *Transport) sendSignals(ctx context.Context, sig signaling.Channel) {
	defer t.loops.Done()
	for {
		msg, err := t.outbound.Pop(ctx)
		if err != nil {
			return
		}
		if err := sig.Send(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			t.emitError(fmt.Errorf("sending signal: %w", err))
		}
	}
}

// receiveSignals feeds remote signals into the peer connection until the
// channel is drained and closed. A signal the engine rejects is reported
// and skipped.
func (t *Transport) receiveSignals(ctx context.Context, sig signaling.Channel, conn *peer.Conn) {
	defer t.loops.Done()
	for {
		msg, err := sig.Receive(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				t.emitError(fmt.Errorf("receiving signal: %w", err))
			}
			return
		}
		if err := conn.Signal(msg); err != nil {
			if errors.Is(err, peer.ErrClosed) {
				return
			}
			t.log.WithError(err).Warn("rejected signal")
			t.emitError(fmt.Errorf("applying signal: %w", err))
		}
	}
}

func (t *Transport) onLocalSignal(raw json.RawMessage) {
	if t.opts.OnSignal != nil {
		t.events.post("signal", func() { t.opts.OnSignal(raw) })
		return
	}
	if err := t.outbound.Push(raw); err != nil {
		t.log.Debugf("dropping local signal: %v", err)
	}
}

func (t *Transport) onConnect() {
	t.connectOnce.Do(func() {
		t.log.Info("transport connected")
		close(t.connected)
	})
}

func (t *Transport) onData(frame []byte) {
	msg, err := jsonrpc.Decode(frame)
	if err != nil {
		t.emitError(err)
		return
	}
	t.events.post("message", func() {
		t.mu.Lock()
		f := t.onMessage
		t.mu.Unlock()
		if f != nil {
			f(msg)
		}
	})
}

func (t *Transport) emitError(err error) {
	t.events.post("error", func() {
		t.mu.Lock()
		f := t.onError
		t.mu.Unlock()
		if f != nil {
			f(err)
		} else {
			t.log.WithError(err).Warn("unhandled transport error")
		}
	})
}

func (t *Transport) onPeerClose() {
	t.closeOnce.Do(func() {
		t.log.Debug("transport closed")
		close(t.closed)
		t.events.postLast("close", func() {
			t.mu.Lock()
			f := t.onClose
			t.mu.Unlock()
			if f != nil {
				f()
			}
		})
	})
}
