// Package peer adapts one pion/webrtc peer connection with a single data
// channel into a small event surface: signals to forward, connect, data,
// error and close.
package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
)

// DefaultLabel is the data channel label used when Options.Label is empty.
const DefaultLabel = "mcp"

var (
	// ErrNotConnected is returned by Send before the data channel opened.
	ErrNotConnected = errors.New("peer: data channel is not open")
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("peer: connection closed")
	// ErrRoleMismatch is reported when the remote end has the same role.
	ErrRoleMismatch = errors.New("peer: remote end has the same role")
	// ErrFailed is reported when the engine gives up on the connection.
	ErrFailed = errors.New("peer: connection failed")
)

// Role is the connection polarity. Exactly one end must be the Initiator.
type Role int

const (
	// Responder waits for an offer and answers it.
	Responder Role = iota
	// Initiator creates the data channel and the offer.
	Initiator
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// State is the lifecycle of a Conn.
type State int

const (
	// StateNew is a Conn before Negotiate.
	StateNew State = iota
	// StateSignaling is a handshake in progress.
	StateSignaling
	// StateConnected means the data channel is open.
	StateConnected
	// StateClosed is terminal after Close or a remote close.
	StateClosed
	// StateFailed is terminal after the engine reported failure.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateSignaling:
		return "signaling"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options are passed through to the engine.
type Options struct {
	// Configuration carries the ICE servers.
	Configuration webrtc.Configuration
	// Label of the data channel, DefaultLabel when empty.
	Label string
	// DisableTrickle gathers every candidate before the description is
	// signaled, so the handshake needs one message per direction.
	DisableTrickle bool
	// Net replaces the OS network, e.g. with a pion vnet.
	Net transport.Net
	// LoggerFactory for the engine and the adapter, LogrusFactory when nil.
	LoggerFactory logging.LoggerFactory
	// Builder replaces the engine. NewBuilder(opts) when nil.
	Builder Builder
}

func (o Options) withDefaults() Options {
	if o.Label == "" {
		o.Label = DefaultLabel
	}
	if o.LoggerFactory == nil {
		o.LoggerFactory = LogrusFactory{}
	}
	if o.Builder == nil {
		o.Builder = NewBuilder(o)
	}
	return o
}

// Events receives everything the connection produces. Handlers run on
// engine goroutines and must not block. Nil handlers are ignored.
type Events struct {
	OnSignal  func(json.RawMessage)
	OnConnect func()
	OnData    func([]byte)
	OnError   func(error)
	OnClose   func()
}

// Conn owns one peer connection and its data channel.
type Conn struct {
	role   Role
	opts   Options
	events Events
	pc     PeerConnection
	log    logging.LeveledLogger

	mu    sync.Mutex
	state State
	dc    DataChannel
	// remote candidates that arrived before the remote description
	pendingRemote []webrtc.ICECandidateInit
	// local candidates found before the local description was signaled
	pendingLocal []Signal
	localSent    bool
	closing      bool
}

// New creates the peer connection. Nothing is signaled until Negotiate.
func New(role Role, opts Options, events Events) (*Conn, error) {
	opts = opts.withDefaults()
	pc, err := opts.Builder.NewPeerConnection(opts.Configuration)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	c := &Conn{
		role:   role,
		opts:   opts,
		events: events,
		pc:     pc,
		log:    opts.LoggerFactory.NewLogger("mcprtc-peer"),
	}
	pc.OnICECandidate(c.onICECandidate)
	pc.OnConnectionStateChange(c.onConnectionStateChange)
	if role == Responder {
		pc.OnDataChannel(c.onDataChannel)
	}
	return c, nil
}

// Role returns the polarity fixed at construction.
func (c *Conn) Role() Role {
	return c.role
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Negotiate starts the handshake. The initiator opens the data channel and
// signals an offer; the responder only waits for one.
func (c *Conn) Negotiate() error {
	c.mu.Lock()
	if c.state != StateNew {
		c.mu.Unlock()
		return fmt.Errorf("negotiate in state %s", c.state)
	}
	c.state = StateSignaling
	c.mu.Unlock()

	if c.role != Initiator {
		return nil
	}

	ordered := true
	dc, err := c.pc.CreateDataChannel(c.opts.Label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("creating data channel: %w", err)
	}
	c.attach(dc)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	if !c.opts.DisableTrickle {
		c.sendLocalDescription(offer)
	}
	return nil
}

// Signal feeds one message from the remote end into the engine.
func (c *Conn) Signal(raw json.RawMessage) error {
	s, err := ParseSignal(raw)
	if err != nil {
		return err
	}

	c.mu.Lock()
	state := c.state
	if state == StateNew {
		c.state = StateSignaling
	}
	c.mu.Unlock()
	if state == StateClosed || state == StateFailed {
		return ErrClosed
	}

	switch s.Type {
	case SignalOffer:
		if c.role == Initiator {
			return fmt.Errorf("received an offer: %w", ErrRoleMismatch)
		}
		return c.answer(s.description())
	case SignalAnswer:
		if c.role == Responder {
			return fmt.Errorf("received an answer: %w", ErrRoleMismatch)
		}
		if err := c.pc.SetRemoteDescription(s.description()); err != nil {
			return fmt.Errorf("setting remote answer: %w", err)
		}
		return c.flushRemoteCandidates()
	default:
		return c.addCandidate(*s.Candidate)
	}
}

func (c *Conn) answer(offer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("setting remote offer: %w", err)
	}
	if err := c.flushRemoteCandidates(); err != nil {
		return err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	if !c.opts.DisableTrickle {
		c.sendLocalDescription(answer)
	}
	return nil
}

func (c *Conn) addCandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if c.pc.RemoteDescription() == nil {
		c.pendingRemote = append(c.pendingRemote, candidate)
		c.mu.Unlock()
		c.log.Debugf("queued remote candidate until the remote description is set")
		return nil
	}
	c.mu.Unlock()
	if err := c.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("adding ice candidate: %w", err)
	}
	return nil
}

func (c *Conn) flushRemoteCandidates() error {
	c.mu.Lock()
	pending := c.pendingRemote
	c.pendingRemote = nil
	c.mu.Unlock()

	var errs []error
	for _, candidate := range pending {
		if err := c.pc.AddICECandidate(candidate); err != nil {
			errs = append(errs, fmt.Errorf("adding queued ice candidate: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Send writes one frame to the data channel as a text message.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	state, dc := c.state, c.dc
	c.mu.Unlock()
	switch state {
	case StateConnected:
	case StateClosed, StateFailed:
		return ErrClosed
	default:
		return ErrNotConnected
	}
	return dc.SendText(string(frame))
}

// Close tears down the data channel and the peer connection. OnClose fires
// once, whichever side closed first.
func (c *Conn) Close() error {
	dc, ok := c.markClosed()
	if !ok {
		return nil
	}
	if dc != nil {
		if err := dc.Close(); err != nil {
			c.log.Debugf("closing data channel: %v", err)
		}
	}
	err := c.pc.Close()
	c.emitClose()
	return err
}

// shutdown closes after the engine or the remote end ended the connection.
// The engine must not be closed from its own callback goroutine.
func (c *Conn) shutdown() {
	if _, ok := c.markClosed(); !ok {
		return
	}
	go func() {
		if err := c.pc.Close(); err != nil {
			c.log.Debugf("closing peer connection: %v", err)
		}
	}()
	c.emitClose()
}

// markClosed reports whether the caller is the first to close.
func (c *Conn) markClosed() (DataChannel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return nil, false
	}
	c.closing = true
	if c.state != StateFailed {
		c.state = StateClosed
	}
	return c.dc, true
}

func (c *Conn) attach(dc DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(c.onOpen)
	dc.OnClose(func() {
		c.log.Debugf("data channel %s closed", dc.Label())
		c.shutdown()
	})
	dc.OnError(func(err error) {
		c.emitError(fmt.Errorf("data channel %s: %w", dc.Label(), err))
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if c.events.OnData != nil {
			c.events.OnData(msg.Data)
		}
	})
}

func (c *Conn) onDataChannel(dc DataChannel) {
	if dc.Label() != c.opts.Label {
		c.log.Warnf("ignoring data channel %q, want %q", dc.Label(), c.opts.Label)
		return
	}
	c.mu.Lock()
	taken := c.dc != nil
	c.mu.Unlock()
	if taken {
		c.log.Warnf("ignoring second data channel %q", dc.Label())
		return
	}
	c.attach(dc)
}

func (c *Conn) onOpen() {
	c.mu.Lock()
	if c.state != StateSignaling && c.state != StateNew {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.mu.Unlock()

	c.log.Infof("data channel %s open (%s)", c.opts.Label, c.role)
	if c.events.OnConnect != nil {
		c.events.OnConnect()
	}
}

func (c *Conn) onConnectionStateChange(state webrtc.PeerConnectionState) {
	c.log.Debugf("peer connection state %s", state)
	switch state {
	case webrtc.PeerConnectionStateFailed:
		c.mu.Lock()
		alreadyClosed := c.closing
		if !alreadyClosed {
			c.state = StateFailed
		}
		c.mu.Unlock()
		if !alreadyClosed {
			c.emitError(ErrFailed)
		}
		c.shutdown()
	case webrtc.PeerConnectionStateClosed:
		c.shutdown()
	}
}

func (c *Conn) onICECandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		// gathering finished
		if c.opts.DisableTrickle {
			if desc := c.pc.LocalDescription(); desc != nil {
				c.sendLocalDescription(*desc)
			}
		}
		return
	}
	if c.opts.DisableTrickle {
		return
	}
	init := candidate.ToJSON()
	s := Signal{Type: SignalCandidate, Candidate: &init}

	c.mu.Lock()
	if !c.localSent {
		c.pendingLocal = append(c.pendingLocal, s)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.emitSignal(s)
}

// sendLocalDescription signals desc and then every candidate held back
// while it was being created, so the remote end never sees a candidate
// before the description it belongs to.
func (c *Conn) sendLocalDescription(desc webrtc.SessionDescription) {
	c.emitSignal(descriptionSignal(desc))

	c.mu.Lock()
	c.localSent = true
	pending := c.pendingLocal
	c.pendingLocal = nil
	c.mu.Unlock()
	for _, s := range pending {
		c.emitSignal(s)
	}
}

func (c *Conn) emitSignal(s Signal) {
	raw, err := json.Marshal(s)
	if err != nil {
		c.emitError(fmt.Errorf("encoding %s signal: %w", s.Type, err))
		return
	}
	if c.events.OnSignal != nil {
		c.events.OnSignal(raw)
	}
}

func (c *Conn) emitError(err error) {
	if c.events.OnError != nil {
		c.events.OnError(err)
	}
}

func (c *Conn) emitClose() {
	if c.events.OnClose != nil {
		c.events.OnClose()
	}
}
