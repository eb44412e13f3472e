package toolrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ray1422/mcprtc"
	"github.com/ray1422/mcprtc/jsonrpc"
	"github.com/ray1422/mcprtc/utils"
	"github.com/ray1422/mcprtc/utils/async"
	log "github.com/sirupsen/logrus"
)

type pendingCall = async.Future[utils.Result[jsonrpc.Message]]

// Client calls tools on a remote Server.
type Client struct {
	info Implementation
	t    mcprtc.Transport

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[string]pendingCall
	closed  bool

	// ServerInfo is filled by Connect.
	ServerInfo Implementation
}

// NewClient returns a client announcing itself as name/version.
func NewClient(name, version string) *Client {
	return &Client{
		info:    Implementation{Name: name, Version: version},
		pending: map[string]pendingCall{},
	}
}

// Connect starts t and runs the initialize handshake.
func (c *Client) Connect(ctx context.Context, t mcprtc.Transport) error {
	c.t = t
	t.OnMessage(c.onMessage)
	t.OnError(func(err error) {
		log.WithError(err).Warn("toolrpc client: transport error")
	})
	t.OnClose(c.onClose)

	if err := t.Start(ctx); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}

	var res InitializeResult
	err := c.call(ctx, MethodInitialize, initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    json.RawMessage(`{}`),
		ClientInfo:      c.info,
	}, &res)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if res.ProtocolVersion != ProtocolVersion {
		log.Warnf("toolrpc client: server speaks protocol %s, want %s", res.ProtocolVersion, ProtocolVersion)
	}
	c.ServerInfo = res.ServerInfo

	note, err := jsonrpc.NewNotification(MethodInitialized, nil)
	if err != nil {
		return err
	}
	return t.Send(ctx, note)
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, nil, nil)
}

// ListTools returns the tools the server exposes.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var res listToolsResult
	if err := c.call(ctx, MethodToolsList, nil, &res); err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// CallTool calls the named tool. args is marshaled to JSON, nil sends no
// arguments.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*CallToolResult, error) {
	p := callToolParams{Name: name}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encoding arguments: %w", err)
		}
		p.Arguments = raw
	}
	var res CallToolResult
	if err := c.call(ctx, MethodToolsCall, p, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Close closes the transport.
func (c *Client) Close() error {
	if c.t == nil {
		return nil
	}
	return c.t.Close()
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	id := jsonrpc.IntID(c.nextID.Add(1))
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", method, err)
	}

	f := async.NewFuture[utils.Result[jsonrpc.Message]]()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	c.pending[id.String()] = f
	c.mu.Unlock()
	defer c.forget(id)

	if err := c.t.Send(ctx, req); err != nil {
		return err
	}
	res, err := async.AwaitContext(ctx, f)
	if err != nil {
		return err
	}
	reply, err := res.Unwrap()
	if err != nil {
		return err
	}
	if reply.Error != nil {
		return reply.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(reply.Result, result); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

func (c *Client) forget(id jsonrpc.ID) {
	c.mu.Lock()
	delete(c.pending, id.String())
	c.mu.Unlock()
}

func (c *Client) onMessage(msg jsonrpc.Message) {
	if msg.Kind() != jsonrpc.KindResponse {
		log.Debugf("toolrpc client: ignoring %s %s", msg.Kind(), msg.Method)
		return
	}
	c.mu.Lock()
	f, ok := c.pending[msg.ID.String()]
	delete(c.pending, msg.ID.String())
	c.mu.Unlock()
	if !ok {
		log.Debugf("toolrpc client: response to unknown id %s", msg.ID)
		return
	}
	f.Resolve(utils.Ok(msg))
}

func (c *Client) onClose() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = map[string]pendingCall{}
	c.mu.Unlock()
	for _, f := range pending {
		f.Resolve(utils.Err[jsonrpc.Message](ErrSessionClosed))
	}
}
