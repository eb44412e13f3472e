package toolrpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"
	"github.com/ray1422/mcprtc/jsonrpc"
	"github.com/ray1422/mcprtc/peer"
	"github.com/ray1422/mcprtc/signaling"
	"github.com/ray1422/mcprtc/transport"
	"github.com/ray1422/mcprtc/utils/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func greetServer() *Server {
	s := NewServer("greeter", "0.1.0")
	_ = s.RegisterTool("greet", "Say hello",
		json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}}}`),
		func(ctx context.Context, args json.RawMessage) (*CallToolResult, error) {
			var p struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return nil, err
			}
			if p.Name == "" {
				return nil, errors.New("name is required")
			}
			return TextResult("Hello, " + p.Name + "!"), nil
		})
	return s
}

// session connects a tool client to srv over a client/server transport
// pair on memory signaling and a virtual network.
func session(t *testing.T, srv *Server) (*Client, *transport.Transport) {
	v, err := mock.NewVNet(2, peer.LogrusFactory{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	a, b := signaling.NewMemoryPair()
	ct, err := transport.NewClient(transport.Options{Signaling: a, Peer: peer.Options{Net: v.Net(0)}})
	require.NoError(t, err)
	st, err := transport.NewServer(transport.Options{Signaling: b, Peer: peer.Options{Net: v.Net(1)}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, st) }()

	c := NewClient("tester", "0.0.1")
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer connectCancel()
	require.NoError(t, c.Connect(connectCtx, ct))

	t.Cleanup(func() {
		_ = c.Close()
		cancel()
		<-served
	})
	return c, st
}

func TestGreetEndToEnd(t *testing.T) {
	report := test.TimeOut(40 * time.Second)
	defer report.Stop()

	c, _ := session(t, greetServer())
	ctx := context.Background()
	assert.Equal(t, "greeter", c.ServerInfo.Name)

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "greet", tools[0].Name)

	res, err := c.CallTool(ctx, "greet", map[string]string{"name": "Ada"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Hello, Ada!", res.Text())

	res, err = c.CallTool(ctx, "greet", map[string]string{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "name is required", res.Text())

	_, err = c.CallTool(ctx, "shout", nil)
	var rpcErr *jsonrpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc.CodeInvalidParams, rpcErr.Code)

	err = c.call(ctx, "resources/list", nil, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, rpcErr.Code)

	assert.NoError(t, c.Ping(ctx))
}

func TestPendingCallFailsWhenServerCloses(t *testing.T) {
	report := test.TimeOut(40 * time.Second)
	defer report.Stop()

	srv := NewServer("slow", "0.1.0")
	started := make(chan struct{})
	require.NoError(t, srv.RegisterTool("wait", "", nil, func(ctx context.Context, _ json.RawMessage) (*CallToolResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	c, st := session(t, srv)

	result := make(chan error, 1)
	go func() {
		_, err := c.CallTool(context.Background(), "wait", nil)
		result <- err
	}()
	<-started
	require.NoError(t, st.Close())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(20 * time.Second):
		t.Fatal("pending call did not fail after close")
	}
	_, err := c.ListTools(context.Background())
	assert.Error(t, err)
}

func nopHandler(context.Context, json.RawMessage) (*CallToolResult, error) {
	return TextResult("ok"), nil
}

func TestRegisterToolReplaces(t *testing.T) {
	s := NewServer("x", "1")
	require.NoError(t, s.RegisterTool("a", "first", nil, nopHandler))
	require.NoError(t, s.RegisterTool("b", "", nil, nopHandler))
	require.NoError(t, s.RegisterTool("a", "second", nil, nopHandler))

	tools := s.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "a", tools[0].Name)
	assert.Equal(t, "second", tools[0].Description)
	assert.JSONEq(t, `{"type":"object"}`, string(tools[0].InputSchema))
}

func TestRegisterToolRejectsNilHandler(t *testing.T) {
	s := NewServer("x", "1")
	assert.ErrorIs(t, s.RegisterTool("a", "", nil, nil), ErrNilHandler)
	assert.Empty(t, s.Tools())
}

func TestPanickingToolKeepsServing(t *testing.T) {
	report := test.TimeOut(40 * time.Second)
	defer report.Stop()

	srv := greetServer()
	require.NoError(t, srv.RegisterTool("boom", "", nil, func(context.Context, json.RawMessage) (*CallToolResult, error) {
		panic("tool bug")
	}))
	c, _ := session(t, srv)
	ctx := context.Background()

	res, err := c.CallTool(ctx, "boom", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text(), "tool bug")

	res, err = c.CallTool(ctx, "greet", map[string]string{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada!", res.Text())
}

func TestDispatch(t *testing.T) {
	s := greetServer()
	ctx := context.Background()

	req, err := jsonrpc.NewRequest(jsonrpc.IntID(1), MethodInitialize, initializeParams{ProtocolVersion: ProtocolVersion})
	require.NoError(t, err)
	res, rpcErr := s.dispatch(ctx, req)
	require.Nil(t, rpcErr)
	assert.Equal(t, ProtocolVersion, res.(InitializeResult).ProtocolVersion)

	req, err = jsonrpc.NewRequest(jsonrpc.IntID(2), MethodToolsCall, json.RawMessage(`[1]`))
	require.NoError(t, err)
	_, rpcErr = s.dispatch(ctx, req)
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.CodeInvalidParams, rpcErr.Code)
}

func TestToolWithoutHandlerReturnsErrorResult(t *testing.T) {
	s := NewServer("x", "1")
	s.tools = append(s.tools, registeredTool{Tool: Tool{Name: "nil"}})

	req, err := jsonrpc.NewRequest(jsonrpc.IntID(1), MethodToolsCall, callToolParams{Name: "nil"})
	require.NoError(t, err)
	res, rpcErr := s.safeDispatch(context.Background(), req)
	require.Nil(t, rpcErr)
	assert.True(t, res.(*CallToolResult).IsError)
}
