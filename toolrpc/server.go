package toolrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ray1422/mcprtc"
	"github.com/ray1422/mcprtc/jsonrpc"
	log "github.com/sirupsen/logrus"
)

// Handler runs one tool call. A returned error becomes a result with
// IsError set, not a protocol error.
type Handler func(ctx context.Context, args json.RawMessage) (*CallToolResult, error)

type registeredTool struct {
	Tool
	handler Handler
}

// Server answers tool requests arriving on one transport.
type Server struct {
	info Implementation

	mu    sync.RWMutex
	tools []registeredTool
}

// NewServer returns a server announcing itself as name/version.
func NewServer(name, version string) *Server {
	return &Server{info: Implementation{Name: name, Version: version}}
}

// RegisterTool adds a tool. A nil schema means any object. Registering a
// name twice replaces the earlier tool.
func (s *Server) RegisterTool(name, description string, schema json.RawMessage, h Handler) error {
	if h == nil {
		return fmt.Errorf("registering %q: %w", name, ErrNilHandler)
	}
	if schema == nil {
		schema = emptyObjectSchema
	}
	t := registeredTool{Tool: Tool{Name: name, Description: description, InputSchema: schema}, handler: h}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tools {
		if s.tools[i].Name == name {
			s.tools[i] = t
			return nil
		}
	}
	s.tools = append(s.tools, t)
	return nil
}

// Tools lists the registered tools in registration order.
func (s *Server) Tools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]Tool, len(s.tools))
	for i, t := range s.tools {
		ret[i] = t.Tool
	}
	return ret
}

func (s *Server) lookup(name string) (registeredTool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tools {
		if t.Name == name {
			return t, true
		}
	}
	return registeredTool{}, false
}

// Serve starts t and answers requests until t closes or ctx ends, then
// closes t.
func (s *Server) Serve(ctx context.Context, t mcprtc.Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	var once sync.Once
	t.OnClose(func() { once.Do(func() { close(done) }) })
	t.OnError(func(err error) {
		log.WithError(err).Warn("toolrpc server: transport error")
	})
	t.OnMessage(func(msg jsonrpc.Message) {
		go s.handle(ctx, t, msg)
	})

	if err := t.Start(ctx); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if err := t.Close(); err != nil {
			log.WithError(err).Debug("toolrpc server: closing transport")
		}
		return ctx.Err()
	}
}

func (s *Server) handle(ctx context.Context, t mcprtc.Transport, msg jsonrpc.Message) {
	kind := msg.Kind()
	if kind == jsonrpc.KindResponse {
		log.Debugf("toolrpc server: ignoring response %s", msg.ID)
		return
	}
	result, rpcErr := s.safeDispatch(ctx, msg)
	if kind == jsonrpc.KindNotification {
		return
	}

	var reply jsonrpc.Message
	if rpcErr != nil {
		reply = jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: msg.ID, Error: rpcErr}
	} else {
		var err error
		reply, err = jsonrpc.NewResult(msg.ID, result)
		if err != nil {
			reply = jsonrpc.NewError(msg.ID, jsonrpc.CodeInternalError, err.Error())
		}
	}
	if err := t.Send(ctx, reply); err != nil {
		log.WithError(err).Warnf("toolrpc server: replying to %s", msg.Method)
	}
}

// safeDispatch turns a panic while serving msg into an internal error.
func (s *Server) safeDispatch(ctx context.Context, msg jsonrpc.Message) (result any, rpcErr *jsonrpc.Error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("toolrpc server: panic serving %s: %v", msg.Method, r)
			result, rpcErr = nil, &jsonrpc.Error{Code: jsonrpc.CodeInternalError, Message: fmt.Sprint("internal error: ", r)}
		}
	}()
	return s.dispatch(ctx, msg)
}

func (s *Server) dispatch(ctx context.Context, msg jsonrpc.Message) (any, *jsonrpc.Error) {
	switch msg.Method {
	case MethodInitialize:
		var p initializeParams
		if len(msg.Params) > 0 {
			if err := json.Unmarshal(msg.Params, &p); err != nil {
				return nil, invalidParams(err)
			}
		}
		log.Infof("toolrpc server: %s %s connected", p.ClientInfo.Name, p.ClientInfo.Version)
		return InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    json.RawMessage(`{"tools":{}}`),
			ServerInfo:      s.info,
		}, nil
	case MethodInitialized:
		return nil, nil
	case MethodPing:
		return struct{}{}, nil
	case MethodToolsList:
		return listToolsResult{Tools: s.Tools()}, nil
	case MethodToolsCall:
		var p callToolParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return nil, invalidParams(err)
		}
		tool, ok := s.lookup(p.Name)
		if !ok {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: fmt.Sprintf("unknown tool %q", p.Name)}
		}
		res, err := tool.call(ctx, p.Arguments)
		if err != nil {
			res = TextResult(err.Error())
			res.IsError = true
		}
		if res == nil {
			res = &CallToolResult{Content: []Content{}}
		}
		return res, nil
	}
	return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", msg.Method)}
}

// call runs the handler. A panic becomes an error result so one broken
// tool cannot take the server down.
func (t registeredTool) call(ctx context.Context, args json.RawMessage) (res *CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("toolrpc server: tool %s panicked: %v", t.Name, r)
			res, err = nil, fmt.Errorf("tool %s panicked: %v", t.Name, r)
		}
	}()
	return t.handler(ctx, args)
}

func invalidParams(err error) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
}
