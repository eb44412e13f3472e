// Package toolrpc is a small tool-calling session over an mcprtc
// transport. A Server exposes named tools; a Client lists and calls them.
package toolrpc

import (
	"encoding/json"
	"errors"
)

// ProtocolVersion is announced during initialize.
const ProtocolVersion = "2024-11-05"

// method names
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// ErrSessionClosed is returned for calls pending when the transport closed.
var ErrSessionClosed = errors.New("toolrpc: session closed")

// ErrNilHandler is returned by RegisterTool for a tool without a handler.
var ErrNilHandler = errors.New("toolrpc: nil tool handler")

// Implementation names one end of a session.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ClientInfo      Implementation  `json:"clientInfo"`
}

// InitializeResult is the server's reply to initialize.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ServerInfo      Implementation  `json:"serverInfo"`
}

// Tool describes one callable tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Content is one item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the outcome of a tool call. IsError marks a failure
// reported by the tool itself.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text joins the text items of the result.
func (r *CallToolResult) Text() string {
	var s string
	for _, c := range r.Content {
		if c.Type == "text" {
			s += c.Text
		}
	}
	return s
}

// TextResult wraps s as a single text item.
func TextResult(s string) *CallToolResult {
	return &CallToolResult{Content: []Content{{Type: "text", Text: s}}}
}

var emptyObjectSchema = json.RawMessage(`{"type":"object"}`)
