package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the only protocol version accepted on the wire.
const Version = "2.0"

// Standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Kind tells requests, notifications and responses apart.
type Kind int

const (
	// KindRequest has a method and an id.
	KindRequest Kind = iota
	// KindNotification has a method and no id.
	KindNotification
	// KindResponse has an id and exactly one of result or error.
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	}
	return "unknown"
}

// ID is a request id. It keeps the raw JSON so that string and number ids
// survive a round trip untouched. A nil ID means "no id".
type ID json.RawMessage

// StringID returns a string id.
func StringID(s string) ID {
	b, _ := json.Marshal(s)
	return ID(b)
}

// IntID returns a numeric id.
func IntID(n int64) ID {
	return ID(strconv.AppendInt(nil, n, 10))
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == nil {
		return []byte("null"), nil
	}
	return []byte(id), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	*id = append((*id)[:0], b...)
	return nil
}

// String is used for logging and as a map key when correlating responses.
func (id ID) String() string {
	return string(id)
}

func (id ID) valid() bool {
	if len(id) == 0 {
		return false
	}
	switch id[0] {
	case '"':
		var s string
		return json.Unmarshal(id, &s) == nil
	case 'n':
		return bytes.Equal(id, []byte("null"))
	default:
		var n json.Number
		return json.Unmarshal(id, &n) == nil
	}
}

// Error is the error member of a response.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message is one JSON-RPC 2.0 request, notification or response.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewRequest builds a request. params may be nil.
func NewRequest(id ID, method string, params any) (Message, error) {
	raw, err := marshalOptional(params)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification. params may be nil.
func NewNotification(method string, params any) (Message, error) {
	raw, err := marshalOptional(params)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult builds a successful response.
func NewResult(id ID, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, err
	}
	return Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError builds an error response.
func NewError(id ID, code int, message string) Message {
	if id == nil {
		id = ID("null")
	}
	return Message{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

func marshalOptional(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// Kind classifies a message that passed Validate.
func (m Message) Kind() Kind {
	switch {
	case m.Method != "" && m.ID != nil:
		return KindRequest
	case m.Method != "":
		return KindNotification
	default:
		return KindResponse
	}
}

// Validate checks the structural rules of JSON-RPC 2.0.
func (m Message) Validate() error {
	if m.JSONRPC != Version {
		return fmt.Errorf("unsupported jsonrpc version %q", m.JSONRPC)
	}
	if m.ID != nil && !m.ID.valid() {
		return fmt.Errorf("invalid id %s", m.ID)
	}
	if m.Method != "" {
		if m.Result != nil || m.Error != nil {
			return fmt.Errorf("%s carries a result or error", m.Method)
		}
		if m.Params != nil && !isStructured(m.Params) {
			return fmt.Errorf("params of %s must be an object or array", m.Method)
		}
		return nil
	}
	if m.ID == nil {
		return fmt.Errorf("message has neither method nor id")
	}
	if (m.Result == nil) == (m.Error == nil) {
		return fmt.Errorf("response %s must have exactly one of result or error", m.ID)
	}
	return nil
}

func isStructured(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}
