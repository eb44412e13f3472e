// Package jsonrpc encodes and decodes the JSON-RPC 2.0 messages carried over
// a data channel. One frame holds exactly one message; the data channel
// keeps message boundaries so no length prefix is written.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var errBatch = errors.New("batch messages are not supported")

// MalformedMessageError is returned by Decode when a frame is not a valid
// JSON-RPC message. Frame holds a copy of the raw bytes.
type MalformedMessageError struct {
	Frame []byte
	Err   error
}

func (e *MalformedMessageError) Error() string {
	const limit = 64
	frame := e.Frame
	suffix := ""
	if len(frame) > limit {
		frame, suffix = frame[:limit], "..."
	}
	return fmt.Sprintf("malformed jsonrpc frame %q%s: %v", frame, suffix, e.Err)
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// Encode validates msg and serializes it into one frame.
func Encode(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("encoding jsonrpc message: %w", err)
	}
	return json.Marshal(msg)
}

// Decode parses and validates one frame. Any failure is a
// *MalformedMessageError.
func Decode(frame []byte) (Message, error) {
	var msg Message
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return Message{}, malformed(frame, errBatch)
	}
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Message{}, malformed(frame, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, malformed(frame, err)
	}
	return msg, nil
}

func malformed(frame []byte, err error) error {
	return &MalformedMessageError{
		Frame: append([]byte(nil), frame...),
		Err:   err,
	}
}
