package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKinds(t *testing.T) {
	cases := []struct {
		frame string
		kind  Kind
	}{
		{`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, KindRequest},
		{`{"jsonrpc":"2.0","id":"abc","method":"tools/call","params":{"name":"greet"}}`, KindRequest},
		{`{"jsonrpc":"2.0","method":"notifications/initialized"}`, KindNotification},
		{`{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`, KindResponse},
		{`{"jsonrpc":"2.0","id":7,"result":null}`, KindResponse},
		{`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`, KindResponse},
	}
	for _, c := range cases {
		msg, err := Decode([]byte(c.frame))
		if assert.NoError(t, err, c.frame) {
			assert.Equal(t, c.kind, msg.Kind(), c.frame)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	frames := []string{
		"not json at all",
		`{"jsonrpc":"1.0","id":1,"method":"x"}`,
		`{"jsonrpc":"2.0"}`,
		`{"jsonrpc":"2.0","id":1}`,
		`{"jsonrpc":"2.0","id":1,"result":1,"error":{"code":1,"message":"x"}}`,
		`{"jsonrpc":"2.0","id":{},"method":"x"}`,
		`{"jsonrpc":"2.0","id":1,"method":"x","params":"scalar"}`,
		`{"jsonrpc":"2.0","id":1,"method":"x","result":{}}`,
		`[{"jsonrpc":"2.0","method":"x"}]`,
	}
	for _, frame := range frames {
		_, err := Decode([]byte(frame))
		var malformedErr *MalformedMessageError
		if assert.True(t, errors.As(err, &malformedErr), frame) {
			assert.Equal(t, []byte(frame), malformedErr.Frame)
			assert.NotNil(t, errors.Unwrap(err))
		}
	}
}

func TestMalformedFrameIsCopied(t *testing.T) {
	frame := []byte("{{{")
	_, err := Decode(frame)
	frame[0] = 'x'

	var malformedErr *MalformedMessageError
	require.True(t, errors.As(err, &malformedErr))
	assert.Equal(t, "{{{", string(malformedErr.Frame))
}

func TestEncodeRejectsInvalid(t *testing.T) {
	_, err := Encode(Message{JSONRPC: Version})
	assert.Error(t, err)

	_, err = Encode(Message{Method: "ping"})
	assert.Error(t, err)
}

// Canonical frames come back byte for byte after decode then encode.
func TestRoundTripFrames(t *testing.T) {
	frames := []string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":"req-1","method":"tools/call","params":{"arguments":{"who":"neo"},"name":"greet"}}`,
		`{"jsonrpc":"2.0","method":"notifications/progress","params":[1,2,3]}`,
		`{"jsonrpc":"2.0","id":42,"result":{"content":[{"text":"Howdy","type":"text"}]}}`,
		`{"jsonrpc":"2.0","id":null,"error":{"code":-32601,"message":"method not found"}}`,
		`{"jsonrpc":"2.0","id":3,"error":{"code":-32000,"message":"boom","data":{"retry":false}}}`,
	}
	for _, frame := range frames {
		msg, err := Decode([]byte(frame))
		require.NoError(t, err, frame)
		encoded, err := Encode(msg)
		require.NoError(t, err, frame)
		assert.Equal(t, frame, string(encoded))
	}
}

func TestBuilders(t *testing.T) {
	req, err := NewRequest(IntID(5), "tools/call", map[string]string{"name": "greet"})
	require.NoError(t, err)
	assert.Equal(t, KindRequest, req.Kind())

	note, err := NewNotification("notifications/initialized", nil)
	require.NoError(t, err)
	assert.Equal(t, KindNotification, note.Kind())
	assert.Nil(t, note.Params)

	res, err := NewResult(StringID("x"), json.RawMessage(`{"ok":true}`))
	require.NoError(t, err)
	assert.NoError(t, res.Validate())

	errMsg := NewError(nil, CodeMethodNotFound, "nope")
	assert.NoError(t, errMsg.Validate())
	assert.Equal(t, "null", errMsg.ID.String())

	for _, msg := range []Message{req, note, res, errMsg} {
		frame, err := Encode(msg)
		require.NoError(t, err)
		decoded, err := Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, msg, decoded)
	}
}
