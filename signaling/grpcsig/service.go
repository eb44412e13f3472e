// Package grpcsig carries signaling messages over one gRPC bidirectional
// stream. The side with a public address runs a Hub on its gRPC server and
// hands out a session token; the other side dials with that token.
package grpcsig

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	serviceName    = "mcprtc.signaling.Signaling"
	exchangeMethod = "/" + serviceName + "/Exchange"
	codecName      = "json"
)

// Envelope is the stream message.
type Envelope struct {
	Signal json.RawMessage `json:"signal"`
}

// SignalingServer is the server side of the Signaling service.
type SignalingServer interface {
	Exchange(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SignalingServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "mcprtc/signaling.proto",
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SignalingServer).Exchange(stream)
}

// RegisterSignalingServer registers srv on s.
func RegisterSignalingServer(s grpc.ServiceRegistrar, srv SignalingServer) {
	s.RegisterService(&serviceDesc, srv)
}

// jsonCodec lets the service run without generated protobuf types. Calls
// select it with the "json" content subtype.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
