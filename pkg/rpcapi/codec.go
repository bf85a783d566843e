package rpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated over the wire as the grpc content-subtype
// ("application/grpc+json"); the client must dial with
// grpc.CallContentSubtype(codecName) to match.
const codecName = "json"

// jsonCodec implements grpc/encoding.Codec for the plain Go request/
// response structs in messages.go. grpc's codec interface only requires
// Marshal/Unmarshal on interface{}, not proto.Message, so a hand-written
// service never needs generated message types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
