package signer

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec is a grpc/encoding.Codec that marshals messages as JSON
// instead of protobuf. The teacher's signer isolation boundary depends
// on a generated protobuf package
// (github.com/caesar-terminal/caesar/internal/gen/signer/v1) that does
// not exist anywhere in this tree — there is no .proto source and no
// protoc invocation available here — so reproducing it would mean
// fabricating generated code, which is out of bounds. grpc-go's codec
// registry is a first-class extension point (the same one the default
// "proto" codec is registered through), so swapping in a JSON codec
// keeps google.golang.org/grpc itself genuinely wired — the transport,
// the Unix-domain-socket listener, streaming/unary dispatch, and
// interceptors are all real grpc-go — without inventing protobuf stubs.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
