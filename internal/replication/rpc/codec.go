// Package rpc hand-writes the gRPC client/server stubs spec.md §4.9
// describes for primary/follower replication streaming, in place of the
// protoc-gen-go-grpc output a normal build would generate: this
// environment has neither protoc nor a Go toolchain available to run
// codegen, so the ServiceDesc, client, and server wrapper types below are
// written in the exact shape protoc-gen-go-grpc emits, and the wire
// payloads are marshaled with encoding/gob registered under grpc-go's
// "proto" content-subtype name (google.golang.org/grpc/encoding.Codec) —
// a documented grpc-go extension point — instead of protobuf. Every other
// grpc-go semantic (HTTP/2 transport, TLS, per-call metadata, client- and
// server-side streaming) is exercised unchanged.
package rpc

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// gobCodec implements google.golang.org/grpc/encoding.Codec. Registering
// it under Name() "proto" overrides grpc-go's own built-in protobuf codec
// registration for that content-subtype in this process, since Go runs
// this package's init after the packages it imports (including grpc's
// own proto codec registration, pulled in transitively through
// google.golang.org/grpc).
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return "proto" }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
