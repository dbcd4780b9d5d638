// Package internalrpc names the collaborator boundary for the
// application-level "nebula" RPC codec. Its wire format and protobuf
// schema are out of scope here; this package only defines the shape a
// real implementation would plug into a channel as a codec.Codec.
package internalrpc

import "shardgate/internal/codec"

// Codec is the interface a full internal-RPC implementation satisfies.
// It is identical to codec.Codec; the alias exists so callers can name
// the collaborator boundary explicitly in config and wiring code.
type Codec = codec.Codec

// Unimplemented is a placeholder Codec that refuses to decode or encode
// anything. It lets a channel be configured for the internal-RPC slot
// before a concrete implementation exists, without a nil interface.
type Unimplemented struct{}

func (Unimplemented) Name() string { return "internal-rpc (unimplemented)" }

func (Unimplemented) Decode(buf []byte) ([]codec.Reply, int, codec.Status, error) {
	return nil, 0, codec.FrameErr, errUnimplemented
}

func (Unimplemented) Encode(codec.Message) ([]byte, error) {
	return nil, errUnimplemented
}

var errUnimplemented = unimplementedError("internalrpc: codec not implemented, see package doc")

type unimplementedError string

func (e unimplementedError) Error() string { return string(e) }
