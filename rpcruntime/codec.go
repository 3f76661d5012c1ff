package rpcruntime

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/brokered/svcbroker/descriptor"
)

// Codec is the interface for serializing an Envelope, the same Strategy
// Pattern seam as mini-RPC's codec.Codec (codec/codec.go), swapped here
// from a connection-wide byte flag to the service's descriptor.Formatter.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// CodecFor returns the Codec matching a descriptor's chosen wire format.
func CodecFor(f descriptor.Formatter) (Codec, error) {
	switch f {
	case descriptor.FormatterUTF8JSON:
		return jsonCodec{}, nil
	case descriptor.FormatterMessagePack:
		return msgpackCodec{}, nil
	case descriptor.FormatterBinary:
		return msgpackCodec{}, nil // compact binary without a dedicated hand-rolled codec
	default:
		return nil, fmt.Errorf("rpcruntime: unsupported formatter %v", f)
	}
}

type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Decode(data []byte, v any) error   { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Encode(v any) ([]byte, error)    { return msgpack.Marshal(v) }
func (msgpackCodec) Decode(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
