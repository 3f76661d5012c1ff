// Package descriptor defines the RPC descriptor: an immutable value naming
// one logical service contract, its wire shape, and optional multiplexing
// setup. Descriptors are reshapeable — With* methods return a modified
// clone, never mutate the receiver — mirroring the teacher's
// protocol.Header as an immutable wire-shape value, generalized from a
// single hardcoded (codec, framing) pair into a chosen combination per
// service.
package descriptor

import (
	"fmt"

	"github.com/brokered/svcbroker/moniker"
)

// Formatter selects the wire serialization for the descriptor's payloads.
// UTF8JSON and Binary mirror the teacher's codec.CodecType; MessagePack is
// the domain-stack addition (see SPEC_FULL.md §11.5).
type Formatter int

const (
	FormatterUTF8JSON Formatter = iota
	FormatterBinary
	FormatterMessagePack
)

func (f Formatter) String() string {
	switch f {
	case FormatterUTF8JSON:
		return "utf8Json"
	case FormatterBinary:
		return "binary"
	case FormatterMessagePack:
		return "messagePack"
	default:
		return "unknown"
	}
}

// Delimiter selects how frames are bounded on the wire.
type Delimiter int

const (
	DelimiterBigEndianInt32LengthHeader Delimiter = iota
	DelimiterHTTPLikeHeaders
)

func (d Delimiter) String() string {
	switch d {
	case DelimiterBigEndianInt32LengthHeader:
		return "bigEndianInt32LengthHeader"
	case DelimiterHTTPLikeHeaders:
		return "httpLikeHeaders"
	default:
		return "unknown"
	}
}

// TraceSink receives per-call tracing hooks. Nothing in this module
// implements or calls it: rpcruntime opens its OpenTelemetry spans through
// otel.Tracer directly. The interface keeps descriptor decoupled from any
// specific tracer.
type TraceSink interface {
	TraceCall(serviceMethod string)
}

// MultiplexingOptions carries optional sub-channel setup for descriptors
// that are reached over a multiplexing-stream relay.
type MultiplexingOptions struct {
	ChannelName string // empty means "allocate a numbered sub-channel"
}

// Descriptor names one logical service contract: a moniker, a protocol tag,
// a formatter, a framing delimiter, an optional client-callback contract
// name (duplex RPC), optional multiplexing options, and an optional trace
// sink. Equality is moniker+formatter+delimiter equality, per spec §3;
// ProtocolTag, ClientCallbackContract, TraceSink, and MultiplexingOptions
// do not participate in equality or hashing.
type Descriptor struct {
	Moniker                 moniker.Moniker
	ProtocolTag             string
	Formatter               Formatter
	Delimiter               Delimiter
	ClientCallbackContract  string
	Multiplexing            *MultiplexingOptions
	Trace                   TraceSink
}

// New constructs a descriptor, rejecting the invalid messagePack+httpLike
// combination at construction time per spec §6.
func New(m moniker.Moniker, protocolTag string, formatter Formatter, delimiter Delimiter) (Descriptor, error) {
	d := Descriptor{Moniker: m, ProtocolTag: protocolTag, Formatter: formatter, Delimiter: delimiter}
	if err := d.validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

func (d Descriptor) validate() error {
	if d.Formatter == FormatterMessagePack && d.Delimiter == DelimiterHTTPLikeHeaders {
		return fmt.Errorf("descriptor: messagePack formatter is incompatible with httpLikeHeaders delimiter")
	}
	return nil
}

// Equal reports moniker+formatter+delimiter equality, per spec §3.
func (d Descriptor) Equal(other Descriptor) bool {
	return d.Moniker.Equal(other.Moniker) && d.Formatter == other.Formatter && d.Delimiter == other.Delimiter
}

// CacheKey returns the value used to key the proxy cache: moniker plus
// formatter/delimiter shape, since two descriptors differing only in
// trace sink or protocol tag address the same cached proxy.
func (d Descriptor) CacheKey() string {
	return fmt.Sprintf("%s|%d|%d", d.Moniker.String(), d.Formatter, d.Delimiter)
}

// WithMoniker returns a clone with Moniker replaced.
func (d Descriptor) WithMoniker(m moniker.Moniker) Descriptor {
	clone := d
	clone.Moniker = m
	return clone
}

// WithTraceSink returns a clone with Trace replaced.
func (d Descriptor) WithTraceSink(sink TraceSink) Descriptor {
	clone := d
	clone.Trace = sink
	return clone
}

// WithMultiplexingOptions returns a clone with Multiplexing replaced.
func (d Descriptor) WithMultiplexingOptions(opts *MultiplexingOptions) Descriptor {
	clone := d
	clone.Multiplexing = opts
	return clone
}

// WithClientCallbackContract returns a clone with ClientCallbackContract
// replaced, used for duplex RPC where the service invokes the consumer back.
func (d Descriptor) WithClientCallbackContract(contract string) Descriptor {
	clone := d
	clone.ClientCallbackContract = contract
	return clone
}
