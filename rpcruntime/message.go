// Package rpcruntime is the reference RPC runtime a brokered service's
// proxy and server activation hand off to once a stream has been
// established. The broker graph (broker, aggregator, brokerclient,
// remotebroker) only ever needs *some* wire protocol riding over the
// io.ReadWriteCloser it produces; this package is one concrete, swappable
// choice, generalized from mini-RPC's message/protocol/codec/server/client
// stack (message/message.go, protocol/protocol.go, codec/*.go,
// server/service.go, client/client.go) from "one TCP connection, discovered
// via etcd, load balanced across instances" down to "one already-open
// duplex stream, already pointed at the right instance by the broker".
package rpcruntime

// Envelope carries one call's request or response, generalizing mini-RPC's
// RPCMessage (message/message.go) with a trace field alongside the
// free-form metadata map, since SPEC_FULL.md's tracing integration (§11)
// needs a carrier for the caller's otel trace ID.
type Envelope struct {
	ServiceMethod string            // "Service.Method", same convention as the teacher
	Error         string            // non-empty on a failed response
	Payload       []byte            // serialized args (request) or reply (response)
	TraceParent   string            // caller's hex trace ID; non-empty makes the server open a span
	Metadata      map[string]string // free-form call metadata (credentials, culture, ...)
}
