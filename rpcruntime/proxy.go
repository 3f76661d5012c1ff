package rpcruntime

import (
	"context"
	"io"

	"github.com/brokered/svcbroker/descriptor"
)

// BuildProxy is a broker.ProxyBuilder-shaped function: it is the default
// collaborator GetProxy callers hand to a ServiceBroker when they want the
// rpcruntime reference implementation rather than bringing their own wire
// protocol. The returned proxy is a *Client, whose Call method mirrors
// mini-RPC's own Client.Call(serviceMethod, args, reply) (client/client.go)
// — callers invoke proxy.(*rpcruntime.Client).Call(ctx, "Service.Method",
// args, &reply) exactly as a mini-RPC caller would, minus the discovery and
// load-balancing steps the broker already performed before handing over
// the stream.
func BuildProxy(d descriptor.Descriptor) func(ctx context.Context, stream io.ReadWriteCloser, localTarget any) (any, error) {
	return func(ctx context.Context, stream io.ReadWriteCloser, localTarget any) (any, error) {
		return NewClient(d, stream)
	}
}
