// Package broker defines the two core broker contracts described in spec
// §4.3: IServiceBroker, the consumer-facing proxy/pipe request surface, and
// IRemoteServiceBroker, the wire-level contract a remote broker exposes.
// Both are interfaces here (Go idiom for "contract"), generalizing the
// teacher's single concrete Server/Client pair into the pluggable broker
// graph the aggregators and relays compose.
package broker

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/brokerproto"
	"github.com/brokered/svcbroker/descriptor"
	"github.com/brokered/svcbroker/moniker"
)

// AvailabilityHandler is invoked when any service previously queried for on
// a particular broker instance may have changed. The sender is always the
// broker instance the handler is registered on — aggregators forward this
// event with themselves as sender (spec §4.4), never the wrapped inner
// broker, so observers never need to know the composition shape.
type AvailabilityHandler func(sender ServiceBroker, args brokerproto.AvailabilityChangedEventArgs)

// ServiceBroker is the consumer-facing contract: request a typed proxy or a
// raw duplex pipe by descriptor/moniker, and subscribe to availability
// changes.
type ServiceBroker interface {
	// GetProxy resolves descriptor to a proxy of the given contract,
	// invoking build to materialize it from the resolved duplex stream (or
	// in-process target). Returns (nil, nil) when no matching service
	// exists. Fails with a *brokererr.ServiceActivationError for any other
	// discovery/activation failure.
	GetProxy(ctx context.Context, d descriptor.Descriptor, opts activation.Options, build ProxyBuilder) (any, error)

	// GetPipe resolves moniker to a duplex byte stream. Fails if the
	// service exists but only in-process activation is available — a pipe
	// cannot represent that.
	GetPipe(ctx context.Context, m moniker.Moniker, opts activation.Options) (io.ReadWriteCloser, error)

	// OnAvailabilityChanged subscribes handler and returns an unsubscribe
	// function.
	OnAvailabilityChanged(handler AvailabilityHandler) (unsubscribe func())
}

// ProxyBuilder materializes a typed proxy from a resolved duplex stream, or
// from a local in-process target directly (stream == nil). This is the
// seam through which the out-of-scope RPC runtime collaborator (spec §1)
// plugs in; rpcruntime.Runtime satisfies it.
type ProxyBuilder func(ctx context.Context, stream io.ReadWriteCloser, localTarget any) (any, error)

// RemoteServiceBroker is the wire-level contract described in spec §4.3 and
// §6. Implementations are the relay brokers (ipcrelay, muxrelay) on the
// serving side, consumed by remotebroker.Client on the requesting side.
type RemoteServiceBroker interface {
	// Handshake is called once per connection. Fails with ErrNotSupported
	// if the server cannot satisfy any of the client's supported connection
	// kinds.
	Handshake(ctx context.Context, client brokerproto.ClientMetadata) error

	// RequestServiceChannel returns connection instructions for moniker. On
	// success resources may be reserved; the caller must either connect to
	// the instructions or cancel.
	RequestServiceChannel(ctx context.Context, m moniker.Moniker, opts activation.Options) (brokerproto.ConnectionInfo, error)

	// CancelServiceRequest releases any resources reserved for requestID.
	// Idempotent.
	CancelServiceRequest(ctx context.Context, requestID [16]byte) error
}

// Emitter is a small reusable availability-changed event hub: fan-out to
// subscribers, each removable independently. Aggregators and the proxy
// cache both need "forward this event under my own identity," so the hub is
// factored out rather than duplicated per composer.
type Emitter struct {
	mu       sync.Mutex
	handlers map[int]AvailabilityHandler
	nextID   int
}

// NewEmitter returns a ready-to-use event hub.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[int]AvailabilityHandler)}
}

// Subscribe registers handler and returns an unsubscribe function that is
// safe to call more than once and concurrently.
func (e *Emitter) Subscribe(handler AvailabilityHandler) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.handlers[id] = handler
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.handlers, id)
			e.mu.Unlock()
		})
	}
}

// Fire invokes every current subscriber with sender and args, in
// registration order. Aggregator fan-out order is per inner broker, per
// spec §5; this hub snapshots the subscriber list under lock then invokes
// outside it, so a handler that unsubscribes during Fire cannot deadlock.
func (e *Emitter) Fire(sender ServiceBroker, args brokerproto.AvailabilityChangedEventArgs) {
	e.mu.Lock()
	ids := make([]int, 0, len(e.handlers))
	for id := range e.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	snapshot := make([]AvailabilityHandler, len(ids))
	for i, id := range ids {
		snapshot[i] = e.handlers[id]
	}
	e.mu.Unlock()

	for _, h := range snapshot {
		h(sender, args)
	}
}
