package aggregator

import (
	"context"
	"io"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/brokerproto"
	"github.com/brokered/svcbroker/descriptor"
	"github.com/brokered/svcbroker/moniker"
)

// Faultable is implemented by duplex streams that can be torn down with an
// explicit error instead of a clean Close — used so ForceMarshal and the
// remote broker client can "complete both halves of the pipe with the
// error" per spec §4.4/§4.7. Streams that don't implement it just get
// Close()'d.
type Faultable interface {
	Fault(err error) error
}

func faultOrClose(stream io.ReadWriteCloser, cause error) {
	if stream == nil {
		return
	}
	if f, ok := stream.(Faultable); ok {
		_ = f.Fault(cause)
		return
	}
	_ = stream.Close()
}

// ForceMarshal re-routes GetProxy through the inner broker's GetPipe,
// forcing use of the wire protocol even when the inner broker would have
// short-circuited to a local in-process object. Useful for testing remote
// behavior against an otherwise-local broker.
type ForceMarshal struct {
	inner broker.ServiceBroker
}

// NewForceMarshal wraps inner.
func NewForceMarshal(inner broker.ServiceBroker) *ForceMarshal {
	return &ForceMarshal{inner: inner}
}

func (f *ForceMarshal) GetProxy(ctx context.Context, d descriptor.Descriptor, opts activation.Options, build broker.ProxyBuilder) (any, error) {
	pipe, err := f.inner.GetPipe(ctx, d.Moniker, opts)
	if err != nil {
		return nil, err
	}
	if pipe == nil {
		return nil, nil
	}
	proxy, err := build(ctx, pipe, nil)
	if err != nil {
		faultOrClose(pipe, err)
		return nil, err
	}
	return proxy, nil
}

func (f *ForceMarshal) GetPipe(ctx context.Context, m moniker.Moniker, opts activation.Options) (io.ReadWriteCloser, error) {
	return f.inner.GetPipe(ctx, m, opts)
}

func (f *ForceMarshal) OnAvailabilityChanged(handler broker.AvailabilityHandler) func() {
	return f.inner.OnAvailabilityChanged(func(_ broker.ServiceBroker, args brokerproto.AvailabilityChangedEventArgs) {
		handler(f, args)
	})
}
