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

// NonDisposable wraps a broker.ServiceBroker in a pass-through that
// intentionally does NOT implement disposable.Disposable, so recipients
// sharing it cannot shorten its lifetime by disposing their own reference.
type NonDisposable struct {
	inner broker.ServiceBroker
}

// Wrap returns a broker.ServiceBroker with no Dispose method, backed by
// inner.
func Wrap(inner broker.ServiceBroker) broker.ServiceBroker {
	return &NonDisposable{inner: inner}
}

func (n *NonDisposable) GetProxy(ctx context.Context, d descriptor.Descriptor, opts activation.Options, build broker.ProxyBuilder) (any, error) {
	return n.inner.GetProxy(ctx, d, opts, build)
}

func (n *NonDisposable) GetPipe(ctx context.Context, m moniker.Moniker, opts activation.Options) (io.ReadWriteCloser, error) {
	return n.inner.GetPipe(ctx, m, opts)
}

func (n *NonDisposable) OnAvailabilityChanged(handler broker.AvailabilityHandler) func() {
	return n.inner.OnAvailabilityChanged(func(_ broker.ServiceBroker, args brokerproto.AvailabilityChangedEventArgs) {
		handler(n, args)
	})
}

// Note: NonDisposable deliberately has no Dispose method — do not add one.
