// Package aggregator implements the five broker composers from spec §4.4:
// Sequential, ParallelAtMostOne, Lazy, ForceMarshal, and NonDisposable. All
// of them forward the availability-changed event under their own identity
// as sender (spec §4.4 "observers see the aggregator as source, not the
// inner broker"), so consumers never need to know the composition shape —
// generalizing the teacher's single flat Server into a composable graph.
package aggregator

import (
	"context"
	"io"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/brokerproto"
	"github.com/brokered/svcbroker/descriptor"
	"github.com/brokered/svcbroker/disposable"
	"github.com/brokered/svcbroker/moniker"
)

// Sequential tries inner brokers in order and returns the first non-null
// result. No error is raised if every broker returns null (not-found);
// Sequential itself returns nil, nil.
type Sequential struct {
	inner    []broker.ServiceBroker
	emitter  *broker.Emitter
	unsubAll []func()
}

// NewSequential composes inners, trying each in order on every request.
func NewSequential(inners ...broker.ServiceBroker) *Sequential {
	s := &Sequential{inner: inners, emitter: broker.NewEmitter()}
	for _, in := range inners {
		unsub := in.OnAvailabilityChanged(func(sender broker.ServiceBroker, args brokerproto.AvailabilityChangedEventArgs) {
			s.emitter.Fire(s, args)
		})
		s.unsubAll = append(s.unsubAll, unsub)
	}
	return s
}

func (s *Sequential) GetProxy(ctx context.Context, d descriptor.Descriptor, opts activation.Options, build broker.ProxyBuilder) (any, error) {
	for _, in := range s.inner {
		proxy, err := in.GetProxy(ctx, d, opts, build)
		if err != nil {
			return nil, err
		}
		if proxy != nil {
			return proxy, nil
		}
	}
	return nil, nil
}

func (s *Sequential) GetPipe(ctx context.Context, m moniker.Moniker, opts activation.Options) (io.ReadWriteCloser, error) {
	for _, in := range s.inner {
		pipe, err := in.GetPipe(ctx, m, opts)
		if err != nil {
			return nil, err
		}
		if pipe != nil {
			return pipe, nil
		}
	}
	return nil, nil
}

func (s *Sequential) OnAvailabilityChanged(handler broker.AvailabilityHandler) func() {
	return s.emitter.Subscribe(handler)
}

// Dispose unsubscribes all forwarded event hooks from the inner brokers. It
// does not dispose the inner brokers themselves — Sequential borrows them
// (spec §3 "IServiceBroker references are borrowed").
func (s *Sequential) Dispose() error {
	for _, unsub := range s.unsubAll {
		unsub()
	}
	return nil
}

var _ disposable.Disposable = (*Sequential)(nil)
