package aggregator

import (
	"context"
	"io"
	"sync"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/brokererr"
	"github.com/brokered/svcbroker/brokerproto"
	"github.com/brokered/svcbroker/descriptor"
	"github.com/brokered/svcbroker/moniker"
)

// ParallelAtMostOne fans out to every inner broker concurrently and expects
// at most one non-null result. If more than one arrives, ALL results are
// disposed (or, for pipes, completed with an error) and the call fails with
// a *brokererr.ServiceActivationError "too many services" (spec §4.4).
// Tie-breaking is purely by cardinality, never by broker ordering.
type ParallelAtMostOne struct {
	inner    []broker.ServiceBroker
	emitter  *broker.Emitter
	unsubAll []func()
}

func NewParallelAtMostOne(inners ...broker.ServiceBroker) *ParallelAtMostOne {
	p := &ParallelAtMostOne{inner: inners, emitter: broker.NewEmitter()}
	for _, in := range inners {
		unsub := in.OnAvailabilityChanged(func(sender broker.ServiceBroker, args brokerproto.AvailabilityChangedEventArgs) {
			p.emitter.Fire(p, args)
		})
		p.unsubAll = append(p.unsubAll, unsub)
	}
	return p
}

type proxyResult struct {
	proxy any
	err   error
}

func (p *ParallelAtMostOne) GetProxy(ctx context.Context, d descriptor.Descriptor, opts activation.Options, build broker.ProxyBuilder) (any, error) {
	results := make([]proxyResult, len(p.inner))
	var wg sync.WaitGroup
	for i, in := range p.inner {
		wg.Add(1)
		go func(i int, in broker.ServiceBroker) {
			defer wg.Done()
			proxy, err := in.GetProxy(ctx, d, opts, build)
			results[i] = proxyResult{proxy: proxy, err: err}
		}(i, in)
	}
	wg.Wait()

	var firstErr error
	var nonNull []any
	for _, r := range results {
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
		if r.proxy != nil {
			nonNull = append(nonNull, r.proxy)
		}
	}
	if firstErr != nil {
		disposeAll(nonNull)
		return nil, firstErr
	}
	switch len(nonNull) {
	case 0:
		return nil, nil
	case 1:
		return nonNull[0], nil
	default:
		disposeAll(nonNull)
		return nil, brokererr.NewServiceActivationError(d.Moniker.String(), errTooMany)
	}
}

type pipeResult struct {
	pipe io.ReadWriteCloser
	err  error
}

func (p *ParallelAtMostOne) GetPipe(ctx context.Context, m moniker.Moniker, opts activation.Options) (io.ReadWriteCloser, error) {
	results := make([]pipeResult, len(p.inner))
	var wg sync.WaitGroup
	for i, in := range p.inner {
		wg.Add(1)
		go func(i int, in broker.ServiceBroker) {
			defer wg.Done()
			pipe, err := in.GetPipe(ctx, m, opts)
			results[i] = pipeResult{pipe: pipe, err: err}
		}(i, in)
	}
	wg.Wait()

	var firstErr error
	var nonNull []io.ReadWriteCloser
	for _, r := range results {
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
		if r.pipe != nil {
			nonNull = append(nonNull, r.pipe)
		}
	}
	if firstErr != nil {
		closeAllWithError(nonNull, firstErr)
		return nil, firstErr
	}
	switch len(nonNull) {
	case 0:
		return nil, nil
	case 1:
		return nonNull[0], nil
	default:
		closeAllWithError(nonNull, errTooMany)
		return nil, brokererr.NewServiceActivationError(m.String(), errTooMany)
	}
}

func (p *ParallelAtMostOne) OnAvailabilityChanged(handler broker.AvailabilityHandler) func() {
	return p.emitter.Subscribe(handler)
}

func (p *ParallelAtMostOne) Dispose() error {
	for _, unsub := range p.unsubAll {
		unsub()
	}
	return nil
}

var errTooMany = errTooManyServices{}

type errTooManyServices struct{}

func (errTooManyServices) Error() string { return "too many services" }

func disposeAll(proxies []any) {
	for _, p := range proxies {
		if d, ok := p.(interface{ Dispose() error }); ok {
			_ = d.Dispose()
		}
	}
}

func closeAllWithError(pipes []io.ReadWriteCloser, cause error) {
	for _, p := range pipes {
		faultOrClose(p, cause)
	}
}
