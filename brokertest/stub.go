// Package brokertest provides minimal ServiceBroker stand-ins shared by this
// module's own test suites (aggregator, brokerclient, container, discovery,
// the relay brokers, server) so each package doesn't redefine the same fake.
package brokertest

import (
	"context"
	"io"
	"sync"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/descriptor"
	"github.com/brokered/svcbroker/moniker"
)

// StubBroker is a ServiceBroker that always resolves GetProxy/GetPipe to a
// fixed value (or error), and that records whether it was disposed. Tests
// inspect Disposed (and DisposableProxy.DisposeCount for proxies) to assert
// aggregator/relay teardown behavior.
type StubBroker struct {
	mu       sync.Mutex
	Emitter  *broker.Emitter
	Proxy    any
	Pipe     io.ReadWriteCloser
	Err      error
	// BuildFunc, when set, is called instead of returning Proxy directly —
	// tests use it to count constructions or hand back a fresh value per call.
	BuildFunc func() (any, error)
	disposed  bool
	calls     int
}

// New returns a StubBroker that resolves to proxy/pipe/err.
func New(proxy any, pipe io.ReadWriteCloser, err error) *StubBroker {
	return &StubBroker{Emitter: broker.NewEmitter(), Proxy: proxy, Pipe: pipe, Err: err}
}

func (s *StubBroker) GetProxy(ctx context.Context, d descriptor.Descriptor, opts activation.Options, build broker.ProxyBuilder) (any, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if s.BuildFunc != nil {
		return s.BuildFunc()
	}
	if s.Proxy == nil {
		return nil, nil
	}
	if build != nil {
		return build(ctx, nil, s.Proxy)
	}
	return s.Proxy, nil
}

func (s *StubBroker) GetPipe(ctx context.Context, m moniker.Moniker, opts activation.Options) (io.ReadWriteCloser, error) {
	return s.Pipe, s.Err
}

func (s *StubBroker) OnAvailabilityChanged(handler broker.AvailabilityHandler) func() {
	return s.Emitter.Subscribe(handler)
}

// Calls returns how many times GetProxy was invoked.
func (s *StubBroker) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Dispose implements disposable.Disposable for use as an aggregator member
// or cache entry. Idempotent; Disposed reports whether it has run.
func (s *StubBroker) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	return nil
}

// Disposed reports whether Dispose has run.
func (s *StubBroker) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// DisposableProxy is a simple any-valued proxy stand-in that records
// whether/how many times Dispose ran, for rental/invalidation tests.
type DisposableProxy struct {
	mu       sync.Mutex
	disposed int
}

func (p *DisposableProxy) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposed++
	return nil
}

func (p *DisposableProxy) DisposeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}
