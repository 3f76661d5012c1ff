package aggregator

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/brokerproto"
	"github.com/brokered/svcbroker/descriptor"
	"github.com/brokered/svcbroker/moniker"
)

// errLazyDisposed is returned by GetProxy/GetPipe when Dispose ran before
// the inner broker was ever built.
var errLazyDisposed = errors.New("aggregator: lazy broker disposed before first use")

// Lazy defers construction of the inner broker until the first request. The
// construction is guarded by a once-only guard so concurrent callers share
// one attempt; a failed construction is cached and returned to every caller
// (construction is never silently retried). Disposal unsubscribes the
// forwarded event handler even if construction is still in flight — as a
// continuation scheduled to run once construction settles, per spec §4.4.
type Lazy struct {
	build   func() (broker.ServiceBroker, error)
	emitter *broker.Emitter

	once    sync.Once
	done    chan struct{}
	inner   broker.ServiceBroker
	buildErr error

	disposeMu sync.Mutex
	disposed  bool
	unsub     func()
}

// NewLazy wraps build, a constructor invoked at most once, on first use.
func NewLazy(build func() (broker.ServiceBroker, error)) *Lazy {
	return &Lazy{build: build, emitter: broker.NewEmitter(), done: make(chan struct{})}
}

func (l *Lazy) ensure() (broker.ServiceBroker, error) {
	l.once.Do(func() {
		defer close(l.done)
		inner, err := l.build()
		if err != nil {
			l.buildErr = err
			return
		}
		l.inner = inner
		unsub := inner.OnAvailabilityChanged(func(sender broker.ServiceBroker, args brokerproto.AvailabilityChangedEventArgs) {
			l.emitter.Fire(l, args)
		})
		l.disposeMu.Lock()
		if l.disposed {
			// Dispose() ran while construction was in flight; unsubscribe
			// immediately instead of leaving the hook dangling.
			l.disposeMu.Unlock()
			unsub()
			return
		}
		l.unsub = unsub
		l.disposeMu.Unlock()
	})
	<-l.done
	return l.inner, l.buildErr
}

func (l *Lazy) GetProxy(ctx context.Context, d descriptor.Descriptor, opts activation.Options, build broker.ProxyBuilder) (any, error) {
	inner, err := l.ensure()
	if err != nil {
		return nil, err
	}
	return inner.GetProxy(ctx, d, opts, build)
}

func (l *Lazy) GetPipe(ctx context.Context, m moniker.Moniker, opts activation.Options) (io.ReadWriteCloser, error) {
	inner, err := l.ensure()
	if err != nil {
		return nil, err
	}
	return inner.GetPipe(ctx, m, opts)
}

func (l *Lazy) OnAvailabilityChanged(handler broker.AvailabilityHandler) func() {
	return l.emitter.Subscribe(handler)
}

// Dispose unsubscribes the forwarded event handler. If construction is
// still in flight, ensure's own disposed-check (above) unsubscribes as soon
// as it settles. If construction has not even started, Dispose claims the
// once-guard itself so build never runs and every later ensure() call fails
// fast with errLazyDisposed instead of leaving a goroutine blocked on l.done
// forever waiting for a build that will never happen.
func (l *Lazy) Dispose() error {
	l.disposeMu.Lock()
	l.disposed = true
	unsub := l.unsub
	l.disposeMu.Unlock()
	if unsub != nil {
		unsub()
		return nil
	}
	l.once.Do(func() {
		l.buildErr = errLazyDisposed
		close(l.done)
	})
	return nil
}
