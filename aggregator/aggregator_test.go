package aggregator

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/brokerproto"
	"github.com/brokered/svcbroker/brokertest"
	"github.com/brokered/svcbroker/descriptor"
	"github.com/brokered/svcbroker/moniker"
)

func testDescriptor(t *testing.T) descriptor.Descriptor {
	t.Helper()
	d, err := descriptor.New(moniker.Unversioned("calc"), "json-rpc", descriptor.FormatterUTF8JSON, descriptor.DelimiterBigEndianInt32LengthHeader)
	if err != nil {
		t.Fatalf("descriptor.New: %v", err)
	}
	return d
}

func TestSequentialReturnsFirstNonNull(t *testing.T) {
	empty := brokertest.New(nil, nil, nil)
	hit := brokertest.New("proxy-value", nil, nil)
	neverReached := brokertest.New("other-value", nil, nil)

	seq := NewSequential(empty, hit, neverReached)
	proxy, err := seq.GetProxy(context.Background(), testDescriptor(t), activation.Options{}, nil)
	if err != nil {
		t.Fatalf("GetProxy: %v", err)
	}
	if proxy != "proxy-value" {
		t.Fatalf("proxy = %v, want proxy-value", proxy)
	}
	if neverReached.Calls() != 0 {
		t.Fatalf("broker after the hit should not have been queried")
	}
}

func TestSequentialAllNullReturnsNil(t *testing.T) {
	a := brokertest.New(nil, nil, nil)
	b := brokertest.New(nil, nil, nil)
	seq := NewSequential(a, b)

	proxy, err := seq.GetProxy(context.Background(), testDescriptor(t), activation.Options{}, nil)
	if err != nil || proxy != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", proxy, err)
	}
}

func TestSequentialForwardsAvailabilityUnderOwnIdentity(t *testing.T) {
	inner := brokertest.New(nil, nil, nil)
	seq := NewSequential(inner)

	var gotSender broker.ServiceBroker
	unsub := seq.OnAvailabilityChanged(func(sender broker.ServiceBroker, args brokerproto.AvailabilityChangedEventArgs) {
		gotSender = sender
	})
	defer unsub()

	inner.Emitter.Fire(inner, brokerproto.AvailabilityChangedEventArgs{OtherServicesImpacted: true})
	if gotSender != seq {
		t.Fatalf("expected forwarded event to report the aggregator as sender, got %v", gotSender)
	}
}

func TestSequentialDisposeUnsubscribes(t *testing.T) {
	inner := brokertest.New(nil, nil, nil)
	seq := NewSequential(inner)

	fired := false
	seq.OnAvailabilityChanged(func(sender broker.ServiceBroker, args brokerproto.AvailabilityChangedEventArgs) {
		fired = true
	})
	if err := seq.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	inner.Emitter.Fire(inner, brokerproto.AvailabilityChangedEventArgs{OtherServicesImpacted: true})
	if fired {
		t.Fatalf("handler fired after aggregator disposal unsubscribed it")
	}
}

func TestParallelAtMostOneTooManyDisposesBoth(t *testing.T) {
	proxyA := &brokertest.DisposableProxy{}
	proxyB := &brokertest.DisposableProxy{}
	a := brokertest.New(proxyA, nil, nil)
	b := brokertest.New(proxyB, nil, nil)

	p := NewParallelAtMostOne(a, b)
	_, err := p.GetProxy(context.Background(), testDescriptor(t), activation.Options{}, nil)
	if err == nil {
		t.Fatalf("expected too-many-services error")
	}
	if proxyA.DisposeCount() != 1 {
		t.Fatalf("proxy A not disposed exactly once, got %d", proxyA.DisposeCount())
	}
	if proxyB.DisposeCount() != 1 {
		t.Fatalf("proxy B not disposed exactly once, got %d", proxyB.DisposeCount())
	}
}

func TestParallelAtMostOneSingleHitSucceeds(t *testing.T) {
	a := brokertest.New(nil, nil, nil)
	b := brokertest.New("the-one", nil, nil)
	p := NewParallelAtMostOne(a, b)

	proxy, err := p.GetProxy(context.Background(), testDescriptor(t), activation.Options{}, nil)
	if err != nil {
		t.Fatalf("GetProxy: %v", err)
	}
	if proxy != "the-one" {
		t.Fatalf("proxy = %v", proxy)
	}
}

func TestParallelAtMostOneNoneReturnsNil(t *testing.T) {
	a := brokertest.New(nil, nil, nil)
	b := brokertest.New(nil, nil, nil)
	p := NewParallelAtMostOne(a, b)

	proxy, err := p.GetProxy(context.Background(), testDescriptor(t), activation.Options{}, nil)
	if err != nil || proxy != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", proxy, err)
	}
}

func TestLazyConstructsOnceAndCachesFailure(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	lazy := NewLazy(func() (broker.ServiceBroker, error) {
		calls++
		return nil, boom
	})

	_, err1 := lazy.GetProxy(context.Background(), testDescriptor(t), activation.Options{}, nil)
	_, err2 := lazy.GetProxy(context.Background(), testDescriptor(t), activation.Options{}, nil)
	if !errors.Is(err1, boom) || !errors.Is(err2, boom) {
		t.Fatalf("expected both callers to observe the cached construction failure, got %v / %v", err1, err2)
	}
	if calls != 1 {
		t.Fatalf("constructor invoked %d times, want exactly 1", calls)
	}
}

func TestLazyDeferredConstructionReturnsInnerResult(t *testing.T) {
	built := false
	inner := brokertest.New("lazy-proxy", nil, nil)
	lazy := NewLazy(func() (broker.ServiceBroker, error) {
		built = true
		return inner, nil
	})
	if built {
		t.Fatalf("constructor ran before first use")
	}
	proxy, err := lazy.GetProxy(context.Background(), testDescriptor(t), activation.Options{}, nil)
	if err != nil {
		t.Fatalf("GetProxy: %v", err)
	}
	if proxy != "lazy-proxy" {
		t.Fatalf("proxy = %v", proxy)
	}
	if !built {
		t.Fatalf("constructor never ran")
	}
}

func TestLazyDisposeBeforeFirstUsePreventsConstruction(t *testing.T) {
	built := false
	lazy := NewLazy(func() (broker.ServiceBroker, error) {
		built = true
		return brokertest.New("lazy-proxy", nil, nil), nil
	})

	if err := lazy.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if built {
		t.Fatalf("constructor ran despite Dispose happening before any use")
	}

	_, err := lazy.GetProxy(context.Background(), testDescriptor(t), activation.Options{}, nil)
	if !errors.Is(err, errLazyDisposed) {
		t.Fatalf("GetProxy after Dispose-before-use: got %v, want errLazyDisposed", err)
	}
	if built {
		t.Fatalf("constructor ran on first use after a pre-use Dispose")
	}
}

func TestForceMarshalRoutesThroughPipe(t *testing.T) {
	pipe := &fakePipe{}
	inner := brokertest.New("would-be-local-proxy", pipe, nil)
	fm := NewForceMarshal(inner)

	var gotPipe bool
	build := func(ctx context.Context, stream io.ReadWriteCloser, local any) (any, error) {
		gotPipe = stream == pipe
		return "wire-proxy", nil
	}
	proxy, err := fm.GetProxy(context.Background(), testDescriptor(t), activation.Options{}, broker.ProxyBuilder(build))
	if err != nil {
		t.Fatalf("GetProxy: %v", err)
	}
	if proxy != "wire-proxy" {
		t.Fatalf("proxy = %v", proxy)
	}
	if !gotPipe {
		t.Fatalf("build was not handed the pipe acquired via GetPipe")
	}
}

type fakePipe struct {
	closed  bool
	faulted error
}

func (f *fakePipe) Read(p []byte) (int, error)  { return 0, nil }
func (f *fakePipe) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakePipe) Close() error                { f.closed = true; return nil }
func (f *fakePipe) Fault(err error) error        { f.faulted = err; return nil }

func TestForceMarshalFaultsPipeOnBuildFailure(t *testing.T) {
	pipe := &fakePipe{}
	inner := brokertest.New("ignored", pipe, nil)
	fm := NewForceMarshal(inner)
	boom := errors.New("build failed")

	build := func(ctx context.Context, stream io.ReadWriteCloser, local any) (any, error) {
		return nil, boom
	}
	_, err := fm.GetProxy(context.Background(), testDescriptor(t), activation.Options{}, broker.ProxyBuilder(build))
	if !errors.Is(err, boom) {
		t.Fatalf("expected build error to propagate, got %v", err)
	}
	if pipe.faulted != boom {
		t.Fatalf("pipe was not faulted with the build error")
	}
}

func TestNonDisposableHasNoDisposeMethod(t *testing.T) {
	inner := brokertest.New("x", nil, nil)
	wrapped := Wrap(inner)
	if _, ok := wrapped.(interface{ Dispose() error }); ok {
		t.Fatalf("NonDisposable must not implement Dispose")
	}
	proxy, err := wrapped.GetProxy(context.Background(), testDescriptor(t), activation.Options{}, nil)
	if err != nil || proxy != "x" {
		t.Fatalf("pass-through broken: proxy=%v err=%v", proxy, err)
	}
}
