// Package brokerclient implements the rental-counted proxy cache described
// in spec §4.5 (ServiceBrokerClient): a cache mapping (moniker, contract
// type) to a lazily constructed proxy, shared across concurrent callers,
// invalidated coherently when the underlying broker announces an
// availability change. Grounded on the same lazy-once-guarded-construction
// idiom as aggregator.Lazy, which itself follows mini-RPC's
// registry.etcd_registry.go lazy-client-connect pattern; the rental
// bookkeeping (rented-proxies / stale-rented-proxies sets) is new, since
// mini-RPC never shares a connection object across unrelated callers the
// way a cached proxy is shared here.
package brokerclient

import (
	"context"
	"reflect"
	"sync"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/brokererr"
	"github.com/brokered/svcbroker/brokerproto"
	"github.com/brokered/svcbroker/descriptor"
	"github.com/brokered/svcbroker/moniker"
)

// Disposable is implemented by proxies that need explicit teardown; proxies
// that don't implement it are simply dropped.
type Disposable interface {
	Dispose() error
}

type cacheKey struct {
	moniker moniker.Moniker
	typ     reflect.Type
}

// Client is the proxy cache in front of a broker.ServiceBroker.
type Client struct {
	inner broker.ServiceBroker
	build broker.ProxyBuilder

	mu     sync.Mutex
	cache  map[cacheKey]*lazyEntry
	rented map[*lazyEntry]int
	stale  map[*lazyEntry]bool

	unsubAvailability func()
	invalidation       *invalidationDispatcher
}

// New wraps inner with a proxy cache. build is the default ProxyBuilder
// handed to inner.GetProxy for every lookup (e.g. rpcruntime.BuildProxy).
func New(inner broker.ServiceBroker, build broker.ProxyBuilder) *Client {
	c := &Client{
		inner:        inner,
		build:        build,
		cache:        make(map[cacheKey]*lazyEntry),
		rented:       make(map[*lazyEntry]int),
		stale:        make(map[*lazyEntry]bool),
		invalidation: newInvalidationDispatcher(),
	}
	c.unsubAvailability = inner.OnAvailabilityChanged(func(sender broker.ServiceBroker, args brokerproto.AvailabilityChangedEventArgs) {
		c.onAvailabilityChanged(args)
	})
	return c
}

// Rental pins a cached proxy of type T while held. Consumers must call
// Release when done; they must never call Dispose on the proxy directly.
type Rental[T any] struct {
	client *Client
	entry  *lazyEntry
	proxy  T
}

// Proxy returns the rented proxy value.
func (r *Rental[T]) Proxy() T { return r.proxy }

// Release returns the rental. If this was the last outstanding rental on
// an entry that was invalidated while rented, the stale proxy is disposed
// now, per spec §4.5's release algorithm.
func (r *Rental[T]) Release() error {
	return r.client.release(r.entry)
}

// GetProxy returns a rental pinning the cached proxy for (d.Moniker, T),
// constructing it via the Client's broker on first access. Concurrent
// GetProxy calls for the same key observe the identical underlying proxy
// while the entry is current.
func GetProxy[T any](c *Client, ctx context.Context, d descriptor.Descriptor, opts activation.Options) (*Rental[T], error) {
	var zero T
	typ := reflect.TypeOf(&zero).Elem()
	key := cacheKey{moniker: d.Moniker, typ: typ}

	c.mu.Lock()
	entry, ok := c.cache[key]
	if !ok {
		entry = newLazyEntry()
		c.cache[key] = entry
	}
	c.mu.Unlock()

	raw, err := entry.ensure(func() (any, error) {
		return c.inner.GetProxy(ctx, d, opts, c.build)
	})
	if err != nil {
		return nil, err
	}

	typed, ok := raw.(T)
	if !ok {
		return nil, brokererr.NewServiceActivationError(d.Moniker.String(), errWrongContractType(typ))
	}

	c.mu.Lock()
	c.rented[entry]++
	c.mu.Unlock()

	return &Rental[T]{client: c, entry: entry, proxy: typed}, nil
}

func (c *Client) release(entry *lazyEntry) error {
	c.mu.Lock()
	c.rented[entry]--
	n := c.rented[entry]
	var dispose any
	disposeOK := false
	if n <= 0 {
		delete(c.rented, entry)
		if c.stale[entry] {
			delete(c.stale, entry)
			if v, err := entry.result(); err == nil {
				dispose, disposeOK = v, true
			}
		}
	}
	c.mu.Unlock()

	if disposeOK {
		return disposeIfDisposable(dispose)
	}
	return nil
}

func (c *Client) onAvailabilityChanged(args brokerproto.AvailabilityChangedEventArgs) {
	c.mu.Lock()
	var toDispose []any
	impactedMonikers := make([]moniker.Moniker, 0, len(args.ImpactedServices))
	impactedMonikers = append(impactedMonikers, args.ImpactedServices...)

	for key, entry := range c.cache {
		if !args.OtherServicesImpacted && !args.Impacts(key.moniker) {
			continue
		}
		delete(c.cache, key)
		if c.rented[entry] > 0 {
			c.stale[entry] = true
			continue
		}
		if v, err := entry.result(); err == nil && v != nil {
			toDispose = append(toDispose, v)
		}
	}
	c.mu.Unlock()

	for _, v := range toDispose {
		_ = disposeIfDisposable(v)
	}
	c.invalidation.trigger(impactedMonikers)
}

// OnInvalidated registers a handler run on a dedicated worker whenever
// cache entries are invalidated, per spec §4.5's invalidated event: never
// inlined under the cache's lock, never run concurrently with itself, and
// preempted via its context when a newer invalidation supersedes it.
func (c *Client) OnInvalidated(handler func(ctx context.Context, impacted []moniker.Moniker)) func() {
	return c.invalidation.subscribe(handler)
}

// Dispose unsubscribes from the underlying broker's availability events,
// invalidates every cached entry, and stops the invalidation worker.
// Unrented proxies are disposed immediately; proxies still rented are
// disposed when their last rental is released.
func (c *Client) Dispose() error {
	if c.unsubAvailability != nil {
		c.unsubAvailability()
	}
	c.onAvailabilityChanged(brokerproto.AvailabilityChangedEventArgs{OtherServicesImpacted: true})
	c.invalidation.stop()
	return nil
}

func disposeIfDisposable(v any) error {
	if d, ok := v.(Disposable); ok {
		return d.Dispose()
	}
	return nil
}

type wrongContractType struct{ typ reflect.Type }

func errWrongContractType(t reflect.Type) error { return &wrongContractType{typ: t} }

func (e *wrongContractType) Error() string {
	return "brokerclient: proxy does not implement " + e.typ.String()
}
