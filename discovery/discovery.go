// Package discovery composes registry.Registry (etcd-backed moniker lookup),
// loadbalance.Balancer (instance selection), and remotebroker.Client (wire
// dispatch once an instance is picked) into a broker.ServiceBroker that
// resolves a moniker by discovering and dialing a relay broker instance
// over TCP, the network arm spec.md §4.2 calls out alongside the named-pipe
// and multiplexing arms.
//
// This generalizes the teacher's client.Client (client/client.go), whose
// Call flow was Discover → Pick → getTransport → Send: here the final two
// steps are replaced by dialing the picked address and driving it through
// remotebroker.Client's handshake/dispatch instead of a bespoke wire call.
package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/brokerproto"
	"github.com/brokered/svcbroker/descriptor"
	"github.com/brokered/svcbroker/loadbalance"
	"github.com/brokered/svcbroker/moniker"
	"github.com/brokered/svcbroker/registry"
	"github.com/brokered/svcbroker/remotebroker"
)

// DialTimeout bounds how long Client waits to establish a new TCP
// connection to a discovered instance.
const DialTimeout = 5 * time.Second

// connEntry is one cached, already-handshaken connection to a discovered
// instance, keyed by its address.
type connEntry struct {
	addr   string
	client *remotebroker.Client
}

// Client implements broker.ServiceBroker by discovering instances of a
// moniker via a registry.Registry, picking one with a loadbalance.Balancer,
// and dispatching through a cached remotebroker.Client over a dialed TCP
// connection. registry.Watch results are forwarded as availability-changed
// events, per spec.md §3's "the registry's live view of instances feeds
// AvailabilityChanged."
type Client struct {
	reg        registry.Registry
	balancer   loadbalance.Balancer
	credSource remotebroker.CredentialSource
	log        *logrus.Entry
	emitter    *broker.Emitter

	mu         sync.Mutex
	conns      map[string]*connEntry // moniker.String() -> cached connection
	watching   map[string]bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the default logrus logger.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) { c.log = log }
}

// New builds a discovery-backed broker.ServiceBroker.
func New(reg registry.Registry, balancer loadbalance.Balancer, credSource remotebroker.CredentialSource, opts ...Option) *Client {
	c := &Client{
		reg:        reg,
		balancer:   balancer,
		credSource: credSource,
		log:        logrus.NewEntry(logrus.StandardLogger()),
		emitter:    broker.NewEmitter(),
		conns:      make(map[string]*connEntry),
		watching:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// resolve discovers, balances, and dials (or reuses) a connection for m,
// returning (nil, nil) when no instance is currently registered.
func (c *Client) resolve(ctx context.Context, m moniker.Moniker) (*remotebroker.Client, error) {
	instances, err := c.reg.Discover(m)
	if err != nil {
		return nil, fmt.Errorf("discovery: discover %s: %w", m.String(), err)
	}
	if len(instances) == 0 {
		return nil, nil
	}

	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("discovery: pick instance for %s: %w", m.String(), err)
	}

	key := m.String()
	c.mu.Lock()
	entry, ok := c.conns[key]
	c.mu.Unlock()
	if ok && entry.addr == instance.Addr {
		return entry.client, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", instance.Addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: dial %s for %s: %w", instance.Addr, m.String(), err)
	}

	rc, err := remotebroker.ConnectToDuplex(ctx, conn, c.credSource)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("discovery: handshake with %s for %s: %w", instance.Addr, m.String(), err)
	}

	c.mu.Lock()
	if old, exists := c.conns[key]; exists {
		_ = old.client.Close()
	}
	c.conns[key] = &connEntry{addr: instance.Addr, client: rc}
	c.mu.Unlock()

	c.ensureWatch(m)
	return rc, nil
}

// ensureWatch starts (once per moniker) a goroutine consuming
// registry.Watch(m) and firing availability-changed events when the
// instance set changes, invalidating any cached connection to a
// since-removed instance.
func (c *Client) ensureWatch(m moniker.Moniker) {
	key := m.String()
	c.mu.Lock()
	if c.watching[key] {
		c.mu.Unlock()
		return
	}
	c.watching[key] = true
	c.mu.Unlock()

	go func() {
		for instances := range c.reg.Watch(m) {
			c.invalidateIfStale(key, instances)
			c.emitter.Fire(c, brokerproto.AvailabilityChangedEventArgs{ImpactedServices: []moniker.Moniker{m}})
		}
	}()
}

func (c *Client) invalidateIfStale(key string, instances []registry.ServiceInstance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.conns[key]
	if !ok {
		return
	}
	for _, inst := range instances {
		if inst.Addr == entry.addr {
			return
		}
	}
	_ = entry.client.Close()
	delete(c.conns, key)
}

// GetProxy implements broker.ServiceBroker.
func (c *Client) GetProxy(ctx context.Context, d descriptor.Descriptor, opts activation.Options, build broker.ProxyBuilder) (any, error) {
	rc, err := c.resolve(ctx, d.Moniker)
	if err != nil || rc == nil {
		return nil, err
	}
	return rc.GetProxy(ctx, d, opts, build)
}

// GetPipe implements broker.ServiceBroker.
func (c *Client) GetPipe(ctx context.Context, m moniker.Moniker, opts activation.Options) (io.ReadWriteCloser, error) {
	rc, err := c.resolve(ctx, m)
	if err != nil || rc == nil {
		return nil, err
	}
	return rc.GetPipe(ctx, m, opts)
}

// OnAvailabilityChanged implements broker.ServiceBroker.
func (c *Client) OnAvailabilityChanged(handler broker.AvailabilityHandler) func() {
	return c.emitter.Subscribe(handler)
}

// Close releases every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.conns {
		_ = entry.client.Close()
		delete(c.conns, key)
	}
	return nil
}

var _ broker.ServiceBroker = (*Client)(nil)
