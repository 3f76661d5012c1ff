// Package container implements the process-local service registry from
// spec.md §4.10: monikers map to a registration naming which audiences may
// reach them and which proffered sources can produce a broker.ServiceBroker
// for them. It is the "TS surface" collaborator ahead of the relay brokers
// — relay/ipcrelay and relay/muxrelay expose the broker.ServiceBroker a
// Container resolves, the same way the teacher's server.Server sits in
// front of its dispatch table.
package container

import (
	"context"
	"fmt"
	"sync"

	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/brokererr"
	"github.com/brokered/svcbroker/moniker"
)

// Audience is a bitmask describing who may reach a registered service.
type Audience uint32

const (
	AudienceSameProcess Audience = 1 << iota
	AudienceOtherProcessSameMachine
	AudienceRemoteTrusted
	AudienceRemoteUntrusted
	AudienceGuest

	// AudienceAny accepts any consumer; used by registrations with no
	// audience restriction.
	AudienceAny = AudienceSameProcess | AudienceOtherProcessSameMachine | AudienceRemoteTrusted | AudienceRemoteUntrusted
)

// Includes reports whether mask admits consumer.
func (mask Audience) Includes(consumer Audience) bool {
	return mask&consumer == consumer
}

// Source names one place a registration may proffer a broker.ServiceBroker
// from. Order matters: it is also the priority order the spec gives for
// local-source resolution.
type Source int

const (
	SourceSameProcessFactory Source = iota
	SourceOtherProcessBroker
	SourceTrustedServerBroker
	SourceUntrustedServerBroker
)

func (s Source) String() string {
	switch s {
	case SourceSameProcessFactory:
		return "same-process-factory"
	case SourceOtherProcessBroker:
		return "other-process-broker"
	case SourceTrustedServerBroker:
		return "trusted-server-broker"
	case SourceUntrustedServerBroker:
		return "untrusted-server-broker"
	default:
		return "unknown-source"
	}
}

func (s Source) local() bool {
	return s == SourceSameProcessFactory || s == SourceOtherProcessBroker
}

// localOrder is the priority order for local sources: same-process wins
// over other-process-same-machine.
var localOrder = []Source{SourceSameProcessFactory, SourceOtherProcessBroker}

// remoteOrder is the priority order for remote sources: trusted wins over
// untrusted.
var remoteOrder = []Source{SourceTrustedServerBroker, SourceUntrustedServerBroker}

// ProfferFunc lazily produces the broker.ServiceBroker for one
// (moniker, source) pair. Invoked at most once per Container lifetime per
// pair; concurrent callers racing the first invocation all observe the
// same result.
type ProfferFunc func(ctx context.Context) (broker.ServiceBroker, error)

// CredentialPolicy selects how a resolved view's ambient client credentials
// interact with the caller-supplied ones in activation.Options.
type CredentialPolicy int

const (
	// RequestOverridesDefault keeps the caller's credentials when non-empty,
	// falling back to the view's credentials otherwise.
	RequestOverridesDefault CredentialPolicy = iota
	// FilterOverridesRequest always replaces the caller's credentials with
	// the view's, regardless of what the caller supplied.
	FilterOverridesRequest
)

// Registration describes one moniker's audience policy and the sources it
// may be proffered from.
type Registration struct {
	AudienceMask Audience
	AllowGuests  bool
	Policy       CredentialPolicy
	Credentials  map[string]string
	Sources      map[Source]ProfferFunc
}

func (r *Registration) admits(consumer Audience) bool {
	if consumer == AudienceGuest {
		return r.AllowGuests
	}
	return r.AudienceMask.Includes(consumer)
}

// profferEntry memoizes one (moniker, source) proffer invocation. The
// sync.Once blocks every concurrent caller behind the first invocation,
// which is the "invoke once, memoize the pending promise" behavior spec.md
// §4.10 asks for; the result is then cached for the Container's lifetime,
// mirroring relay/ipcrelay.Broker's mutex-guarded pending map rather than
// reaching for an uncalled-for worker-pool abstraction.
type profferEntry struct {
	once   sync.Once
	broker broker.ServiceBroker
	err    error
}

// Container is the process-local moniker → registration registry.
type Container struct {
	mu   sync.Mutex
	regs map[string]*Registration

	profferMu sync.Mutex
	proffered map[string]*profferEntry
}

// New returns an empty, ready-to-use Container.
func New() *Container {
	return &Container{
		regs:      make(map[string]*Registration),
		proffered: make(map[string]*profferEntry),
	}
}

// Register adds or replaces the registration for m.
func (c *Container) Register(m moniker.Moniker, reg Registration) {
	if reg.Sources == nil {
		reg.Sources = make(map[Source]ProfferFunc)
	}
	c.mu.Lock()
	c.regs[m.String()] = &reg
	c.mu.Unlock()
}

// Deregister removes any registration for m.
func (c *Container) Deregister(m moniker.Moniker) {
	c.mu.Lock()
	delete(c.regs, m.String())
	c.mu.Unlock()
}

func (c *Container) lookup(m moniker.Moniker) (*Registration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reg, ok := c.regs[m.String()]
	return reg, ok
}

// Resolve runs the get-proxy/get-pipe algorithm from spec.md §4.10 and
// returns the winning source's broker.ServiceBroker, its view's
// credentials to apply under policy, and the source it came from.
//
// consumerIsLocal reports whether the caller is in the same process as the
// container (as opposed to a remote peer reached via a relay broker);
// consumerAudience is the caller's own audience, AudienceGuest for an
// unauthenticated caller.
func (c *Container) Resolve(ctx context.Context, m moniker.Moniker, consumerIsLocal bool, consumerAudience Audience) (broker.ServiceBroker, *Registration, Source, error) {
	reg, ok := c.lookup(m)
	if !ok {
		return nil, nil, 0, fmt.Errorf("%w: %s", ErrNotLocallyRegistered, m.String())
	}

	if !reg.admits(consumerAudience) {
		return nil, nil, 0, fmt.Errorf("%w: %s denies audience %d", ErrAudienceMismatch, m.String(), consumerAudience)
	}

	order := c.searchOrder(consumerIsLocal)
	for _, src := range order {
		fn, ok := reg.Sources[src]
		if !ok {
			continue
		}
		b, err := c.proffer(ctx, m, src, fn)
		if err != nil {
			return nil, nil, 0, err
		}
		if b != nil {
			return b, reg, src, nil
		}
	}
	return nil, nil, 0, fmt.Errorf("%w: %s", ErrNoSourceAvailable, m.String())
}

// searchOrder builds the source priority list per spec.md §4.10: a local
// consumer searches remote sources (trusted, then untrusted) first; any
// other consumer searches only local sources (same-process, then
// other-process-same-machine).
func (c *Container) searchOrder(consumerIsLocal bool) []Source {
	if consumerIsLocal {
		order := make([]Source, 0, len(remoteOrder)+len(localOrder))
		order = append(order, remoteOrder...)
		order = append(order, localOrder...)
		return order
	}
	return localOrder
}

// proffer invokes fn at most once for (m, src), memoizing the result for
// every later and concurrent caller.
func (c *Container) proffer(ctx context.Context, m moniker.Moniker, src Source, fn ProfferFunc) (broker.ServiceBroker, error) {
	key := m.String() + "|" + src.String()

	c.profferMu.Lock()
	entry, ok := c.proffered[key]
	if !ok {
		entry = &profferEntry{}
		c.proffered[key] = entry
	}
	c.profferMu.Unlock()

	entry.once.Do(func() {
		entry.broker, entry.err = fn(ctx)
	})
	return entry.broker, entry.err
}

// ApplyCredentialPolicy returns the credentials to use for a call, given
// the resolved registration's policy and view credentials, and the
// caller-supplied ones from activation.Options.ClientCredentials.
func ApplyCredentialPolicy(reg *Registration, requestCredentials map[string]string) map[string]string {
	switch reg.Policy {
	case FilterOverridesRequest:
		return reg.Credentials
	default: // RequestOverridesDefault
		if len(requestCredentials) > 0 {
			return requestCredentials
		}
		return reg.Credentials
	}
}

// Sentinel errors for Resolve, wrapping the shared brokererr taxonomy so
// callers can still errors.Is against the broader kind.
var (
	ErrNotLocallyRegistered = fmt.Errorf("%w: not locally registered", brokererr.ErrServiceComposition)
	ErrAudienceMismatch     = fmt.Errorf("%w: audience mismatch", brokererr.ErrUnauthorized)
	ErrNoSourceAvailable    = fmt.Errorf("%w: no source available", brokererr.ErrServiceComposition)
)
