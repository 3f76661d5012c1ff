// Package authzclient implements the local authorization cache described in
// spec §4.6 (AuthorizationServiceClient): superset/subset reasoning over
// protected operations in front of a remote authorization service, with
// event-driven invalidation on both the cached verdicts and the client's
// credential set. The verdict cache is backed by
// github.com/dgraph-io/ristretto/v2 rather than a bare map, following the
// domain-dependency wiring plan — ristretto contributes bounded, cost-aware
// eviction for a cache whose key space (one entry per distinct moniker
// ever checked, holding that moniker's verdict list) is otherwise
// unbounded over a long-running process.
package authzclient

import (
	"context"
	"sync"

	ristretto "github.com/dgraph-io/ristretto/v2"
)

// ProtectedOperation identifies one authorization check: a moniker plus an
// optional trust level. The superset relation (A ⊇ B) lets the cache answer
// both approvals (an approved entry covering a broader or equal trust level)
// and denials (a denied entry covering a narrower or equal trust level)
// without a round trip.
type ProtectedOperation struct {
	Moniker    string
	TrustLevel *int
}

// Supersets reports whether op ⊇ other: same moniker, and op's trust level
// is absent, equal to, or greater than other's. A nil trust level on either
// side is treated as "no constraint", per the superset relation in spec §3.
func (op ProtectedOperation) Supersets(other ProtectedOperation) bool {
	if op.Moniker != other.Moniker {
		return false
	}
	if op.TrustLevel == nil || other.TrustLevel == nil {
		return true
	}
	return *op.TrustLevel >= *other.TrustLevel
}

// RemoteAuthorization is the upstream authorization service the cache falls
// back to on a cache miss.
type RemoteAuthorization interface {
	CheckAuthorization(ctx context.Context, op ProtectedOperation) (bool, error)
}

// CredentialFetcher fetches the current credential set, called lazily and
// re-invoked after a credentials-changed notification.
type CredentialFetcher func(ctx context.Context) (map[string]string, error)

type verdict struct {
	op       ProtectedOperation
	approved bool
}

// Client is the local cache in front of a RemoteAuthorization service.
type Client struct {
	remote RemoteAuthorization
	fetch  CredentialFetcher
	cache  *ristretto.Cache[string, []verdict]

	mu          sync.Mutex
	credentials *credentialFuture
}

// New wraps remote with a local cache. fetch supplies the client's own
// credential set on first access and after every credentials-changed event.
func New(remote RemoteAuthorization, fetch CredentialFetcher) (*Client, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []verdict]{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		remote:      remote,
		fetch:       fetch,
		cache:       cache,
		credentials: newCredentialFuture(),
	}, nil
}

// CheckAuthorization answers op from the cache when a covering approval or
// denial is already known, otherwise calls the remote service and caches
// the result under op.Moniker.
func (c *Client) CheckAuthorization(ctx context.Context, op ProtectedOperation) (bool, error) {
	if entries, ok := c.cache.Get(op.Moniker); ok {
		for _, v := range entries {
			if v.approved && v.op.Supersets(op) {
				return true, nil
			}
			if !v.approved && op.Supersets(v.op) {
				return false, nil
			}
		}
	}

	approved, err := c.remote.CheckAuthorization(ctx, op)
	if err != nil {
		return false, err
	}

	entries, _ := c.cache.Get(op.Moniker)
	entries = append(append([]verdict{}, entries...), verdict{op: op, approved: approved})
	c.cache.Set(op.Moniker, entries, 1)
	return approved, nil
}

// OnAuthorizationChanged clears every cached verdict, per spec §4.6.
func (c *Client) OnAuthorizationChanged() {
	c.cache.Clear()
}

// OnCredentialsChanged atomically replaces the client's credential future
// with a fresh one, re-fetched lazily on the next Credentials call.
func (c *Client) OnCredentialsChanged() {
	c.mu.Lock()
	c.credentials = newCredentialFuture()
	c.mu.Unlock()
}

// Credentials returns the client's current credential set, fetching it on
// first access (or after the most recent OnCredentialsChanged).
func (c *Client) Credentials(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	f := c.credentials
	c.mu.Unlock()
	return f.ensure(func() (map[string]string, error) { return c.fetch(ctx) })
}

// Close releases the backing cache.
func (c *Client) Close() error {
	c.cache.Close()
	return nil
}
