// Package registry defines the service discovery interface and data types
// used by the discovery package to resolve a broker.ServiceBroker's
// moniker to a set of reachable instances.
//
// Service discovery solves the problem of "how does the client find the
// server?" Instead of hardcoding an address, servers register themselves in
// a central registry (etcd), and clients query the registry to find
// available instances.
package registry

import "github.com/brokered/svcbroker/moniker"

// ServiceInstance represents a single running instance of a brokered
// service, reachable at a dial address (host:port for a relay broker's
// listening endpoint) with a load-balancing weight.
type ServiceInstance struct {
	Addr    string // Network address, e.g., "127.0.0.1:8080"
	Weight  int    // Weight for load balancing (higher = more traffic)
	Version string // Redundant with the moniker's own Version; kept for display
}

// Registry is the interface for service registration and discovery, keyed
// on a moniker.Moniker rather than a bare service name so that two versions
// of the same service are distinct registrations.
type Registry interface {
	// Register adds a service instance to the registry with a TTL lease.
	// The instance will be automatically removed if KeepAlive stops (e.g., server crashes).
	Register(m moniker.Moniker, instance ServiceInstance, ttl int64) error

	// Deregister removes a service instance from the registry.
	// Called during graceful shutdown BEFORE closing the listener.
	Deregister(m moniker.Moniker, addr string) error

	// Discover returns all currently registered instances for a moniker.
	// The client calls this to get the instance list for load balancing.
	Discover(m moniker.Moniker) ([]ServiceInstance, error)

	// Watch returns a channel that emits updated instance lists whenever
	// the moniker's instances change (new instances, removals, etc.).
	// This enables real-time service discovery without polling, and feeds
	// broker.AvailabilityChanged in the discovery package.
	Watch(m moniker.Moniker) <-chan []ServiceInstance
}
