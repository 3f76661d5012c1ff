// Package activation defines the serializable "activation options" bag
// passed on every get-proxy/get-pipe call, per spec §3.
package activation

// Options is a serializable bag carrying free-form activation arguments,
// client credentials, preferred culture, and two non-serializable fields
// used only locally: a client RPC callback target (when the service is
// local) and a multiplexing-stream reference (passed between a relay and a
// final broker, never marshaled onto the wire — see spec §9 "cyclic
// references").
type Options struct {
	ActivationArguments map[string]string
	ClientCredentials   map[string]string
	ClientCulture       string
	ClientUICulture     string

	// ClientRPCTarget is consulted only when the requested service resolves
	// locally (in-process activation); it is never serialized.
	ClientRPCTarget any

	// MultiplexingStream is set by a multiplexing relay broker so a
	// recursive downstream request can reuse the same shared stream instead
	// of serializing a reference to it. Never serialized.
	MultiplexingStream any
}

// Clone returns a shallow copy whose maps are independently mutable.
func (o Options) Clone() Options {
	clone := o
	if o.ActivationArguments != nil {
		clone.ActivationArguments = make(map[string]string, len(o.ActivationArguments))
		for k, v := range o.ActivationArguments {
			clone.ActivationArguments[k] = v
		}
	}
	if o.ClientCredentials != nil {
		clone.ClientCredentials = make(map[string]string, len(o.ClientCredentials))
		for k, v := range o.ClientCredentials {
			clone.ClientCredentials[k] = v
		}
	}
	return clone
}

// Serializable returns a copy with the two non-serializable, local-only
// fields cleared — what must actually cross the wire in a
// requestServiceChannel call, per spec §6.
func (o Options) Serializable() Options {
	clone := o.Clone()
	clone.ClientRPCTarget = nil
	clone.MultiplexingStream = nil
	return clone
}

// Equal ignores the non-serializable fields, per spec §3.
func (o Options) Equal(other Options) bool {
	if o.ClientCulture != other.ClientCulture || o.ClientUICulture != other.ClientUICulture {
		return false
	}
	if !mapsEqual(o.ActivationArguments, other.ActivationArguments) {
		return false
	}
	return mapsEqual(o.ClientCredentials, other.ClientCredentials)
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
