package rpcruntime

import "context"

// HandlerFunc dispatches one Envelope and produces its response, the same
// onion-model seam mini-RPC's middleware package wraps (middleware/middleware.go
// HandlerFunc), generalized from message.RPCMessage to Envelope.
type HandlerFunc func(ctx context.Context, req *Envelope) *Envelope

// Interceptor wraps a HandlerFunc with cross-cutting behavior (logging,
// timeouts, retries, rate limiting) without the wrapped handler needing to
// know about it, mirroring mini-RPC's Middleware type.
type Interceptor func(next HandlerFunc) HandlerFunc

// Chain composes interceptors so the first one listed is outermost on
// request and innermost on response, exactly as mini-RPC's middleware.Chain
// documents its onion-model ordering.
func Chain(interceptors ...Interceptor) Interceptor {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(interceptors) - 1; i >= 0; i-- {
			next = interceptors[i](next)
		}
		return next
	}
}

// Use installs the interceptor chain applied around dispatch. Calling Use
// again replaces the previously installed chain.
func (rt *Runtime) Use(interceptors ...Interceptor) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.chain = Chain(interceptors...)
}
