// Package middleware implements cross-cutting request interceptors for the
// reference RPC runtime (rpcruntime): logging, timeouts, retries, and rate
// limiting, each built as an rpcruntime.Interceptor. This is a direct
// generalization of mini-RPC's own middleware package (middleware.go,
// *_middleware.go), whose onion-model Chain/HandlerFunc/Middleware types
// wrapped message.RPCMessage; here the same shapes wrap rpcruntime.Envelope
// so the chain rides on the broker's reference wire stack (SPEC_FULL.md
// §4.11) instead of a raw TCP service name.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
package middleware

import "github.com/brokered/svcbroker/rpcruntime"

// HandlerFunc and Interceptor are re-exported so callers building a chain
// don't need to import rpcruntime directly just to name the types.
type HandlerFunc = rpcruntime.HandlerFunc
type Interceptor = rpcruntime.Interceptor

// Chain composes multiple interceptors into one, first-listed outermost,
// matching mini-RPC's middleware.Chain ordering.
func Chain(interceptors ...Interceptor) Interceptor {
	return rpcruntime.Chain(interceptors...)
}
