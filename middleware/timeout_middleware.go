package middleware

import (
	"context"
	"time"

	"github.com/brokered/svcbroker/rpcruntime"
)

// TimeoutMiddleware enforces a maximum duration for each RPC call. If the
// handler doesn't complete within the timeout, it returns an error envelope
// immediately.
//
// The handler goroutine is NOT cancelled when the timeout fires — it
// continues running in the background. The timeout only controls when the
// caller gives up waiting; for true cancellation the handler must check
// ctx.Done() internally (rpcruntime's service dispatch honors a leading
// context.Context argument for exactly this reason).
func TimeoutMiddleware(timeout time.Duration) Interceptor {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *rpcruntime.Envelope) *rpcruntime.Envelope {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *rpcruntime.Envelope, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return &rpcruntime.Envelope{ServiceMethod: req.ServiceMethod, Error: "request timed out"}
			}
		}
	}
}
