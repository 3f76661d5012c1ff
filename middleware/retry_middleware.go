package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brokered/svcbroker/rpcruntime"
)

// RetryMiddleware retries a call with exponential backoff when its response
// carries a transient-looking error (timeout, connection refused). A
// non-retryable error is returned immediately.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Interceptor {
	log := logrus.NewEntry(logrus.StandardLogger())
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *rpcruntime.Envelope) *rpcruntime.Envelope {
			resp := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if resp.Error == "" {
					return resp
				}
				if !isRetryable(resp.Error) {
					return resp
				}
				log.WithFields(logrus.Fields{
					"service_method": req.ServiceMethod,
					"attempt":        i + 1,
					"error":          resp.Error,
				}).Warn("retrying rpc call")
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return resp
				}
				resp = next(ctx, req)
			}
			return resp
		}
	}
}

func isRetryable(errMsg string) bool {
	return strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "connection refused")
}
