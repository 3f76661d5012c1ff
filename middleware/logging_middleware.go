package middleware

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brokered/svcbroker/rpcruntime"
)

// LoggingMiddleware records the service method, duration, and any error for
// each RPC call, using logrus in place of the teacher's bare log.Printf
// (SPEC_FULL.md §10.1). It captures the start time before calling next and
// logs the elapsed time after next returns.
func LoggingMiddleware() Interceptor {
	log := logrus.NewEntry(logrus.StandardLogger())
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *rpcruntime.Envelope) *rpcruntime.Envelope {
			start := time.Now()
			resp := next(ctx, req)
			entry := log.WithFields(logrus.Fields{
				"service_method": req.ServiceMethod,
				"duration":       time.Since(start),
			})
			if resp.Error != "" {
				entry.WithField("error", resp.Error).Warn("rpc call failed")
			} else {
				entry.Debug("rpc call completed")
			}
			return resp
		}
	}
}
