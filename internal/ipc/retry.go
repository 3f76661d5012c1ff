package ipc

import (
	"context"
	"fmt"
	"time"

	"github.com/brokered/svcbroker/brokererr"
)

// RetryPolicy is the optional declarative retry wrapper described in spec
// §4.2: "max duration, max retries, delay function of retry-count". The
// zero value is NOT usable; use DefaultRetryPolicy.
type RetryPolicy struct {
	MaxDuration time.Duration
	MaxRetries  int
	Delay       func(retry int) time.Duration
}

// DefaultRetryPolicy matches spec §4.2's default: min(retry*100ms, 5s).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxDuration: 30 * time.Second,
		MaxRetries:  150,
		Delay: func(retry int) time.Duration {
			d := time.Duration(retry) * 100 * time.Millisecond
			if d > 5*time.Second {
				return 5 * time.Second
			}
			return d
		},
	}
}

// connectAttempt performs one non-waiting connect attempt. It returns a
// classified kind string for the histogram on failure.
type connectAttempt func(ctx context.Context) (Stream, error, string)

// connectWithRetry implements the client-side policy from spec §4.2: try a
// non-waiting connect, retry on failure with the policy's delay, capping
// "not found" failures separately (at notFoundCap) from the overall
// MaxRetries budget, since "not found" most likely means the server has not
// bound yet. Cancellation surfaces immediately, unwrapped, without retry.
func connectWithRetry(ctx context.Context, policy RetryPolicy, notFoundCap int, attempt connectAttempt) (Stream, error) {
	deadline := time.Now().Add(policy.MaxDuration)
	histogram := make(map[string]int)
	notFoundCount := 0

	for try := 0; ; try++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		stream, err, kind := attempt(ctx)
		if err == nil {
			return stream, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		histogram[kind]++
		if kind == "not-found" {
			notFoundCount++
			if notFoundCount > notFoundCap {
				return nil, &brokererr.TimeoutError{Operation: "ipc connect", Attempts: try + 1, Histogram: histogram}
			}
		}
		if try+1 >= policy.MaxRetries || time.Now().After(deadline) {
			return nil, &brokererr.TimeoutError{Operation: "ipc connect", Attempts: try + 1, Histogram: histogram}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(policy.Delay(try + 1)):
		}
	}
}

// ConnectOptions configures Connect.
type ConnectOptions struct {
	// SpinWait, when true, indicates the caller knows the pipe/socket
	// already exists and the platform's natural wait-for-connection
	// primitive (e.g. Windows WaitNamedPipe with its own timeout) should be
	// used instead of the poll-and-retry loop.
	SpinWait bool
	Policy   RetryPolicy
}

// defaultConnectOptions is used when the caller supplies no policy: the
// DefaultRetryPolicy budget with a short fixed 20ms delay between attempts.
func defaultConnectOptions() ConnectOptions {
	p := DefaultRetryPolicy()
	p.Delay = func(int) time.Duration { return 20 * time.Millisecond }
	return ConnectOptions{Policy: p}
}

func classifyDialError(err error) string {
	if err == nil {
		return ""
	}
	if isNotFoundErr(err) {
		return "not-found"
	}
	return fmt.Sprintf("%T", err)
}
