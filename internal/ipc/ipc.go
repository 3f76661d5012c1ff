// Package ipc abstracts the platform's one-to-one bidirectional byte
// stream used to reach a brokered service locally: a named pipe
// (\\.\pipe\<name>) on Windows, a Unix-domain socket on POSIX. It
// generalizes the teacher's raw net.Listen("tcp", ...) accept loop
// (server/server.go Serve/handleConn) into a platform-abstracted,
// error-tolerant rebinding accept loop, per spec §4.2.
package ipc

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Stream is the duplex byte pipe handed to an OnConnect callback or
// returned by Connect.
type Stream = io.ReadWriteCloser

// OnConnect is invoked exactly once per accepted client, strictly
// sequentially — the server never invokes it again before the previous
// invocation's returned error is observed — and never inline on the accept
// goroutine (the server always hands off to a worker first), per spec §4.2.
type OnConnect func(ctx context.Context, stream Stream) error

// ServerOptions configures a Server.
type ServerOptions struct {
	// Log receives accept-loop diagnostics; defaults to logrus's standard
	// logger when nil, mirroring the teacher's bare log.Printf call sites
	// generalized to structured fields (see SPEC_FULL.md §10.1).
	Log *logrus.Entry
	// OneClientOnly, once set, causes the server to stop accepting after
	// the first successful client connection.
	OneClientOnly bool
	// CurrentUserOnly requests a pipe/socket only the current OS user can
	// connect to. On POSIX this tightens the socket file mode; on Windows
	// it attaches a security descriptor limiting the pipe to its owner and
	// local system (see server_windows.go). The client does not check the
	// remote owner SID after connecting.
	CurrentUserOnly bool
}

func (o ServerOptions) logger() *logrus.Entry {
	if o.Log != nil {
		return o.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// ServerAddress is the opaque, platform-specific address a client Connects
// to: \\.\pipe\<name> on Windows, a socket path on POSIX.
type ServerAddress string

// NormalizeName accepts either the full platform path or a bare channel
// name and returns the canonical address, per spec §6 ("The client accepts
// either the full path or the bare name and prepends the prefix as
// needed").
func NormalizeName(name string) ServerAddress {
	if strings.HasPrefix(name, `\\.\pipe\`) || filepath.IsAbs(name) {
		return ServerAddress(name)
	}
	return ServerAddress(defaultAddress(name))
}

func defaultAddress(name string) string {
	return platformAddress(name)
}

// tempSocketDir returns the directory POSIX Unix-domain-socket addresses
// are rooted under.
func tempSocketDir() string {
	return os.TempDir()
}

// newRebindLimiter returns the token bucket that rate-limits how fast a
// server re-arms its listener after a
// non-cancellation accept failure, per spec §4.2's "dispose ... create a new
// one; continue". Without it, a client that connects and immediately hangs
// up in a tight loop would spin the accept goroutine at full CPU. Generalized
// from the teacher's RateLimitMiddleware token bucket (SPEC_FULL.md §11.2).
func newRebindLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(50), 10)
}

// waitRebind blocks until the rebind token bucket admits another rebind
// attempt, or ctx is done.
func waitRebind(ctx context.Context, limiter *rate.Limiter) {
	_ = limiter.Wait(ctx)
}

// isNotFoundErr reports whether err most likely means "the server has not
// bound yet" rather than a generic connect timeout — spec §4.2 asks these
// to be capped separately during connect-with-retry.
func isNotFoundErr(err error) bool {
	if os.IsNotExist(err) {
		return true
	}
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED)
}
