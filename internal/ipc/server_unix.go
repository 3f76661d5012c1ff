//go:build !windows

package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

func platformAddress(name string) string {
	return filepath.Join(tempSocketDir(), name+".sock")
}

// Server runs the accept loop described in spec §4.2: create one listener
// instance, wait for a client, and on any non-cancellation I/O failure
// (e.g. a client disconnected before acceptance completed) dispose the
// current listener and create a new one rather than giving up. Adapted
// from the teacher's Server.Serve accept loop (server/server.go), which
// does the same "accept, dispatch, loop" shape over a single long-lived TCP
// listener; this version additionally tolerates and rebinds past transient
// accept errors instead of treating every Accept error as fatal.
type Server struct {
	name          string
	opts          ServerOptions
	onConn        OnConnect
	cancel        context.CancelFunc
	doneCh        chan struct{}
	addr          ServerAddress
	rebindLimiter *rate.Limiter
}

// Create starts a Server listening on name (bare name or full socket path)
// and returns once the listener is bound. onConnect is invoked exactly
// once per accepted client, sequentially, off the accept goroutine.
func Create(ctx context.Context, name string, onConnect OnConnect, opts ServerOptions) (*Server, error) {
	addr := NormalizeName(name)
	_ = os.Remove(string(addr)) // clear a stale socket file from a prior crash

	ln, err := net.Listen("unix", string(addr))
	if err != nil {
		return nil, err
	}
	if opts.CurrentUserOnly {
		_ = os.Chmod(string(addr), 0600)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Server{name: name, opts: opts, onConn: onConnect, cancel: cancel, doneCh: make(chan struct{}), addr: addr, rebindLimiter: newRebindLimiter()}
	go s.acceptLoop(ctx, ln)
	return s, nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer close(s.doneCh)
	current := ln
	log := s.opts.logger()
	for {
		conn, err := current.Accept()
		if err != nil {
			if ctx.Err() != nil {
				_ = current.Close()
				return
			}
			// Non-cancellation failure: record it, dispose the current
			// listener, rebind, and keep going — per spec §4.2.
			log.WithError(err).WithField("channel", s.name).Warn("ipc accept failed, rebinding listener")
			_ = current.Close()
			waitRebind(ctx, s.rebindLimiter)
			next, rebindErr := net.Listen("unix", string(s.addr))
			if rebindErr != nil {
				log.WithError(rebindErr).Error("ipc listener rebind failed, accept loop exiting")
				return
			}
			current = next
			continue
		}

		// Hand off to a worker before invoking onConnect — never inline on
		// the accept goroutine, and invocations are strictly sequential
		// because we block here until onConnect returns.
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := s.onConn(ctx, conn); err != nil {
				log.WithError(err).WithField("channel", s.name).Debug("ipc connection handler returned an error")
			}
		}()
		<-done

		if s.opts.OneClientOnly {
			_ = current.Close()
			return
		}
	}
}

// Address returns the bound socket path.
func (s *Server) Address() ServerAddress { return s.addr }

// Close stops the accept loop and releases the listener.
func (s *Server) Close() error {
	s.cancel()
	<-s.doneCh
	_ = os.Remove(string(s.addr))
	return nil
}

// Connect dials name with the CPU-friendly retry policy from spec §4.2: a
// non-blocking connect attempt, retried with a short fixed delay (or with
// opts.Policy's delay when a policy is given), "not found" failures capped
// separately from generic timeouts.
func Connect(ctx context.Context, name string, opts ConnectOptions) (Stream, error) {
	if opts.Policy.Delay == nil {
		opts = defaultConnectOptions()
	}
	addr := NormalizeName(name)
	var dialer net.Dialer
	return connectWithRetry(ctx, opts.Policy, 3, func(ctx context.Context) (Stream, error, string) {
		conn, err := dialer.DialContext(ctx, "unix", string(addr))
		if err != nil {
			return nil, err, classifyDialError(err)
		}
		return conn, nil, ""
	})
}

// RequestID is re-exported here only for callers that want a platform-free
// way to name one-shot relay servers; see brokerproto.NewRequestID for the
// canonical broker-protocol request id.
func RequestID() string {
	return uuid.NewString()
}

var errServerClosed = errors.New("ipc: server closed")
