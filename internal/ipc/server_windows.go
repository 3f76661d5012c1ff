//go:build windows

package ipc

import (
	"context"
	"net"
	"time"

	winio "github.com/Microsoft/go-winio"
	"golang.org/x/time/rate"
)

func platformAddress(name string) string {
	return `\\.\pipe\` + name
}

// currentUserSDDL restricts pipe access to the owner and local system,
// mirroring the "current user only" pipe security spec §4.2 asks for.
const currentUserSDDL = "D:P(A;;GA;;;OW)(A;;GA;;;SY)"

// Server is the Windows named-pipe arm of the accept loop described in
// ipc.go and implemented for POSIX in server_unix.go. It follows the same
// "rebind past non-cancellation errors" policy.
type Server struct {
	name          string
	opts          ServerOptions
	onConn        OnConnect
	cancel        context.CancelFunc
	doneCh        chan struct{}
	addr          ServerAddress
	rebindLimiter *rate.Limiter
}

func Create(ctx context.Context, name string, onConnect OnConnect, opts ServerOptions) (*Server, error) {
	addr := NormalizeName(name)
	pc := &winio.PipeConfig{MessageMode: false}
	if opts.CurrentUserOnly {
		pc.SecurityDescriptor = currentUserSDDL
	}
	ln, err := winio.ListenPipe(string(addr), pc)
	if err != nil {
		return nil, err
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
			log.WithError(err).WithField("channel", s.name).Warn("ipc accept failed, rebinding pipe listener")
			_ = current.Close()
			waitRebind(ctx, s.rebindLimiter)
			pc := &winio.PipeConfig{MessageMode: false}
			if s.opts.CurrentUserOnly {
				pc.SecurityDescriptor = currentUserSDDL
			}
			next, rebindErr := winio.ListenPipe(string(s.addr), pc)
			if rebindErr != nil {
				log.WithError(rebindErr).Error("ipc pipe rebind failed, accept loop exiting")
				return
			}
			current = next
			continue
		}

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

func (s *Server) Address() ServerAddress { return s.addr }

func (s *Server) Close() error {
	s.cancel()
	<-s.doneCh
	return nil
}

func Connect(ctx context.Context, name string, opts ConnectOptions) (Stream, error) {
	if opts.Policy.Delay == nil {
		opts = defaultConnectOptions()
	}
	addr := NormalizeName(name)

	if opts.SpinWait {
		dialCtx, cancel := context.WithTimeout(ctx, opts.Policy.MaxDuration)
		defer cancel()
		conn, err := winio.DialPipeContext(dialCtx, string(addr))
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	return connectWithRetry(ctx, opts.Policy, 3, func(ctx context.Context) (Stream, error, string) {
		dialCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		conn, err := winio.DialPipeContext(dialCtx, string(addr))
		if err != nil {
			return nil, err, classifyDialError(err)
		}
		return conn, nil, ""
	})
}
