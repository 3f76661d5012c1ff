// Package server hosts a broker.RemoteServiceBroker over a TCP listener and
// advertises it in a registry.Registry so discovery.Client can find it, the
// network-transport counterpart to relay/ipcrelay and relay/muxrelay's
// local-transport hosting. Adapted from mini-RPC's Server (server/server.go):
// the accept loop, etcd registration around Serve, and the wg/shutdown-flag
// graceful shutdown are all kept; the per-connection frame decode →
// middleware → reflect-dispatch pipeline is dropped in favor of handing the
// connection straight to remotebroker.Server, since rpcruntime now owns that
// dispatch (SPEC_FULL.md §4.11).
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/moniker"
	"github.com/brokered/svcbroker/registry"
	"github.com/brokered/svcbroker/remotebroker"
)

// Server listens on a TCP address and serves the IRemoteServiceBroker wire
// contract for exactly one broker.RemoteServiceBroker (typically a relay
// broker in front of a container; see container.Container).
type Server struct {
	rs       *remotebroker.Server
	m        moniker.Moniker
	log      *logrus.Entry
	listener net.Listener
	wg       sync.WaitGroup
	shutdown atomic.Bool

	reg           registry.Registry
	advertiseAddr string
}

// New builds a Server hosting inner under moniker m.
func New(inner broker.RemoteServiceBroker, m moniker.Moniker) (*Server, error) {
	rs, err := remotebroker.NewServer(inner)
	if err != nil {
		return nil, err
	}
	return &Server{rs: rs, m: m, log: logrus.NewEntry(logrus.StandardLogger())}, nil
}

// Serve listens on address, optionally registers advertiseAddr with reg
// under this server's moniker, and accepts connections until Shutdown is
// called or a non-shutdown Accept error occurs.
func (svr *Server) Serve(network, address, advertiseAddr string, reg registry.Registry) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	svr.listener = ln
	svr.advertiseAddr = advertiseAddr

	if reg != nil {
		svr.reg = reg
		if err := reg.Register(svr.m, registry.ServiceInstance{Addr: advertiseAddr, Weight: 1}, 10); err != nil {
			return err
		}
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		svr.wg.Add(1)
		go svr.handleConn(conn)
	}
}

func (svr *Server) handleConn(conn net.Conn) {
	defer svr.wg.Done()
	defer conn.Close()
	if err := svr.rs.Serve(context.Background(), conn); err != nil {
		svr.log.WithError(err).WithField("moniker", svr.m.String()).Debug("remote broker connection closed")
	}
}

// Addr returns the bound listener's address. Only valid once Serve has
// started listening; primarily useful in tests that bind an ephemeral port.
func (svr *Server) Addr() string {
	return svr.listener.Addr().String()
}

// Shutdown deregisters from reg (if any), stops accepting new connections,
// and waits up to timeout for in-flight connections to finish.
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.reg != nil {
		_ = svr.reg.Deregister(svr.m, svr.advertiseAddr)
	}

	svr.shutdown.Store(true)
	_ = svr.listener.Close()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}
