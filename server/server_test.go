package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/brokertest"
	"github.com/brokered/svcbroker/moniker"
	"github.com/brokered/svcbroker/registry"
	"github.com/brokered/svcbroker/relay/ipcrelay"
	"github.com/brokered/svcbroker/remotebroker"
)

// fakeRegistry is a minimal in-memory registry.Registry for exercising
// Serve's registration/deregistration calls without etcd.
type fakeRegistry struct {
	registered   map[string]registry.ServiceInstance
	deregistered []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{registered: make(map[string]registry.ServiceInstance)}
}

func (r *fakeRegistry) Register(m moniker.Moniker, instance registry.ServiceInstance, ttl int64) error {
	r.registered[m.String()] = instance
	return nil
}

func (r *fakeRegistry) Deregister(m moniker.Moniker, addr string) error {
	r.deregistered = append(r.deregistered, m.String())
	delete(r.registered, m.String())
	return nil
}

func (r *fakeRegistry) Discover(m moniker.Moniker) ([]registry.ServiceInstance, error) {
	inst, ok := r.registered[m.String()]
	if !ok {
		return nil, nil
	}
	return []registry.ServiceInstance{inst}, nil
}

func (r *fakeRegistry) Watch(m moniker.Moniker) <-chan []registry.ServiceInstance {
	return make(chan []registry.ServiceInstance)
}

func TestServeHostsRemoteBrokerAndRegisters(t *testing.T) {
	m := moniker.Unversioned("Arith")
	inner := ipcrelay.New(brokertest.New(nil, nil, nil), "arith-test")
	svr, err := New(inner, m)
	require.NoError(t, err)

	reg := newFakeRegistry()
	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve("tcp", "127.0.0.1:0", "127.0.0.1:19999", reg) }()

	// Give Serve a moment to bind and register before dialing.
	time.Sleep(150 * time.Millisecond)
	_, registered := reg.registered[m.String()]
	require.True(t, registered, "expected moniker to be registered")

	conn, err := net.Dial("tcp", svr.listener.Addr().String())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := remotebroker.ConnectToDuplex(ctx, conn, nil)
	require.NoError(t, err)
	defer client.Close()

	pipe, err := client.GetPipe(ctx, m, activation.Options{})
	require.NoError(t, err)
	require.Nil(t, pipe, "expected nil pipe: inner broker has no pipe to offer")

	// Shutdown waits for open connections to finish, so close ours first.
	require.NoError(t, client.Close())
	require.NoError(t, svr.Shutdown(time.Second))
	require.Len(t, reg.deregistered, 1)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
