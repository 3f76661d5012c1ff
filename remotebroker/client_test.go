package remotebroker

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/brokererr"
	"github.com/brokered/svcbroker/brokerproto"
	"github.com/brokered/svcbroker/descriptor"
	"github.com/brokered/svcbroker/moniker"
	"github.com/brokered/svcbroker/rpcruntime"
)

func netPipe() (io.ReadWriteCloser, io.ReadWriteCloser) {
	return net.Pipe()
}

// fakeRemoteServer is an in-memory RemoteServiceBroker stand-in registered
// with rpcruntime.Runtime, driven over a net.Pipe the way a real relay
// broker would be reached by remotebroker.Client over a duplex stream.
type fakeRemoteServer struct {
	mu            sync.Mutex
	lastHandshake brokerproto.ClientMetadata
	infoByName    map[string]brokerproto.ConnectionInfo
	cancelled     []uuid.UUID
}

func (s *fakeRemoteServer) Handshake(ctx context.Context, args *handshakeArgs, reply *handshakeReply) error {
	s.mu.Lock()
	s.lastHandshake = args.Client
	s.mu.Unlock()
	return nil
}

func (s *fakeRemoteServer) RequestServiceChannel(ctx context.Context, args *requestChannelArgs, reply *requestChannelReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply.Info = s.infoByName[args.Moniker.Name]
	return nil
}

func (s *fakeRemoteServer) CancelServiceRequest(ctx context.Context, args *cancelArgs, reply *cancelReply) error {
	s.mu.Lock()
	s.cancelled = append(s.cancelled, args.RequestID)
	s.mu.Unlock()
	return nil
}

// serveFake stands up a fakeRemoteServer under the name "RemoteServiceBroker"
// and serves it over ch in the background.
func serveFake(t *testing.T, ch io.ReadWriteCloser) *fakeRemoteServer {
	t.Helper()
	srv := &fakeRemoteServer{infoByName: make(map[string]brokerproto.ConnectionInfo)}
	rt, err := rpcruntime.New(remoteBrokerDescriptor)
	if err != nil {
		t.Fatalf("rpcruntime.New: %v", err)
	}
	if err := rt.Register(srv); err != nil {
		t.Fatalf("Register: %v", err)
	}
	go func() {
		_ = rt.Serve(context.Background(), ch)
	}()
	return srv
}

func echoBuilder(ctx context.Context, stream io.ReadWriteCloser, localTarget any) (any, error) {
	return stream, nil
}

func TestGetProxyReturnsNilWhenServiceNotFound(t *testing.T) {
	a, b := netPipe()
	srv := serveFake(t, b)
	_ = srv

	client, err := ConnectToDuplex(context.Background(), a, nil)
	if err != nil {
		t.Fatalf("ConnectToDuplex: %v", err)
	}
	defer client.Close()

	d, _ := descriptor.New(moniker.Unversioned("calc"), "calc-v1", descriptor.FormatterMessagePack, descriptor.DelimiterBigEndianInt32LengthHeader)
	proxy, err := client.GetProxy(context.Background(), d, activation.Options{}, echoBuilder)
	if err != nil {
		t.Fatalf("GetProxy: %v", err)
	}
	if proxy != nil {
		t.Fatalf("expected nil proxy for unknown moniker, got %v", proxy)
	}
}

func TestConnectToDuplexAdvertisesOnlyNamedPipe(t *testing.T) {
	a, b := netPipe()
	srv := serveFake(t, b)

	client, err := ConnectToDuplex(context.Background(), a, nil)
	if err != nil {
		t.Fatalf("ConnectToDuplex: %v", err)
	}
	defer client.Close()

	if srv.lastHandshake.SupportedConnections != brokerproto.ConnectionIPCPipe {
		t.Fatalf("server observed supported=%v, want ConnectionIPCPipe", srv.lastHandshake.SupportedConnections)
	}
}

func TestResolvePipeRejectsUnsupportedConnectionKind(t *testing.T) {
	a, b := netPipe()
	srv := serveFake(t, b)

	client, err := ConnectToDuplex(context.Background(), a, nil)
	if err != nil {
		t.Fatalf("ConnectToDuplex: %v", err)
	}
	defer client.Close()

	reqID := uuid.New()
	srv.mu.Lock()
	srv.infoByName["unsupported-moniker"] = brokerproto.ConnectionInfo{
		RequestID:             reqID,
		MultiplexingChannelID: uint64Ptr(7),
	}
	srv.mu.Unlock()

	m := moniker.Unversioned("unsupported-moniker")
	_, err = client.GetPipe(context.Background(), m, activation.Options{})
	if err == nil {
		t.Fatalf("expected an error resolving a multiplexing channel id with no multiplexing stream")
	}

	var actErr *brokererr.ServiceActivationError
	if !errors.As(err, &actErr) {
		t.Fatalf("expected *brokererr.ServiceActivationError, got %T: %v", err, err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.cancelled) != 1 || srv.cancelled[0] != reqID {
		t.Fatalf("expected cancel-service-request(%v), got %v", reqID, srv.cancelled)
	}
}

func TestOfferLocalServiceHostIsIdempotentAndRehandshakes(t *testing.T) {
	a, b := netPipe()
	srv := serveFake(t, b)

	client, err := ConnectToDuplex(context.Background(), a, nil)
	if err != nil {
		t.Fatalf("ConnectToDuplex: %v", err)
	}
	defer client.Close()

	if err := client.OfferLocalServiceHost(context.Background()); err != nil {
		t.Fatalf("OfferLocalServiceHost: %v", err)
	}
	srv.mu.Lock()
	got := srv.lastHandshake.SupportedConnections
	srv.mu.Unlock()
	want := brokerproto.ConnectionIPCPipe | brokerproto.ConnectionCLRActivation
	if got != want {
		t.Fatalf("after offer, supported=%v, want %v", got, want)
	}

	if err := client.OfferLocalServiceHost(context.Background()); err != nil {
		t.Fatalf("second OfferLocalServiceHost: %v", err)
	}
}

func TestOnAvailabilityChangedSubscribeUnsubscribe(t *testing.T) {
	a, b := netPipe()
	serveFake(t, b)

	client, err := ConnectToDuplex(context.Background(), a, nil)
	if err != nil {
		t.Fatalf("ConnectToDuplex: %v", err)
	}
	defer client.Close()

	fired := false
	unsub := client.OnAvailabilityChanged(func(sender broker.ServiceBroker, args brokerproto.AvailabilityChangedEventArgs) {
		fired = true
	})
	unsub()
	if fired {
		t.Fatalf("handler should never fire without a server-pushed event")
	}
}

func uint64Ptr(v uint64) *uint64 { return &v }
