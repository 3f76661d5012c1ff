//go:build !windows

package ipcrelay

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/brokerproto"
	"github.com/brokered/svcbroker/brokertest"
	"github.com/brokered/svcbroker/internal/ipc"
	"github.com/brokered/svcbroker/moniker"
)

func testPrefix(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("svcbroker-relay-test-%d", time.Now().UnixNano())
}

func TestRequestServiceChannelJoinsClientToServicePipe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serviceSide, relaySide := net.Pipe()
	defer serviceSide.Close()

	inner := brokertest.New(nil, relaySide, nil)
	relay := New(inner, testPrefix(t))

	if err := relay.Handshake(ctx, brokerproto.ClientMetadata{SupportedConnections: brokerproto.ConnectionIPCPipe}); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	info, err := relay.RequestServiceChannel(ctx, moniker.Unversioned("calc"), activation.Options{})
	if err != nil {
		t.Fatalf("RequestServiceChannel: %v", err)
	}
	if info.Empty() {
		t.Fatalf("expected non-empty connection info")
	}

	conn, err := ipc.Connect(ctx, info.PipeName, ipc.ConnectOptions{Policy: ipc.DefaultRetryPolicy()})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	go func() {
		line, err := bufio.NewReader(serviceSide).ReadString('\n')
		if err != nil {
			return
		}
		_, _ = serviceSide.Write([]byte("echo:" + line))
	}()

	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("reading relayed reply: %v", err)
	}
	if reply != "echo:ping\n" {
		t.Fatalf("reply = %q, want %q", reply, "echo:ping\n")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		relay.mu.Lock()
		_, stillPending := relay.pending[info.RequestID]
		relay.mu.Unlock()
		if !stillPending {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("request id never removed from pending map after client connected")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRequestServiceChannelReturnsEmptyWhenInnerHasNoPipe(t *testing.T) {
	ctx := context.Background()
	inner := brokertest.New(nil, nil, nil)
	relay := New(inner, testPrefix(t))

	info, err := relay.RequestServiceChannel(ctx, moniker.Unversioned("missing"), activation.Options{})
	if err != nil {
		t.Fatalf("RequestServiceChannel: %v", err)
	}
	if !info.Empty() {
		t.Fatalf("expected empty connection info for a moniker the inner broker does not serve")
	}
}

func TestCancelServiceRequestDisposesUnconsumedReservation(t *testing.T) {
	ctx := context.Background()
	serviceSide, relaySide := net.Pipe()
	defer serviceSide.Close()

	inner := brokertest.New(nil, relaySide, nil)
	relay := New(inner, testPrefix(t))

	info, err := relay.RequestServiceChannel(ctx, moniker.Unversioned("calc"), activation.Options{})
	if err != nil {
		t.Fatalf("RequestServiceChannel: %v", err)
	}

	if err := relay.CancelServiceRequest(ctx, [16]byte(info.RequestID)); err != nil {
		t.Fatalf("CancelServiceRequest: %v", err)
	}

	relay.mu.Lock()
	_, stillPending := relay.pending[info.RequestID]
	relay.mu.Unlock()
	if stillPending {
		t.Fatalf("cancelled request id should have been removed from pending map")
	}

	// The service pipe should now be closed -- reads return an error.
	buf := make([]byte, 1)
	if _, err := serviceSide.Read(buf); err == nil {
		t.Fatalf("expected serviceSide read to fail after cancel disposed the service pipe")
	}
}

func TestHandshakeRejectsClientWithoutIPCPipeSupport(t *testing.T) {
	ctx := context.Background()
	inner := brokertest.New(nil, nil, nil)
	relay := New(inner, testPrefix(t))

	if err := relay.Handshake(ctx, brokerproto.ClientMetadata{SupportedConnections: brokerproto.ConnectionMultiplexing}); err == nil {
		t.Fatalf("expected handshake failure when client does not advertise ipcPipe support")
	}
}
