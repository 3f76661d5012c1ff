package rpcruntime_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/brokered/svcbroker/descriptor"
	"github.com/brokered/svcbroker/moniker"
	"github.com/brokered/svcbroker/rpcruntime"
)

type AddArgs struct {
	A, B int
}

type AddReply struct {
	Sum int
}

type Arith struct{}

func (a *Arith) Add(args *AddArgs, reply *AddReply) error {
	reply.Sum = args.A + args.B
	return nil
}

func (a *Arith) Fail(args *AddArgs, reply *AddReply) error {
	return fmt.Errorf("always fails")
}

func (a *Arith) AddCtx(ctx context.Context, args *AddArgs, reply *AddReply) error {
	reply.Sum = args.A + args.B
	return nil
}

func testDescriptor(t *testing.T) descriptor.Descriptor {
	t.Helper()
	d, err := descriptor.New(moniker.Unversioned("Arith"), "rpcruntime-test", descriptor.FormatterUTF8JSON, descriptor.DelimiterBigEndianInt32LengthHeader)
	if err != nil {
		t.Fatalf("descriptor.New: %v", err)
	}
	return d
}

func TestCallRoundTrip(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	d := testDescriptor(t)
	rt, err := rpcruntime.New(d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := rt.Register(&Arith{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go rt.Serve(ctx, serverConn)

	client, err := rpcruntime.NewClient(d, clientConn)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	var reply AddReply
	if err := client.Call(ctx, "Arith.Add", &AddArgs{A: 2, B: 3}, &reply); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Sum != 5 {
		t.Fatalf("Sum = %d, want 5", reply.Sum)
	}
}

func TestCallPropagatesRemoteError(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	d := testDescriptor(t)
	rt, _ := rpcruntime.New(d)
	rt.Register(&Arith{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go rt.Serve(ctx, serverConn)

	client, err := rpcruntime.NewClient(d, clientConn)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	var reply AddReply
	err = client.Call(ctx, "Arith.Fail", &AddArgs{}, &reply)
	if err == nil {
		t.Fatalf("expected an error")
	}
	rie, ok := err.(*rpcruntime.RemoteInvocationError)
	if !ok {
		t.Fatalf("expected *RemoteInvocationError, got %T", err)
	}
	if rie.ServiceMethod != "Arith.Fail" {
		t.Fatalf("ServiceMethod = %q", rie.ServiceMethod)
	}
}

func TestCallWithContextSignature(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	d := testDescriptor(t)
	rt, _ := rpcruntime.New(d)
	rt.Register(&Arith{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go rt.Serve(ctx, serverConn)

	client, err := rpcruntime.NewClient(d, clientConn)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	var reply AddReply
	if err := client.Call(ctx, "Arith.AddCtx", &AddArgs{A: 10, B: 20}, &reply); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Sum != 30 {
		t.Fatalf("Sum = %d, want 30", reply.Sum)
	}
}
