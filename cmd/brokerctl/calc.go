package main

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/descriptor"
	"github.com/brokered/svcbroker/moniker"
	"github.com/brokered/svcbroker/rpcruntime"
)

// calcMoniker names the demo service hosted by "brokerctl serve" and
// targeted by "brokerctl call", mirroring rpcruntime's own Arith test
// fixture (rpcruntime/rpcruntime_test.go).
var calcMoniker = moniker.Unversioned("Arith")

func calcDescriptor() (descriptor.Descriptor, error) {
	return descriptor.New(calcMoniker, "brokerctl-demo", descriptor.FormatterMessagePack, descriptor.DelimiterBigEndianInt32LengthHeader)
}

// AddArgs and AddReply are the wire shapes for Arith.Add.
type AddArgs struct {
	A, B int
}

type AddReply struct {
	Sum int
}

// Arith is the demo service hosted behind the relay broker.
type Arith struct{}

func (a *Arith) Add(ctx context.Context, args *AddArgs, reply *AddReply) error {
	reply.Sum = args.A + args.B
	return nil
}

// localArithBroker is a process-local broker.ServiceBroker that proffers
// one Arith instance over rpcruntime for every GetPipe call, playing the
// role spec.md §4.10's "same-process factory" source plays for a
// container.Container, kept minimal here since cmd/brokerctl is wiring
// only: one demo service, no registration/audience machinery.
type localArithBroker struct {
	d descriptor.Descriptor
}

func newLocalArithBroker(d descriptor.Descriptor) *localArithBroker {
	return &localArithBroker{d: d}
}

func (l *localArithBroker) GetProxy(ctx context.Context, d descriptor.Descriptor, opts activation.Options, build broker.ProxyBuilder) (any, error) {
	if !d.Equal(l.d) {
		return nil, nil
	}
	return build(ctx, nil, &Arith{})
}

func (l *localArithBroker) GetPipe(ctx context.Context, m moniker.Moniker, opts activation.Options) (io.ReadWriteCloser, error) {
	if !m.Equal(l.d.Moniker) {
		return nil, nil
	}
	serviceSide, callerSide := net.Pipe()

	rt, err := rpcruntime.New(l.d)
	if err != nil {
		_ = serviceSide.Close()
		_ = callerSide.Close()
		return nil, fmt.Errorf("brokerctl: build demo runtime: %w", err)
	}
	if err := rt.Register(&Arith{}); err != nil {
		_ = serviceSide.Close()
		_ = callerSide.Close()
		return nil, fmt.Errorf("brokerctl: register demo service: %w", err)
	}

	go func() {
		_ = rt.Serve(context.Background(), serviceSide)
	}()

	return callerSide, nil
}

func (l *localArithBroker) OnAvailabilityChanged(handler broker.AvailabilityHandler) func() {
	return func() {}
}

var _ broker.ServiceBroker = (*localArithBroker)(nil)
