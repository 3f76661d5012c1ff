package remotebroker

import (
	"context"
	"io"

	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/rpcruntime"
)

// RemoteServiceBroker adapts a broker.RemoteServiceBroker implementation
// (a relay broker: ipcrelay.Broker, muxrelay.Broker) to the reflection-based
// dispatch shape rpcruntime.Runtime requires (func(ctx, *Args, *Reply) error)
// instead of the interface's direct-return-value shape. Its type name is
// load-bearing: rpcruntime registers receivers under their struct name, and
// remotebroker.Client's dispatch calls "RemoteServiceBroker.Handshake" etc,
// so the adapter must be named exactly RemoteServiceBroker for the two
// sides to agree on the service prefix.
type RemoteServiceBroker struct {
	inner broker.RemoteServiceBroker
}

func (s *RemoteServiceBroker) Handshake(ctx context.Context, args *handshakeArgs, reply *handshakeReply) error {
	return s.inner.Handshake(ctx, args.Client)
}

func (s *RemoteServiceBroker) RequestServiceChannel(ctx context.Context, args *requestChannelArgs, reply *requestChannelReply) error {
	info, err := s.inner.RequestServiceChannel(ctx, args.Moniker, args.Options)
	if err != nil {
		return err
	}
	reply.Info = info
	return nil
}

func (s *RemoteServiceBroker) CancelServiceRequest(ctx context.Context, args *cancelArgs, reply *cancelReply) error {
	return s.inner.CancelServiceRequest(ctx, [16]byte(args.RequestID))
}

// Server hosts one broker.RemoteServiceBroker over the reference RPC
// runtime, the serving-side counterpart to Client. A listener owner (e.g.
// cmd/brokerctl, or a test harness) accepts connections itself and calls
// Serve once per accepted stream.
type Server struct {
	rt *rpcruntime.Runtime
}

// NewServer builds a Server wrapping inner, ready to Serve connections.
func NewServer(inner broker.RemoteServiceBroker) (*Server, error) {
	rt, err := rpcruntime.New(remoteBrokerDescriptor)
	if err != nil {
		return nil, err
	}
	if err := rt.Register(&RemoteServiceBroker{inner: inner}); err != nil {
		return nil, err
	}
	return &Server{rt: rt}, nil
}

// Serve dispatches requests on stream until it closes or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, stream io.ReadWriteCloser) error {
	return s.rt.Serve(ctx, stream)
}
