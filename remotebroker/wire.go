// Package remotebroker implements the RemoteServiceBrokerClient from spec
// §4.7: it turns a broker.RemoteServiceBroker plus an optional
// multiplexing stream into a broker.ServiceBroker, handshaking capability
// negotiation and dispatching get-proxy/get-pipe per request the way
// mini-RPC's Client (client/client.go) dispatches a call after discovery
// and load-balancing have already picked an instance — here the broker
// protocol itself plays the role discovery+balancing played there.
package remotebroker

import (
	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/brokerproto"
	"github.com/brokered/svcbroker/descriptor"
	"github.com/brokered/svcbroker/moniker"
	"github.com/google/uuid"
)

// remoteBrokerDescriptor pins the wire format used for the RPC runtime
// carrying the IRemoteServiceBroker contract itself (handshake,
// request-service-channel, cancel-service-request). MessagePack is used
// here rather than JSON since this traffic is on every brokered service
// request's hot path.
var remoteBrokerDescriptor = mustDescriptor()

func mustDescriptor() descriptor.Descriptor {
	d, err := descriptor.New(moniker.Unversioned("RemoteServiceBroker"), "remote-broker-v1", descriptor.FormatterMessagePack, descriptor.DelimiterBigEndianInt32LengthHeader)
	if err != nil {
		panic(err)
	}
	return d
}

type handshakeArgs struct {
	Client brokerproto.ClientMetadata
}

type handshakeReply struct{}

type requestChannelArgs struct {
	Moniker moniker.Moniker
	Options activation.Options
}

type requestChannelReply struct {
	Info brokerproto.ConnectionInfo
}

type cancelArgs struct {
	RequestID uuid.UUID
}

type cancelReply struct{}
