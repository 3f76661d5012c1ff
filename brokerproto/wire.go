// Package brokerproto defines the wire-level types exchanged by the
// IRemoteServiceBroker contract: connection info, client metadata, and the
// availability-changed event payload, per spec §3 and §6. These are the
// broker-protocol's own framing — distinct from, and layered below, the
// general-purpose RPC runtime's message framing in rpcruntime.
package brokerproto

import (
	"github.com/google/uuid"

	"github.com/brokered/svcbroker/moniker"
)

// SupportedConnections is a bit-flag set of connection kinds a client or
// server can negotiate during handshake.
type SupportedConnections uint8

const (
	ConnectionNone          SupportedConnections = 0
	ConnectionIPCPipe       SupportedConnections = 1 << 0
	ConnectionMultiplexing  SupportedConnections = 1 << 1
	ConnectionCLRActivation SupportedConnections = 1 << 2
)

// Has reports whether flag is set in s.
func (s SupportedConnections) Has(flag SupportedConnections) bool {
	return s&flag != 0
}

// LocalServiceHost describes a client's own service-hosting capability,
// used by the remote side to decide whether it can offload a service to the
// client for in-process activation.
type LocalServiceHost struct {
	OperatingSystem  string
	ProcessArchitecture string
	Runtime          string
	RuntimeVersion   string
}

// ClientMetadata is transmitted once per remote-broker connection during
// handshake.
type ClientMetadata struct {
	SupportedConnections SupportedConnections
	LocalServiceHost     *LocalServiceHost
}

// CLRActivationRecord names an in-process activation target: an assembly
// (or, in this Go port, a plugin/shared-object) path and a fully qualified
// type name. Kept under the spec's original "clrActivation" wire name for
// protocol compatibility even though this port has no CLR.
type CLRActivationRecord struct {
	AssemblyPath string
	FullTypeName string
}

// ConnectionInfo is the response to a request-service-channel call. At most
// one instruction field is set. It is empty (zero value, RequestID == uuid.Nil)
// when the service is unavailable — not an error, per spec §8.
type ConnectionInfo struct {
	RequestID            uuid.UUID
	PipeName             string
	MultiplexingChannelID *uint64
	CLRActivation        *CLRActivationRecord
}

// Empty reports whether no instruction field is set — the service was not
// found and no resources were reserved.
func (c ConnectionInfo) Empty() bool {
	return c.PipeName == "" && c.MultiplexingChannelID == nil && c.CLRActivation == nil
}

// NeedsCancel reports whether an instruction was reserved and the caller
// must send cancel-service-request if it will not consume it.
func (c ConnectionInfo) NeedsCancel() bool {
	return !c.Empty() && c.RequestID != uuid.Nil
}

// NewRequestID allocates a fresh random 128-bit request id, per spec §4.8
// ("Create a fresh request-id (random 128-bit)").
func NewRequestID() uuid.UUID {
	return uuid.New()
}

// AvailabilityChangedEventArgs carries the set of impacted monikers plus the
// "other services may also be impacted" flag, per spec §3.
type AvailabilityChangedEventArgs struct {
	ImpactedServices       []moniker.Moniker
	OtherServicesImpacted  bool
}

// Impacts reports whether m is covered by this event: either named directly,
// or implied by the catch-all flag.
func (e AvailabilityChangedEventArgs) Impacts(m moniker.Moniker) bool {
	if e.OtherServicesImpacted {
		return true
	}
	for _, im := range e.ImpactedServices {
		if im.Equal(m) {
			return true
		}
	}
	return false
}
