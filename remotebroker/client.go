package remotebroker

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/brokererr"
	"github.com/brokered/svcbroker/brokerproto"
	"github.com/brokered/svcbroker/descriptor"
	"github.com/brokered/svcbroker/internal/ipc"
	"github.com/brokered/svcbroker/moniker"
	"github.com/brokered/svcbroker/mux"
	"github.com/brokered/svcbroker/rpcruntime"
)

// CredentialSource supplies default client credentials for requests that
// didn't specify their own, filled in during per-request dispatch step 1.
// authzclient.Client satisfies this without this package importing it
// directly.
type CredentialSource interface {
	Credentials(ctx context.Context) (map[string]string, error)
}

// Client turns a remote broker reached over one duplex stream (optionally
// a multiplexing stream) into a broker.ServiceBroker, per spec §4.7. It
// plays the role the teacher's client.Client played after discovery and
// load-balancing had already picked an instance (client/client.go Call) --
// here the broker protocol itself plays discovery+balancing, and this type
// only dispatches the already-resolved connection.
type Client struct {
	rpc        *rpcruntime.Client
	muxStream  *mux.Stream
	underlying io.Closer
	credSource CredentialSource
	emitter    *broker.Emitter

	mu        sync.Mutex
	supported brokerproto.SupportedConnections
}

// ConnectToDuplex builds an RPC runtime over pipe for the
// IRemoteServiceBroker contract and handshakes advertising only the named
// pipe connection kind.
func ConnectToDuplex(ctx context.Context, pipe io.ReadWriteCloser, credSource CredentialSource) (*Client, error) {
	rc, err := rpcruntime.NewClient(remoteBrokerDescriptor, pipe)
	if err != nil {
		_ = pipe.Close()
		return nil, err
	}
	c := &Client{
		rpc:        rc,
		underlying: pipe,
		credSource: credSource,
		emitter:    broker.NewEmitter(),
		supported:  brokerproto.ConnectionIPCPipe,
	}
	if err := c.handshake(ctx); err != nil {
		_ = pipe.Close()
		return nil, err
	}
	return c, nil
}

// ConnectToMultiplexingDuplex wraps stream in a multiplexing.Stream, accepts
// the default (empty-named) sub-channel reserved for the broker proxy
// itself, and handshakes advertising named-pipe + multiplexing. On any
// setup failure the duplex stream is disposed.
func ConnectToMultiplexingDuplex(ctx context.Context, stream io.ReadWriteCloser, credSource CredentialSource) (*Client, error) {
	ms := mux.New(stream)
	ch, err := ms.AcceptChannel(ctx, "")
	if err != nil {
		_ = ms.Dispose()
		return nil, err
	}
	rc, err := rpcruntime.NewClient(remoteBrokerDescriptor, ch)
	if err != nil {
		_ = ms.Dispose()
		return nil, err
	}
	c := &Client{
		rpc:        rc,
		muxStream:  ms,
		underlying: ms,
		credSource: credSource,
		emitter:    broker.NewEmitter(),
		supported:  brokerproto.ConnectionIPCPipe | brokerproto.ConnectionMultiplexing,
	}
	if err := c.handshake(ctx); err != nil {
		_ = ms.Dispose()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	c.mu.Lock()
	supported := c.supported
	c.mu.Unlock()

	req := &handshakeArgs{Client: brokerproto.ClientMetadata{
		SupportedConnections: supported,
		LocalServiceHost: &brokerproto.LocalServiceHost{
			OperatingSystem:     runtime.GOOS,
			ProcessArchitecture: runtime.GOARCH,
			Runtime:             "go",
			RuntimeVersion:      runtime.Version(),
		},
	}}
	var reply handshakeReply
	return c.rpc.Call(ctx, "RemoteServiceBroker.Handshake", req, &reply)
}

// OfferLocalServiceHost re-handshakes adding the in-process-activation
// connection kind to this client's advertised capability set. Idempotent.
func (c *Client) OfferLocalServiceHost(ctx context.Context) error {
	c.mu.Lock()
	if c.supported.Has(brokerproto.ConnectionCLRActivation) {
		c.mu.Unlock()
		return nil
	}
	c.supported |= brokerproto.ConnectionCLRActivation
	c.mu.Unlock()
	return c.handshake(ctx)
}

// fillDefaults implements dispatch step 1: cultures from the environment,
// credentials from the credential source when the caller supplied none.
func (c *Client) fillDefaults(ctx context.Context, opts activation.Options) (activation.Options, error) {
	filled := opts.Clone()
	if filled.ClientCulture == "" {
		filled.ClientCulture = os.Getenv("LANG")
	}
	if filled.ClientUICulture == "" {
		filled.ClientUICulture = filled.ClientCulture
	}
	if len(filled.ClientCredentials) == 0 && c.credSource != nil {
		creds, err := c.credSource.Credentials(ctx)
		if err != nil {
			return activation.Options{}, err
		}
		filled.ClientCredentials = creds
	}
	return filled, nil
}

// requestChannel performs dispatch steps 2-4: request-service-channel,
// downgrading dispose-type failures to (zero, nil, nil) per the
// graceful-aggregation propagation policy, wrapping everything else as a
// service-activation-failed error, and reporting "empty" (service not
// found) separately from an error.
func (c *Client) requestChannel(ctx context.Context, m moniker.Moniker, opts activation.Options) (brokerproto.ConnectionInfo, bool, error) {
	req := &requestChannelArgs{Moniker: m, Options: opts.Serializable()}
	var reply requestChannelReply
	if err := c.rpc.Call(ctx, "RemoteServiceBroker.RequestServiceChannel", req, &reply); err != nil {
		if isDisposeFailure(err) {
			return brokerproto.ConnectionInfo{}, false, nil
		}
		return brokerproto.ConnectionInfo{}, false, brokererr.NewServiceActivationError(m.String(), err)
	}
	if reply.Info.Empty() {
		return brokerproto.ConnectionInfo{}, false, nil
	}
	return reply.Info, true, nil
}

// isDisposeFailure reports whether err looks like a transport-level
// disconnect rather than an application-level RPC failure -- the remote
// broker client's propagation policy downgrades these to a plain "not
// found" rather than surfacing an error, per spec §7.
func isDisposeFailure(err error) bool {
	return err == io.EOF || err == io.ErrClosedPipe || err == io.ErrUnexpectedEOF
}

// cancelRequest best-effort releases a reserved request id, swallowing its
// own failure -- it only ever runs as cleanup after another error.
func (c *Client) cancelRequest(ctx context.Context, requestID uuid.UUID) {
	if requestID == uuid.Nil {
		return
	}
	req := &cancelArgs{RequestID: requestID}
	var reply cancelReply
	_ = c.rpc.Call(ctx, "RemoteServiceBroker.CancelServiceRequest", req, &reply)
}

// resolvePipe implements dispatch steps 5-7: turn connection-info into a
// duplex pipe, validating it against what this client advertised during
// handshake. forProxy distinguishes get-proxy (where in-process activation
// would be meaningful) from get-pipe (where it can never be represented).
func (c *Client) resolvePipe(ctx context.Context, info brokerproto.ConnectionInfo, forProxy bool) (io.ReadWriteCloser, error) {
	c.mu.Lock()
	supported := c.supported
	c.mu.Unlock()

	switch {
	case info.MultiplexingChannelID != nil:
		if !supported.Has(brokerproto.ConnectionMultiplexing) || c.muxStream == nil {
			return nil, fmt.Errorf("%w: server offered a multiplexing sub-channel but client has no multiplexing stream", brokererr.ErrNotSupported)
		}
		ch, err := c.muxStream.AcceptChannel(ctx, "")
		if err != nil {
			return nil, err
		}
		return ch, nil

	case info.PipeName != "":
		if !supported.Has(brokerproto.ConnectionIPCPipe) {
			return nil, fmt.Errorf("%w: server offered a named pipe but client did not advertise ipcPipe support", brokererr.ErrNotSupported)
		}
		return ipc.Connect(ctx, info.PipeName, ipc.ConnectOptions{Policy: ipc.DefaultRetryPolicy()})

	case info.CLRActivation != nil:
		// This Go port has no in-process assembly/type loader: get-proxy has
		// nothing to load, and get-pipe can never represent in-process
		// activation at all. Both cases are therefore always unsupported
		// here regardless of what was negotiated at handshake -- a resolved
		// Open Question, recorded in DESIGN.md.
		_ = forProxy
		return nil, fmt.Errorf("%w: in-process activation has no equivalent in this runtime", brokererr.ErrNotSupported)

	default:
		return nil, fmt.Errorf("%w: connection-info named no supported instruction", brokererr.ErrNotSupported)
	}
}

// dispatch runs the full per-request algorithm from spec §4.7 steps 1-9 and
// returns the resolved duplex pipe, or (nil, nil) if the service was not
// found.
func (c *Client) dispatch(ctx context.Context, m moniker.Moniker, opts activation.Options, forProxy bool) (io.ReadWriteCloser, error) {
	filled, err := c.fillDefaults(ctx, opts)
	if err != nil {
		return nil, err
	}

	info, found, err := c.requestChannel(ctx, m, filled)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	pipe, err := c.resolvePipe(ctx, info, forProxy)
	if err != nil {
		c.cancelRequest(ctx, info.RequestID)
		return nil, brokererr.NewServiceActivationError(m.String(), err)
	}
	return pipe, nil
}

// GetProxy implements broker.ServiceBroker.
func (c *Client) GetProxy(ctx context.Context, d descriptor.Descriptor, opts activation.Options, build broker.ProxyBuilder) (any, error) {
	pipe, err := c.dispatch(ctx, d.Moniker, opts, true)
	if err != nil || pipe == nil {
		return nil, err
	}
	proxy, err := build(ctx, pipe, nil)
	if err != nil {
		_ = pipe.Close()
		return nil, brokererr.NewServiceActivationError(d.Moniker.String(), err)
	}
	return proxy, nil
}

// GetPipe implements broker.ServiceBroker.
func (c *Client) GetPipe(ctx context.Context, m moniker.Moniker, opts activation.Options) (io.ReadWriteCloser, error) {
	return c.dispatch(ctx, m, opts, false)
}

// OnAvailabilityChanged implements broker.ServiceBroker. The reference
// IRemoteServiceBroker contract in this package carries no server-pushed
// availability notification, so subscribers are retained but never fired;
// Client still satisfies the interface so it composes with aggregator like
// any other broker.
func (c *Client) OnAvailabilityChanged(handler broker.AvailabilityHandler) func() {
	return c.emitter.Subscribe(handler)
}

// Close releases the underlying duplex stream (or multiplexing stream).
func (c *Client) Close() error {
	return c.underlying.Close()
}
