// Package ipcrelay implements the IPC Relay Broker from spec §4.8: it
// exposes an inner broker.ServiceBroker as a broker.RemoteServiceBroker
// whose clients connect via named pipes (Windows) / Unix sockets (POSIX),
// generalizing the teacher's single long-lived server/server.go accept
// loop into a single-shot server stood up fresh per request.
package ipcrelay

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/brokered/svcbroker/activation"
	"github.com/brokered/svcbroker/broker"
	"github.com/brokered/svcbroker/brokererr"
	"github.com/brokered/svcbroker/brokerproto"
	"github.com/brokered/svcbroker/disposable"
	"github.com/brokered/svcbroker/internal/ipc"
	"github.com/brokered/svcbroker/moniker"
)

var _ broker.RemoteServiceBroker = (*Broker)(nil)

// Broker exposes inner over the IPC transport, implementing
// broker.RemoteServiceBroker.
type Broker struct {
	inner  broker.ServiceBroker
	prefix string

	mu      sync.Mutex
	pending map[uuid.UUID]*disposable.Bag
}

// New wraps inner. channelPrefix names the single-shot channels this relay
// stands up per request (e.g. "svcbroker-relay"); a unique suffix is
// appended to every channel name so concurrent requests never collide.
func New(inner broker.ServiceBroker, channelPrefix string) *Broker {
	return &Broker{
		inner:   inner,
		prefix:  channelPrefix,
		pending: make(map[uuid.UUID]*disposable.Bag),
	}
}

// Handshake requires the client to support the named-pipe connection kind.
func (b *Broker) Handshake(ctx context.Context, client brokerproto.ClientMetadata) error {
	if !client.SupportedConnections.Has(brokerproto.ConnectionIPCPipe) {
		return fmt.Errorf("%w: client does not support named-pipe connections", brokererr.ErrNotSupported)
	}
	return nil
}

// RequestServiceChannel implements the per-request algorithm from spec
// §4.8: ask the inner broker for a local pipe, stand up a single-shot IPC
// server that joins the incoming connection to that pipe, and hand the
// caller connection instructions.
func (b *Broker) RequestServiceChannel(ctx context.Context, m moniker.Moniker, opts activation.Options) (brokerproto.ConnectionInfo, error) {
	servicePipe, err := b.inner.GetPipe(ctx, m, opts)
	if err != nil {
		return brokerproto.ConnectionInfo{}, err
	}
	if servicePipe == nil {
		return brokerproto.ConnectionInfo{}, nil
	}

	bag := disposable.New()
	bag.Add(disposable.Func(servicePipe.Close))

	requestID := brokerproto.NewRequestID()
	channelName := fmt.Sprintf("%s-%s", b.prefix, requestID.String())

	srv, err := ipc.Create(ctx, channelName, b.joinHandler(servicePipe, requestID), ipc.ServerOptions{OneClientOnly: true})
	if err != nil {
		_ = bag.Dispose()
		return brokerproto.ConnectionInfo{}, err
	}
	bag.Add(disposable.Func(srv.Close))

	b.mu.Lock()
	b.pending[requestID] = bag
	b.mu.Unlock()

	return brokerproto.ConnectionInfo{RequestID: requestID, PipeName: string(srv.Address())}, nil
}

// joinHandler returns an ipc.OnConnect that copies bytes bidirectionally
// between the newly accepted client stream and servicePipe, then removes
// the request from the pending map once a client has connected -- the
// single-shot server's job is done at that point even though the copy loop
// keeps running until either side closes.
func (b *Broker) joinHandler(servicePipe io.ReadWriteCloser, requestID uuid.UUID) ipc.OnConnect {
	return func(ctx context.Context, clientStream ipc.Stream) error {
		b.removePending(requestID)

		defer clientStream.Close()
		defer servicePipe.Close()

		var wg sync.WaitGroup
		wg.Add(2)
		var copyErr error
		var once sync.Once
		recordErr := func(err error) {
			if err != nil && err != io.EOF {
				once.Do(func() { copyErr = err })
			}
		}

		go func() {
			defer wg.Done()
			_, err := io.Copy(servicePipe, clientStream)
			recordErr(err)
			_ = servicePipe.Close() // unblock the other direction's read
		}()
		go func() {
			defer wg.Done()
			_, err := io.Copy(clientStream, servicePipe)
			recordErr(err)
			_ = clientStream.Close()
		}()
		wg.Wait()
		return copyErr
	}
}

// CancelServiceRequest tears down the pending reservation for requestID, if
// any. Idempotent. The parameter type is the bare [16]byte array named by
// broker.RemoteServiceBroker -- Go requires an exact type match for
// interface satisfaction, so the uuid.UUID conversion happens here rather
// than in the interface signature.
func (b *Broker) CancelServiceRequest(ctx context.Context, requestID [16]byte) error {
	id := uuid.UUID(requestID)
	b.mu.Lock()
	bag, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return bag.Dispose()
}

// removePending drops requestID from the pending map without disposing its
// bag -- called once a client has successfully connected, since from then
// on the copy loop itself (not a stray cancel) owns the service pipe's
// lifetime.
func (b *Broker) removePending(requestID uuid.UUID) {
	b.mu.Lock()
	delete(b.pending, requestID)
	b.mu.Unlock()
}
