// Package muxrelay implements the Multiplexing Relay Broker from spec
// §4.9: it exposes an inner broker.ServiceBroker as a
// broker.RemoteServiceBroker whose clients reach services over sub-channels
// of one shared multiplexing.Stream, rather than ipcrelay's fresh
// single-shot server per request.
package muxrelay

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
	"github.com/brokered/svcbroker/moniker"
	"github.com/brokered/svcbroker/mux"
)

var _ broker.RemoteServiceBroker = (*Broker)(nil)

// Broker exposes inner over sub-channels of stream, implementing
// broker.RemoteServiceBroker.
type Broker struct {
	inner  broker.ServiceBroker
	stream *mux.Stream

	mu      sync.Mutex
	pending map[uuid.UUID]*disposable.Bag
}

// New wraps inner, offering its services over sub-channels of stream.
func New(inner broker.ServiceBroker, stream *mux.Stream) *Broker {
	return &Broker{
		inner:   inner,
		stream:  stream,
		pending: make(map[uuid.UUID]*disposable.Bag),
	}
}

// Handshake requires multiplexing support.
func (b *Broker) Handshake(ctx context.Context, client brokerproto.ClientMetadata) error {
	if !client.SupportedConnections.Has(brokerproto.ConnectionMultiplexing) {
		return fmt.Errorf("%w: client does not support multiplexing connections", brokererr.ErrNotSupported)
	}
	return nil
}

// RequestServiceChannel implements the per-request algorithm from spec
// §4.9: set options.multiplexing-stream to the shared stream (so a
// recursive remote request downstream can elide serializing a stream
// reference of its own), ask the inner broker for a local pipe, offer a
// fresh sub-channel backed by that pipe, and hand the caller its channel id.
func (b *Broker) RequestServiceChannel(ctx context.Context, m moniker.Moniker, opts activation.Options) (brokerproto.ConnectionInfo, error) {
	opts = opts.Clone()
	opts.MultiplexingStream = b.stream

	servicePipe, err := b.inner.GetPipe(ctx, m, opts)
	if err != nil {
		return brokerproto.ConnectionInfo{}, err
	}
	if servicePipe == nil {
		return brokerproto.ConnectionInfo{}, nil
	}

	bag := disposable.New()
	bag.Add(disposable.Func(servicePipe.Close))

	ch, err := b.stream.OfferChannel(ctx, "")
	if err != nil {
		_ = bag.Dispose()
		return brokerproto.ConnectionInfo{}, err
	}
	bag.Add(disposable.Func(ch.Close))

	requestID := brokerproto.NewRequestID()
	b.mu.Lock()
	b.pending[requestID] = bag
	b.mu.Unlock()

	go b.join(requestID, ch, servicePipe)

	channelID := ch.ID()
	return brokerproto.ConnectionInfo{RequestID: requestID, MultiplexingChannelID: &channelID}, nil
}

// join waits for the offered sub-channel to actually be claimed by the
// remote peer's AcceptChannel before removing requestID from the pending
// map, then copies bytes bidirectionally between the sub-channel and the
// inner broker's service pipe -- fire-and-forget, per spec §4.9's
// "fire-and-forget a continuation on the channel's acceptance that removes
// it from the pending map". If ch is closed first (CancelServiceRequest ran
// before the peer ever accepted), the pending entry was already removed by
// the cancel path and there is nothing left to copy.
func (b *Broker) join(requestID uuid.UUID, ch mux.Channel, servicePipe io.ReadWriteCloser) {
	defer ch.Close()
	defer servicePipe.Close()

	select {
	case <-ch.Accepted():
		b.removePending(requestID)
	case <-ch.Done():
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(servicePipe, ch)
		_ = servicePipe.Close()
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(ch, servicePipe)
		_ = ch.Close()
	}()
	wg.Wait()
}

// CancelServiceRequest pops and disposes the offered sub-channel reserved
// for requestID, if still pending. Idempotent.
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
// bag -- called once the peer has accepted the offered sub-channel, since
// from then on the copy loop itself (not a stray cancel) owns the service
// pipe's lifetime.
func (b *Broker) removePending(requestID uuid.UUID) {
	b.mu.Lock()
	delete(b.pending, requestID)
	b.mu.Unlock()
}
