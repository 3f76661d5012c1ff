package rpcruntime

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/brokered/svcbroker/descriptor"
)

// Client issues calls over one already-open duplex stream, multiplexing
// concurrent in-flight calls by sequence number the way mini-RPC's
// transport.ClientTransport does (transport/client_transport.go's recvLoop
// routes responses to per-call channels keyed by Seq) — generalized here
// from "one of a shared pool of TCP connections picked by round robin" to
// "the single stream the broker already established for this proxy".
type Client struct {
	stream  io.ReadWriteCloser
	codec   Codec
	writeMu sync.Mutex
	seq     uint32
	tracer  trace.Tracer

	mu      sync.Mutex
	pending map[uint32]chan *Envelope
	closed  bool
	closeErr error
}

// NewClient wraps stream with a Client using the wire format named by d,
// and starts the background receive loop that demultiplexes responses.
func NewClient(d descriptor.Descriptor, stream io.ReadWriteCloser) (*Client, error) {
	c, err := CodecFor(d.Formatter)
	if err != nil {
		return nil, err
	}
	cl := &Client{
		stream:  stream,
		codec:   c,
		pending: make(map[uint32]chan *Envelope),
		tracer:  otel.Tracer("github.com/brokered/svcbroker/rpcruntime"),
	}
	go cl.recvLoop()
	return cl, nil
}

func (c *Client) recvLoop() {
	for {
		header, body, err := decodeFrame(c.stream)
		if err != nil {
			c.failAll(err)
			return
		}
		var env Envelope
		if err := c.codec.Decode(body, &env); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[header.Seq]
		delete(c.pending, header.Seq)
		c.mu.Unlock()
		if ok {
			ch <- &env
		}
	}
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	c.closed = true
	c.closeErr = err
	pending := c.pending
	c.pending = map[uint32]chan *Envelope{}
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// Call performs one synchronous request/response exchange, generalizing
// mini-RPC's Client.Call (client/client.go) from a registry+balancer+pool
// lookup down to a direct call over the bound stream.
func (c *Client) Call(ctx context.Context, serviceMethod string, args, reply any) error {
	var span trace.Span
	ctx, span = c.tracer.Start(ctx, serviceMethod)
	defer span.End()

	payload, err := c.codec.Encode(args)
	if err != nil {
		return err
	}
	req := &Envelope{ServiceMethod: serviceMethod, Payload: payload, TraceParent: span.SpanContext().TraceID().String()}
	body, err := c.codec.Encode(req)
	if err != nil {
		return err
	}

	seq := atomic.AddUint32(&c.seq, 1)
	respCh := make(chan *Envelope, 1)

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return fmt.Errorf("rpcruntime: client closed: %w", err)
	}
	c.pending[seq] = respCh
	c.mu.Unlock()

	c.writeMu.Lock()
	writeErr := encodeFrame(c.stream, frameHeader{MsgType: msgRequest, Seq: seq, BodyLen: uint32(len(body))}, body)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return writeErr
	}

	select {
	case env, ok := <-respCh:
		if !ok {
			return fmt.Errorf("rpcruntime: stream closed waiting for %s", serviceMethod)
		}
		if env.Error != "" {
			return &RemoteInvocationError{ServiceMethod: serviceMethod, Message: env.Error}
		}
		return c.codec.Decode(env.Payload, reply)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Close releases the underlying stream.
func (c *Client) Close() error {
	return c.stream.Close()
}
