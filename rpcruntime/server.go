package rpcruntime

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/brokered/svcbroker/descriptor"
)

// Runtime is one reference RPC runtime instance: a registry of dispatchable
// receivers plus a wire format, generalized from mini-RPC's Server
// (server/server.go) and Service table (server/service.go). Unlike the
// teacher, a Runtime does not own a net.Listener or an accept loop — the
// broker graph already handed it an established duplex Stream per request
// (GetPipe/ProxyBuilder), so Serve dispatches requests on exactly one
// stream until it closes, rather than accepting many connections itself.
type Runtime struct {
	mu       sync.RWMutex
	services map[string]*service
	codec    Codec
	log      *logrus.Entry
	tracer   trace.Tracer
	chain    Interceptor
}

// New creates a Runtime using the wire format named by d.
func New(d descriptor.Descriptor) (*Runtime, error) {
	c, err := CodecFor(d.Formatter)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		services: make(map[string]*service),
		codec:    c,
		log:      logrus.NewEntry(logrus.StandardLogger()),
		tracer:   otel.Tracer("github.com/brokered/svcbroker/rpcruntime"),
	}, nil
}

// Register adds rcvr's dispatchable methods under its type name, mirroring
// mini-RPC's Server.Register.
func (rt *Runtime) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.services[svc.name] = svc
	return nil
}

// Serve reads frames off stream until it closes or ctx is cancelled,
// dispatching each request to its own goroutine the way mini-RPC's
// handleConn/handleRequest split does (server/server.go), so a slow
// handler never blocks unrelated concurrent calls sharing the same stream.
func (rt *Runtime) Serve(ctx context.Context, stream io.ReadWriteCloser) error {
	var writeMu sync.Mutex
	var wg sync.WaitGroup
	defer wg.Wait()
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	for {
		header, body, err := decodeFrame(stream)
		if err != nil {
			return err
		}
		if header.MsgType == msgHeartbeat {
			continue
		}
		wg.Add(1)
		go func(header frameHeader, body []byte) {
			defer wg.Done()
			rt.handleRequest(ctx, stream, &writeMu, header, body)
		}(header, body)
	}
}

func (rt *Runtime) handleRequest(ctx context.Context, w io.Writer, writeMu *sync.Mutex, header frameHeader, body []byte) {
	var req Envelope
	if err := rt.codec.Decode(body, &req); err != nil {
		rt.reply(w, writeMu, header.Seq, &Envelope{Error: err.Error()})
		return
	}

	callCtx := ctx
	if req.TraceParent != "" {
		var span trace.Span
		callCtx, span = rt.tracer.Start(ctx, req.ServiceMethod)
		defer span.End()
	}

	rt.mu.RLock()
	chain := rt.chain
	rt.mu.RUnlock()

	handler := HandlerFunc(rt.dispatch)
	if chain != nil {
		handler = chain(handler)
	}
	resp := handler(callCtx, &req)
	rt.reply(w, writeMu, header.Seq, resp)
}

func (rt *Runtime) dispatch(ctx context.Context, req *Envelope) (resp *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			rt.log.WithField("method", req.ServiceMethod).Errorf("recovered panic in remote invocation: %v", r)
			resp = &Envelope{ServiceMethod: req.ServiceMethod, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	parts := strings.SplitN(req.ServiceMethod, ".", 2)
	if len(parts) != 2 {
		return &Envelope{Error: fmt.Sprintf("rpcruntime: malformed service method %q", req.ServiceMethod)}
	}

	rt.mu.RLock()
	svc, ok := rt.services[parts[0]]
	rt.mu.RUnlock()
	if !ok {
		return &Envelope{Error: fmt.Sprintf("rpcruntime: unknown service %q", parts[0])}
	}
	mt, ok := svc.method[parts[1]]
	if !ok {
		return &Envelope{Error: fmt.Sprintf("rpcruntime: unknown method %q", req.ServiceMethod)}
	}

	argv := reflect.New(mt.ArgType)
	replyv := reflect.New(mt.ReplyType)
	if err := rt.codec.Decode(req.Payload, argv.Interface()); err != nil {
		return &Envelope{ServiceMethod: req.ServiceMethod, Error: err.Error()}
	}

	callErr := svc.call(ctx, mt, argv, replyv)
	payload, err := rt.codec.Encode(replyv.Interface())
	if err != nil {
		return &Envelope{ServiceMethod: req.ServiceMethod, Error: err.Error()}
	}

	out := &Envelope{ServiceMethod: req.ServiceMethod, Payload: payload}
	if callErr != nil {
		out.Error = callErr.Error()
	}
	return out
}

func (rt *Runtime) reply(w io.Writer, writeMu *sync.Mutex, seq uint32, resp *Envelope) {
	body, err := rt.codec.Encode(resp)
	if err != nil {
		rt.log.WithError(err).Error("rpcruntime: failed to encode response envelope")
		return
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := encodeFrame(w, frameHeader{MsgType: msgResponse, Seq: seq, BodyLen: uint32(len(body))}, body); err != nil {
		rt.log.WithError(err).Error("rpcruntime: failed to write response frame")
	}
}
