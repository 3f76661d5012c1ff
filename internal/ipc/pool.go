package ipc

import (
	"fmt"
	"sync"
)

// Pool manages a bounded set of reusable IPC streams to a single server
// address. Adapted from the teacher's transport.ConnPool (transport/pool.go):
// same buffered-channel-as-FIFO-queue design, generalized from net.Conn to
// the platform-neutral Stream so it serves named pipes as well as Unix
// sockets, for the "exclusive connection, one request at a time" case.
// Nothing in this module constructs a Pool: remotebroker and the relay
// brokers share one connection per peer (muxrelay through mux) instead.
type Pool struct {
	mu       sync.Mutex
	conns    chan *PooledStream
	maxConns int
	curConns int
	factory  func() (Stream, error)
	closed   bool
}

// PooledStream wraps a Stream with pool bookkeeping.
type PooledStream struct {
	Stream
	pool     *Pool
	unusable bool
}

// NewPool creates a stream pool of at most maxConns concurrently open
// connections, created lazily via factory.
func NewPool(maxConns int, factory func() (Stream, error)) *Pool {
	return &Pool{
		conns:    make(chan *PooledStream, maxConns),
		maxConns: maxConns,
		factory:  factory,
	}
}

// Get retrieves a stream from the pool, creating one if under the limit or
// blocking for a returned one at capacity.
func (p *Pool) Get() (*PooledStream, error) {
	select {
	case conn := <-p.conns:
		if conn.unusable {
			return p.createNew()
		}
		return conn, nil
	default:
		p.mu.Lock()
		underLimit := p.curConns < p.maxConns
		p.mu.Unlock()
		if underLimit {
			return p.createNew()
		}
		conn := <-p.conns
		return conn, nil
	}
}

// Put returns a stream to the pool, or closes and discards it if the caller
// marked it Unusable after an I/O error.
func (p *Pool) Put(conn *PooledStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn.unusable || p.closed {
		_ = conn.Close()
		p.curConns--
		return
	}
	p.conns <- conn
}

// MarkUnusable flags conn so the next Put discards it instead of recycling
// it, for callers that observed an I/O error on it.
func (c *PooledStream) MarkUnusable() { c.unusable = true }

// Close shuts down the pool and closes every idle stream in it. Streams
// currently checked out are closed when their holder calls Put.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	close(p.conns)
	for conn := range p.conns {
		_ = conn.Close()
		p.curConns--
	}
	return nil
}

func (p *Pool) createNew() (*PooledStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.curConns >= p.maxConns {
		return nil, fmt.Errorf("ipc: connection pool exhausted")
	}

	stream, err := p.factory()
	if err != nil {
		return nil, err
	}

	p.curConns++
	return &PooledStream{Stream: stream, pool: p, unusable: false}, nil
}
