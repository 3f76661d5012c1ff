package mux

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// pipeChannel is the Channel implementation returned by Stream: reads pull
// from a buffered queue fed by the owning Stream's read loop, writes go
// straight out over the shared underlying connection framed with this
// channel's ID.
type pipeChannel struct {
	owner *Stream
	id    uint64
	name  string

	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	eof    bool
	err    error
	closed bool

	acceptOnce sync.Once
	accepted   chan struct{}
	doneOnce   sync.Once
	closedCh   chan struct{}
}

func newPipeChannel(owner *Stream, id uint64, name string) *pipeChannel {
	c := &pipeChannel{owner: owner, id: id, name: name, accepted: make(chan struct{}), closedCh: make(chan struct{})}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *pipeChannel) ID() uint64   { return c.id }
func (c *pipeChannel) Name() string { return c.name }

func (c *pipeChannel) Accepted() <-chan struct{} { return c.accepted }
func (c *pipeChannel) Done() <-chan struct{}     { return c.closedCh }

// markAccepted closes the Accepted channel exactly once. Safe to call from
// both AcceptChannel (the claiming side, for its own copy of the channel)
// and dispatchAccept (the offering side, on receipt of the peer's ack).
func (c *pipeChannel) markAccepted() {
	c.acceptOnce.Do(func() { close(c.accepted) })
}

// markDone closes the Done channel exactly once. Called both from Close
// (this side closed it) and deliverErr (the underlying stream died, so
// there is no longer any peer left to send an accept or a frameClose).
func (c *pipeChannel) markDone() {
	c.doneOnce.Do(func() { close(c.closedCh) })
}

func (c *pipeChannel) deliver(p []byte) {
	c.mu.Lock()
	c.buf.Write(p)
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *pipeChannel) deliverEOF() {
	c.mu.Lock()
	c.eof = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *pipeChannel) deliverErr(err error) {
	c.mu.Lock()
	c.err = err
	c.eof = true
	c.mu.Unlock()
	c.cond.Broadcast()
	c.markDone()
}

func (c *pipeChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.buf.Len() == 0 && !c.eof {
		c.cond.Wait()
	}
	if c.buf.Len() > 0 {
		return c.buf.Read(p)
	}
	if c.err != nil {
		return 0, c.err
	}
	return 0, io.EOF
}

func (c *pipeChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, fmt.Errorf("mux: channel %q closed", c.name)
	}
	if err := c.owner.sendData(c.id, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *pipeChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.eof = true
	c.mu.Unlock()
	c.cond.Broadcast()
	c.markDone()
	return c.owner.sendClose(c.id)
}

var _ Channel = (*pipeChannel)(nil)
