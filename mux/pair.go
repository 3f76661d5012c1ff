package mux

import "net"

// NewPair returns two connected Streams suitable for tests and for the
// in-process relay wiring described in SPEC_FULL.md §4.12: each Stream
// multiplexes sub-channels over an in-memory net.Pipe, so no real IPC
// transport is needed to exercise brokerclient/remotebroker end-to-end.
func NewPair() (*Stream, *Stream) {
	a, b := net.Pipe()
	return New(a), New(b)
}
