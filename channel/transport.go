// Package channel implements the four channel variants §4.5
// describes — stateless/stateful × client/server — each owning a
// transport, driving the handshake, and routing frames to/from a
// registry.Registry and the local dispatcher.
//
// Grounded on a net.Conn-based recvLoop/pending-map transport pattern:
// a background recvLoop goroutine plus pending sync.Map plus per-connection write
// mutex is the shape every stateful variant here generalizes (Registry
// replaces the raw map, wire.Decoder does the frame parsing, and the
// scope prefix lets several logical channels share one physical
// transport through a Multiplexer).
package channel

import "io"

// Transport is the explicit capability interface every channel variant
// is built against (§9 design note "Duck-typed transports"): a byte
// source to read incoming frames from and a byte sink to write
// outgoing ones. A net.Conn, a websocket message adapter, and an
// in-memory pipe all satisfy it unmodified.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Factory builds a fresh Transport for one call — used by stateless
// channels, where each call gets its own connection (or its own
// request/response pair over a shared listener).
type Factory func() (Transport, error)
