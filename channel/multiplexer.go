package channel

import (
	"sync"

	"avrorpc/wire"
)

// Multiplexer runs the single reader goroutine a shared stateful
// transport needs — reads must be sequential to parse frame boundaries,
// so one goroutine owns the connection's reads while writes are
// serialized separately by writeMu. It decodes Netty frames and routes
// each by its scope prefix to whichever stateful channel registered
// that prefix (§4.5: "a 16-bit scope prefix... checked on incoming
// ids; frames whose prefix doesn't match are silently discarded");
// routing table lookup realizes that check without ever handing a
// foreign channel's bytes to code that would have to notice and
// discard them.
type Multiplexer struct {
	transport Transport
	decoder   wire.Decoder

	writeMu sync.Mutex

	mu     sync.Mutex
	routes map[uint16]func(wire.Frame)
}

// NewMultiplexer wraps t for Netty-framed multiplexed use.
func NewMultiplexer(t Transport) *Multiplexer {
	return &Multiplexer{
		transport: t,
		decoder:   wire.NettyCodec{}.NewDecoder(),
		routes:    make(map[uint16]func(wire.Frame)),
	}
}

// Route registers handler for every frame whose scope prefix equals
// prefix, returning an unregister func.
func (m *Multiplexer) Route(prefix uint16, handler func(wire.Frame)) func() {
	m.mu.Lock()
	m.routes[prefix] = handler
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.routes, prefix)
		m.mu.Unlock()
	}
}

// Write encodes and writes f under the shared write lock.
func (m *Multiplexer) Write(f wire.Frame) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	dst, err := wire.NettyCodec{}.Encode(nil, f)
	if err != nil {
		return err
	}
	_, err = m.transport.Write(dst)
	return err
}

// Serve runs the read loop until the transport errors or is closed,
// dispatching each decoded frame to its routed scope.
func (m *Multiplexer) Serve() error {
	buf := make([]byte, 32*1024)
	for {
		n, err := m.transport.Read(buf)
		if n > 0 {
			m.decoder.Feed(buf[:n])
			for {
				frame, ok, ferr := m.decoder.Next()
				if ferr != nil {
					return ferr
				}
				if !ok {
					break
				}
				m.dispatch(frame)
			}
		}
		if err != nil {
			return err
		}
	}
}

func (m *Multiplexer) dispatch(f wire.Frame) {
	if f.ID == nil {
		return
	}
	prefix, _ := wire.SplitScopedID(*f.ID)
	m.mu.Lock()
	handler := m.routes[prefix]
	m.mu.Unlock()
	if handler != nil {
		handler(f)
	}
}
