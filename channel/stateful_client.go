package channel

import (
	"bytes"
	"sync"
	"time"

	"avrorpc/handshake"
	"avrorpc/message"
	"avrorpc/registry"
	"avrorpc/rpcerr"
	"avrorpc/schema"
	"avrorpc/wire"
)

// handshakePingID is the wire id the opening handshake round trip uses.
// It needs no relation to any registry.Registry id: while the channel
// isn't yet connected, every incoming frame is treated as a handshake
// response regardless of its id (§4.5 bullet 2), so this is just a
// placeholder that satisfies NettyCodec's "frame requires an id".
const handshakePingID = 0

type queuedFrame struct {
	wireID int32
	body   []byte
}

// StatefulClient is one long-lived, multiplexed client channel (§4.5
// "Stateful client channel"). One handshake negotiates the peer's
// schema once; every call after that is a bare request/response pair
// identified by a registry id.
type StatefulClient struct {
	base

	svc      *message.Service
	adapters AdapterSource
	opts     Options
	mux      *Multiplexer
	unroute  func()
	reg      *registry.Registry

	mu               sync.Mutex
	connected        bool
	handshakeStarted bool
	handshakeRetried bool
	peerHash         [16]byte
	queue            []queuedFrame
	handshakeTimer   *time.Timer
}

// NewStatefulClient opens a channel over transport, starting the
// handshake immediately unless opts.NoPing is set.
func NewStatefulClient(svc *message.Service, transport Transport, adapters AdapterSource, opts Options) *StatefulClient {
	mux := NewMultiplexer(transport)
	c := NewStatefulClientOnMux(svc, mux, adapters, opts)
	c.onFinish = func() { _ = transport.Close() }

	go func() {
		err := mux.Serve()
		c.onTransportError(err)
	}()
	return c
}

// NewStatefulClientOnMux attaches a new scoped channel to an already
// running Multiplexer instead of building (and starting a reader
// goroutine for) one of its own, letting two client channels share a
// single transport, distinguished only by scope (§3 "Channel scope
// prefix", §8 property 6). The caller owns mux's lifetime.
func NewStatefulClientOnMux(svc *message.Service, mux *Multiplexer, adapters AdapterSource, opts Options) *StatefulClient {
	c := &StatefulClient{
		base:     newBase(opts.Scope),
		svc:      svc,
		adapters: adapters,
		opts:     opts,
		reg:      registry.New(),
		mux:      mux,
	}
	c.unroute = c.mux.Route(c.prefix, c.onFrame)
	c.startConnecting()
	return c
}

func (c *StatefulClient) startConnecting() {
	if c.opts.NoPing {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
	} else {
		c.startHandshake()
	}
}

// Call issues one RPC. For one-way messages cb fires immediately once
// the bytes are queued or written, with no wire round trip (§4.5
// "_send... the registry callback is invoked immediately").
func (c *StatefulClient) Call(reqBytes []byte, timeout time.Duration, oneWay bool, cb registry.Callback) error {
	if c.Destroyed() {
		return rpcerr.New(rpcerr.Interrupted, "channel destroyed")
	}
	if c.draining_() {
		return rpcerr.New(rpcerr.Interrupted, "channel draining: no new calls accepted")
	}

	c.callStart()
	done := func(payload []byte, err error) {
		c.callDone(c, c.reg)
		cb(payload, err)
	}
	id, err := c.reg.Add(timeout, done)
	if err != nil {
		c.callDone(c, c.reg)
		return err
	}
	wireID := wire.ScopedID(c.prefix, id)

	c.mu.Lock()
	connected := c.connected
	if !connected {
		c.queue = append(c.queue, queuedFrame{wireID: wireID, body: reqBytes})
	}
	c.mu.Unlock()

	if connected {
		if err := c.mux.Write(wire.Frame{ID: &wireID, Payload: [][]byte{reqBytes}}); err != nil {
			c.reg.Cancel(id)
			c.callDone(c, c.reg)
			return err
		}
	}

	c.emitOutgoingCall(c)
	if oneWay {
		c.reg.Get(id, nil)
	}
	return nil
}

// PeerHash implements ClientChannel. The returned bool is whether the
// handshake has settled on a peer yet, not merely whether a hash value
// has ever been written — a MatchBoth handshake (the peer recognized
// our fingerprint from a prior channel) never writes peerHash at all.
func (c *StatefulClient) PeerHash() ([16]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerHash, c.connected
}

// Destroy implements Channel (§4.5 "Destroy / drain").
func (c *StatefulClient) Destroy(noWait bool) {
	c.unroute()
	c.destroy(c, noWait, c.reg)
}

func (c *StatefulClient) startHandshake() {
	c.mu.Lock()
	if c.handshakeStarted {
		c.mu.Unlock()
		return
	}
	c.handshakeStarted = true
	c.mu.Unlock()

	c.sendHandshakeFrame(nil)
	c.armHandshakeTimeout()
}

func (c *StatefulClient) armHandshakeTimeout() {
	t := time.AfterFunc(c.opts.handshakeTimeout(), func() {
		c.mu.Lock()
		already := c.connected
		c.mu.Unlock()
		if already {
			return
		}
		c.onTransportError(rpcerr.New(rpcerr.Timeout, "channel: handshake timed out"))
	})
	c.mu.Lock()
	c.handshakeTimer = t
	c.mu.Unlock()
}

// sendHandshakeFrame writes the opening record bearing the handshake
// as its body — nothing else, the first time; clientProtocol included
// verbatim on a NONE retry (§4.5 bullet 2, §4.4).
func (c *StatefulClient) sendHandshakeFrame(clientProtocol []byte) {
	c.mu.Lock()
	hash := c.peerHash
	c.mu.Unlock()

	hreq := handshake.Request{ClientHash: c.svc.Fingerprint, ServerHash: hash}
	if clientProtocol != nil {
		s := string(clientProtocol)
		hreq.ClientProtocol = &s
	}

	var buf bytes.Buffer
	if err := handshake.EncodeRequest(&buf, hreq); err != nil {
		c.onTransportError(err)
		return
	}

	id := int32(handshakePingID)
	wireID := wire.ScopedID(c.prefix, uint16(id))
	if err := c.mux.Write(wire.Frame{ID: &wireID, Payload: [][]byte{buf.Bytes()}}); err != nil {
		c.onTransportError(err)
	}
}

func (c *StatefulClient) onFrame(f wire.Frame) {
	body := f.Join()

	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		c.handleHandshakeFrame(body)
		return
	}

	if f.ID == nil {
		return
	}
	_, regID := wire.SplitScopedID(*f.ID)
	// Fired off the reader goroutine so a slow callback can't delay
	// decoding whichever other call's response arrives next.
	go c.reg.Get(regID, body)
}

func (c *StatefulClient) handleHandshakeFrame(body []byte) {
	hres, err := handshake.DecodeResponse(schema.NewReader(body))
	if err != nil {
		c.onTransportError(err)
		return
	}

	switch hres.Match {
	case handshake.MatchBoth:
		c.finishHandshake()
	case handshake.MatchClient:
		if hres.ServerProtocol != nil && hres.ServerHash != nil {
			if _, err := c.adapters.Build([]byte(*hres.ServerProtocol), *hres.ServerHash); err != nil {
				c.onTransportError(err)
				return
			}
			c.mu.Lock()
			c.peerHash = *hres.ServerHash
			c.mu.Unlock()
		}
		c.finishHandshake()
	case handshake.MatchNone:
		c.mu.Lock()
		retried := c.handshakeRetried
		c.handshakeRetried = true
		c.mu.Unlock()
		if retried {
			c.onTransportError(rpcerr.New(rpcerr.UnknownProtocol, "handshake: peer still unaware of our protocol after retry"))
			return
		}
		c.sendHandshakeFrame(c.svc.ProtocolJSON)
	default:
		c.onTransportError(rpcerr.New(rpcerr.InvalidHandshakeResponse, "unknown handshake match %q", hres.Match))
	}
}

func (c *StatefulClient) finishHandshake() {
	c.mu.Lock()
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
	}
	c.connected = true
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()

	c.emitHandshake(c)

	for _, qf := range queued {
		wireID := qf.wireID
		if err := c.mux.Write(wire.Frame{ID: &wireID, Payload: [][]byte{qf.body}}); err != nil {
			c.onTransportError(err)
			return
		}
	}
}

// Stats implements Channel.
func (c *StatefulClient) Stats() Stats {
	st := c.statsBase()
	c.mu.Lock()
	st.PeerHash = c.peerHash
	st.HasPeer = c.connected
	c.mu.Unlock()
	return st
}

func (c *StatefulClient) onTransportError(err error) {
	if err == nil || c.Destroyed() {
		return
	}
	c.emitError(c, err)
	c.Destroy(true)
}
