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

// StatelessClient is the stateless client channel variant (§4.5): every
// call opens its own transport via Factory, carries its own handshake
// inline ahead of the request bytes in one record, and reads exactly
// one record back before the transport is discarded. No id-matching is
// needed since a transport never carries more than one call.
type StatelessClient struct {
	base

	svc      *message.Service
	factory  Factory
	adapters AdapterSource
	opts     Options
	reg      *registry.Registry

	mu       sync.Mutex
	peerHash [16]byte
}

// NewStatelessClient builds a stateless client channel; transports are
// opened lazily, one per call, via factory.
func NewStatelessClient(svc *message.Service, factory Factory, adapters AdapterSource, opts Options) *StatelessClient {
	return &StatelessClient{
		base:     newBase(opts.Scope),
		svc:      svc,
		factory:  factory,
		adapters: adapters,
		opts:     opts,
		reg:      registry.New(),
	}
}

// Call issues one RPC over a fresh transport. reqBytes is the already
// wire-encoded WrappedRequest (headers ‖ name ‖ body); the channel only
// prepends the handshake and unwraps the handshake response.
func (c *StatelessClient) Call(reqBytes []byte, timeout time.Duration, oneWay bool, cb registry.Callback) error {
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

	c.emitOutgoingCall(c)
	go c.doCall(0, reqBytes, oneWay, done, id)
	return nil
}

// Destroy implements Channel.
func (c *StatelessClient) Destroy(noWait bool) {
	c.destroy(c, noWait, c.reg)
}

// PeerHash implements ClientChannel. A stateless channel re-handshakes
// inline on every call, so it is always reported as known/active; the
// hash reflects whatever the most recent completed call learned.
func (c *StatelessClient) PeerHash() ([16]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerHash, true
}

// Stats implements Channel.
func (c *StatelessClient) Stats() Stats {
	st := c.statsBase()
	c.mu.Lock()
	st.PeerHash = c.peerHash
	st.HasPeer = c.peerHash != [16]byte{}
	c.mu.Unlock()
	return st
}

func (c *StatelessClient) doCall(attempt int, reqBytes []byte, oneWay bool, done registry.Callback, id uint16) {
	transport, err := c.factory()
	if err != nil {
		c.reg.Cancel(id)
		done(nil, err)
		return
	}
	defer transport.Close()

	c.mu.Lock()
	peerHash := c.peerHash
	c.mu.Unlock()

	hreq := handshake.Request{ClientHash: c.svc.Fingerprint, ServerHash: peerHash}
	if attempt > 0 {
		s := string(c.svc.ProtocolJSON)
		hreq.ClientProtocol = &s
	}
	var hbuf bytes.Buffer
	if err := handshake.EncodeRequest(&hbuf, hreq); err != nil {
		c.reg.Cancel(id)
		done(nil, err)
		return
	}

	combined := append(append([]byte(nil), hbuf.Bytes()...), reqBytes...)
	dst, err := wire.StandardCodec{}.Encode(nil, wire.Frame{Payload: [][]byte{combined}})
	if err != nil {
		c.reg.Cancel(id)
		done(nil, err)
		return
	}
	if _, err := transport.Write(dst); err != nil {
		c.reg.Cancel(id)
		done(nil, err)
		return
	}
	if c.opts.EndWritable {
		_ = transport.Close()
	}

	if oneWay {
		c.reg.Get(id, nil)
		return
	}

	frame, err := ReadOneFrame(transport, wire.StandardCodec{}.NewDecoder())
	if err != nil {
		c.reg.Cancel(id)
		done(nil, err)
		return
	}

	body := frame.Join()
	r := schema.NewReader(body)
	hres, err := handshake.DecodeResponse(r)
	if err != nil {
		c.reg.Cancel(id)
		done(nil, err)
		return
	}

	switch hres.Match {
	case handshake.MatchNone:
		if attempt > 0 {
			c.reg.Cancel(id)
			done(nil, rpcerr.New(rpcerr.UnknownProtocol, "peer still unaware of our protocol after retry"))
			return
		}
		c.doCall(attempt+1, reqBytes, oneWay, done, id)
		return
	case handshake.MatchClient:
		if hres.ServerProtocol != nil && hres.ServerHash != nil {
			if _, err := c.adapters.Build([]byte(*hres.ServerProtocol), *hres.ServerHash); err != nil {
				c.reg.Cancel(id)
				done(nil, err)
				return
			}
			c.mu.Lock()
			c.peerHash = *hres.ServerHash
			c.mu.Unlock()
		}
	case handshake.MatchBoth:
		// peer already agrees; nothing further to learn.
	default:
		c.reg.Cancel(id)
		done(nil, rpcerr.New(rpcerr.InvalidHandshakeResponse, "unknown handshake match %q", hres.Match))
		return
	}

	rest, err := r.ReadBytes(r.Remaining())
	if err != nil {
		c.reg.Cancel(id)
		done(nil, err)
		return
	}
	c.reg.Get(id, rest)
}

// ReadOneFrame drains transport until dec has buffered exactly one full
// frame, used by the stateless variants where a connection never
// carries more than one record in either direction.
func ReadOneFrame(transport Transport, dec wire.Decoder) (wire.Frame, error) {
	buf := make([]byte, 32*1024)
	for {
		n, rerr := transport.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			f, ok, ferr := dec.Next()
			if ferr != nil {
				return wire.Frame{}, ferr
			}
			if ok {
				return f, nil
			}
		}
		if rerr != nil {
			// The stream ended before a full frame arrived; a Flusher
			// decoder reports whether that's a truncated trailing frame
			// or just a clean close with nothing left to read (§4.1).
			if flusher, ok := dec.(wire.Flusher); ok {
				if ferr := flusher.Flush(); ferr != nil {
					return wire.Frame{}, ferr
				}
			}
			return wire.Frame{}, rpcerr.Wrap(rpcerr.InternalServerError, rerr, "reading frame")
		}
	}
}
