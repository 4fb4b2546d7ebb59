package channel

import (
	"bytes"
	"sync"

	"avrorpc/adapter"
	"avrorpc/handshake"
	"avrorpc/message"
	"avrorpc/rpcerr"
	"avrorpc/schema"
	"avrorpc/wire"
)

// Handler answers one decoded request with a response or an error;
// errors are folded into the wire response's error branch rather than
// tearing down the channel (§7: most per-call errors are recoverable).
type Handler func(wreq *adapter.WrappedRequest) (*adapter.WrappedResponse, error)

// StatefulServer is the server side of one long-lived, multiplexed
// channel (§4.5 "Stateful server channel"). The first incoming record
// on the channel must be a handshake; every record after that is a
// bare request decoded with the adapter the handshake settled on — the
// channel never re-handshakes itself once connected.
type StatefulServer struct {
	base

	svc      *message.Service
	adapters AdapterSource
	handler  Handler
	mux      *Multiplexer
	unroute  func()

	mu         sync.Mutex
	handshaked bool
	adapter    *adapter.Adapter
}

// NewStatefulServer starts serving transport, routing frames scoped to
// opts.Scope to this channel.
func NewStatefulServer(svc *message.Service, transport Transport, adapters AdapterSource, handler Handler, opts Options) *StatefulServer {
	mux := NewMultiplexer(transport)
	s := NewStatefulServerOnMux(svc, mux, adapters, handler, opts)
	s.onFinish = func() { _ = transport.Close() }

	go func() {
		err := mux.Serve()
		s.onTransportError(err)
	}()
	return s
}

// NewStatefulServerOnMux attaches a new scoped channel to an already
// running Multiplexer instead of building (and starting a reader
// goroutine for) one of its own. This is what lets two server channels
// share a single transport, distinguished only by their scope prefix
// (§3 "Channel scope prefix", §8 property 6) — the caller owns mux's
// lifetime and keeps it running for as long as any channel is attached.
func NewStatefulServerOnMux(svc *message.Service, mux *Multiplexer, adapters AdapterSource, handler Handler, opts Options) *StatefulServer {
	s := &StatefulServer{
		base:     newBase(opts.Scope),
		svc:      svc,
		adapters: adapters,
		handler:  handler,
		mux:      mux,
	}
	s.unroute = s.mux.Route(s.prefix, s.onFrame)
	return s
}

// Destroy implements Channel.
func (s *StatefulServer) Destroy(noWait bool) {
	s.unroute()
	s.destroy(s, noWait, nil)
}

func (s *StatefulServer) onFrame(f wire.Frame) {
	if f.ID == nil {
		s.onTransportError(rpcerr.New(rpcerr.InvalidRequest, "stateful server: record missing id"))
		return
	}

	s.mu.Lock()
	handshaked := s.handshaked
	s.mu.Unlock()

	body := f.Join()
	if !handshaked {
		s.handleHandshake(*f.ID, body)
		return
	}
	// Dispatched in its own goroutine so one slow request can't stall
	// decoding of the next frame on the wire — multiple calls can be in
	// flight on the same channel at once, and their responses may land
	// in any order (§8 property: out-of-order concurrent replies).
	// Writes are still serialized by the multiplexer's write lock.
	id := *f.ID
	go s.handleRequest(id, body)
}

// handleHandshake decodes the opening handshake record and replies with
// the server's match decision (§4.4). A returned BOTH or CLIENT match
// settles the channel's adapter for every subsequent record; NONE asks
// the client to retry with its full protocol attached.
func (s *StatefulServer) handleHandshake(id int32, body []byte) {
	hreq, err := handshake.DecodeRequest(schema.NewReader(body))
	if err != nil {
		// §7: INVALID_HANDSHAKE_REQUEST is reported to the client as a
		// system error, not a reason to tear this channel down — the
		// client is free to retry the handshake.
		s.replySystemError(id, nil, rpcerr.Wrap(rpcerr.InvalidHandshakeRequest, err, "decode handshake request").Error())
		return
	}

	var (
		a     *adapter.Adapter
		match handshake.Match
	)

	// BOTH needs the client to already know this server's protocol too;
	// a cache hit with any other serverHash answers CLIENT so the client
	// can build its own adapter.
	if cached, ok := s.adapters.GetByHash(hreq.ClientHash); ok {
		a = cached
		match = handshake.MatchClient
		if hreq.ServerHash == s.svc.Fingerprint {
			match = handshake.MatchBoth
		}
	} else if hreq.ClientProtocol != nil {
		built, err := s.adapters.Build([]byte(*hreq.ClientProtocol), hreq.ClientHash)
		if err != nil {
			s.onTransportError(rpcerr.Wrap(rpcerr.IncompatibleProtocol, err, "handshake: build adapter for client"))
			return
		}
		a, match = built, handshake.MatchClient
	} else {
		match = handshake.MatchNone
	}

	hres := handshake.Response{Match: match}
	if match == handshake.MatchClient {
		p := string(s.svc.ProtocolJSON)
		hres.ServerProtocol = &p
		h := s.svc.Fingerprint
		hres.ServerHash = &h
	}

	var buf bytes.Buffer
	if err := handshake.EncodeResponse(&buf, hres); err != nil {
		s.onTransportError(err)
		return
	}
	wireID := id
	if err := s.mux.Write(wire.Frame{ID: &wireID, Payload: [][]byte{buf.Bytes()}}); err != nil {
		s.onTransportError(err)
		return
	}

	if match == handshake.MatchNone {
		return
	}

	s.mu.Lock()
	s.handshaked = true
	s.adapter = a
	s.mu.Unlock()
	s.emitHandshake(s)
}

// handleRequest decodes, dispatches, and replies to one bare request on
// an already-handshaked channel. A decode failure or an unknown message
// name is a per-call error (§7: INVALID_REQUEST/UNKNOWN_PROTOCOL are
// "per-call error, channel survives") — it answers this caller with a
// synthetic system-error response instead of tearing down the channel
// and every other call sharing it.
func (s *StatefulServer) handleRequest(id int32, body []byte) {
	s.mu.Lock()
	a := s.adapter
	s.mu.Unlock()

	wreq, name, r, err := a.DecodeRequest(body)
	if err != nil {
		s.replySystemError(id, nil, rpcerr.Wrap(rpcerr.InvalidRequest, err, "decode request").Error())
		return
	}
	if err := a.DecodeRequestBody(wreq, r); err != nil {
		s.replySystemError(id, wreq.Headers, err.Error())
		return
	}

	msg, ok := s.svc.Messages[name]
	if !ok {
		s.replySystemError(id, wreq.Headers, rpcerr.New(rpcerr.UnknownProtocol, "message %q unknown to this server", name).Error())
		return
	}

	s.emitIncomingCall(s)

	wres, herr := s.handler(wreq)
	if herr != nil {
		wres = &adapter.WrappedResponse{HasError: true, Error: herr.Error()}
	}
	if msg.OneWay {
		return
	}
	if wres == nil {
		wres = &adapter.WrappedResponse{}
	}

	payload, err := a.EncodeResponse(msg, *wres)
	if err != nil {
		s.onTransportError(err)
		return
	}
	wireID := id
	if err := s.mux.Write(wire.Frame{ID: &wireID, Payload: [][]byte{payload}}); err != nil {
		s.onTransportError(err)
	}
}

// replySystemError answers id with a synthetic error response built
// from adapter.EncodeSystemError, leaving the channel and every other
// in-flight call on it untouched. Only a failure to write the reply
// itself is treated as a real transport error.
func (s *StatefulServer) replySystemError(id int32, headers map[string][]byte, errMsg string) {
	payload, err := adapter.EncodeSystemError(headers, errMsg)
	if err != nil {
		s.onTransportError(err)
		return
	}
	wireID := id
	if err := s.mux.Write(wire.Frame{ID: &wireID, Payload: [][]byte{payload}}); err != nil {
		s.onTransportError(err)
	}
}

// Stats implements Channel.
func (s *StatefulServer) Stats() Stats {
	st := s.statsBase()
	s.mu.Lock()
	if s.adapter != nil {
		st.PeerHash = s.adapter.PeerHash
		st.HasPeer = true
	}
	s.mu.Unlock()
	return st
}

func (s *StatefulServer) onTransportError(err error) {
	if err == nil || s.Destroyed() {
		return
	}
	s.emitError(s, err)
	s.Destroy(true)
}
