package channel

import (
	"bytes"

	"avrorpc/adapter"
	"avrorpc/handshake"
	"avrorpc/message"
	"avrorpc/rpcerr"
	"avrorpc/schema"
	"avrorpc/wire"
)

// StatelessServer is the stateless server channel variant (§4.5): each
// accepted transport carries exactly one record in (handshake ‖
// request) and, unless the call is one-way, exactly one record out
// (handshake response ‖ response), after which the transport is
// closed. Unlike the stateful server, there is no per-connection state
// to carry between calls — Serve is reentrant and safe to call once per
// accepted transport, concurrently, from however the listener fans out
// connections.
type StatelessServer struct {
	base

	svc      *message.Service
	adapters AdapterSource
	handler  Handler
}

// NewStatelessServer builds a stateless server channel bound to svc.
func NewStatelessServer(svc *message.Service, adapters AdapterSource, handler Handler, opts Options) *StatelessServer {
	return &StatelessServer{
		base:     newBase(opts.Scope),
		svc:      svc,
		adapters: adapters,
		handler:  handler,
	}
}

// Destroy implements Channel; a stateless server has no registry or
// multiplexer to unwind, only lifecycle bookkeeping for observers.
func (s *StatelessServer) Destroy(noWait bool) {
	s.destroy(s, noWait, nil)
}

// Stats implements Channel. A stateless server never carries a peer
// fingerprint between calls — each Serve negotiates its own handshake
// independently and discards the adapter once the reply is written.
func (s *StatelessServer) Stats() Stats {
	return s.statsBase()
}

// Serve handles exactly one record on transport, then closes it.
func (s *StatelessServer) Serve(transport Transport) error {
	defer transport.Close()

	frame, err := ReadOneFrame(transport, wire.StandardCodec{}.NewDecoder())
	if err != nil {
		s.emitError(s, err)
		return err
	}

	r := schema.NewReader(frame.Join())
	hreq, err := handshake.DecodeRequest(r)
	if err != nil {
		// §7: INVALID_HANDSHAKE_REQUEST is reported to the client as a
		// system error rather than just dropping the connection with no
		// reply at all.
		return s.replySystemError(transport, nil, nil, rpcerr.Wrap(rpcerr.InvalidHandshakeRequest, err, "decode handshake request"))
	}

	var (
		a     *adapter.Adapter
		match handshake.Match
	)
	// BOTH needs the client to already know this server's protocol too;
	// a cache hit with any other serverHash answers CLIENT.
	if cached, ok := s.adapters.GetByHash(hreq.ClientHash); ok {
		a, match = cached, handshake.MatchClient
		if hreq.ServerHash == s.svc.Fingerprint {
			match = handshake.MatchBoth
		}
	} else if hreq.ClientProtocol != nil {
		built, err := s.adapters.Build([]byte(*hreq.ClientProtocol), hreq.ClientHash)
		if err != nil {
			s.emitError(s, err)
			return err
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
	var hbuf bytes.Buffer
	if err := handshake.EncodeResponse(&hbuf, hres); err != nil {
		s.emitError(s, err)
		return err
	}

	if match == handshake.MatchNone {
		dst, err := wire.StandardCodec{}.Encode(nil, wire.Frame{Payload: [][]byte{hbuf.Bytes()}})
		if err != nil {
			s.emitError(s, err)
			return err
		}
		_, err = transport.Write(dst)
		return err
	}

	rest, err := r.ReadBytes(r.Remaining())
	if err != nil {
		return s.replySystemError(transport, hbuf.Bytes(), nil, rpcerr.Wrap(rpcerr.InvalidRequest, err, "read request bytes"))
	}
	wreq, name, r2, err := a.DecodeRequest(rest)
	if err != nil {
		return s.replySystemError(transport, hbuf.Bytes(), nil, rpcerr.Wrap(rpcerr.InvalidRequest, err, "decode request"))
	}
	if err := a.DecodeRequestBody(wreq, r2); err != nil {
		return s.replySystemError(transport, hbuf.Bytes(), wreq.Headers, err)
	}

	msg, ok := s.svc.Messages[name]
	if !ok {
		err := rpcerr.New(rpcerr.UnknownProtocol, "message %q unknown to this server", name)
		return s.replySystemError(transport, hbuf.Bytes(), wreq.Headers, err)
	}

	s.emitIncomingCall(s)

	wres, herr := s.handler(wreq)
	if herr != nil {
		wres = &adapter.WrappedResponse{HasError: true, Error: herr.Error()}
	}
	if msg.OneWay {
		return nil
	}
	if wres == nil {
		wres = &adapter.WrappedResponse{}
	}

	respBytes, err := a.EncodeResponse(msg, *wres)
	if err != nil {
		s.emitError(s, err)
		return err
	}

	combined := append(append([]byte(nil), hbuf.Bytes()...), respBytes...)
	dst, err := wire.StandardCodec{}.Encode(nil, wire.Frame{Payload: [][]byte{combined}})
	if err != nil {
		s.emitError(s, err)
		return err
	}
	_, err = transport.Write(dst)
	return err
}

// replySystemError answers a per-call decode failure with a synthetic
// error response instead of just closing the connection with no reply
// (§7: INVALID_REQUEST/UNKNOWN_PROTOCOL/INVALID_HANDSHAKE_REQUEST are
// all "reported to client" outcomes, not silent drops). hbuf, if
// non-nil, is a successfully-built handshake response that still needs
// to precede the system-error body on the wire; it is nil when the
// handshake itself could not be decoded. The observer's OnError still
// fires with cause so callers can monitor per-call failures even though
// the channel survives them.
func (s *StatelessServer) replySystemError(transport Transport, hbuf []byte, headers map[string][]byte, cause error) error {
	s.emitError(s, cause)

	payload, err := adapter.EncodeSystemError(headers, cause.Error())
	if err != nil {
		return err
	}
	if hbuf != nil {
		payload = append(append([]byte(nil), hbuf...), payload...)
	}
	dst, err := wire.StandardCodec{}.Encode(nil, wire.Frame{Payload: [][]byte{payload}})
	if err != nil {
		return err
	}
	_, err = transport.Write(dst)
	return err
}
