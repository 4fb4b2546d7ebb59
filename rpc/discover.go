package rpc

import (
	"bytes"

	"avrorpc/adapter"
	"avrorpc/channel"
	"avrorpc/handshake"
	"avrorpc/message"
	"avrorpc/rpcerr"
	"avrorpc/schema"
	"avrorpc/wire"
)

// discoveryProtocolJSON declares no messages of its own; message.NewService
// still injects the reserved ping, which is all DiscoverProtocol needs
// to complete a real handshake against any compliant server.
const discoveryProtocolJSON = `{"protocol":"avrorpc.Discover","messages":{}}`

// DiscoverProtocol learns a peer's protocol document without the
// caller needing to know it upfront (§6 "DiscoverProtocol helper"): it
// runs the handshake state machine to completion over two connections
// from factory, first probing with no declared protocol (triggering
// NONE), then retrying on a fresh connection with a minimal one to
// force a CLIENT match that carries the peer's protocol back.
func DiscoverProtocol(factory channel.Factory) (*message.Service, error) {
	discoverySvc, err := message.NewService([]byte(discoveryProtocolJSON))
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.InternalServerError, err, "discover: build probe service")
	}

	transport, err := factory()
	if err != nil {
		return nil, err
	}
	defer transport.Close()

	if err := sendHandshakeOnly(transport, handshake.Request{ClientHash: discoverySvc.Fingerprint}); err != nil {
		return nil, err
	}
	frame, err := channel.ReadOneFrame(transport, wire.StandardCodec{}.NewDecoder())
	if err != nil {
		return nil, err
	}
	hres, err := handshake.DecodeResponse(schema.NewReader(frame.Join()))
	if err != nil {
		return nil, err
	}
	if hres.Match != handshake.MatchNone {
		return serviceFromHandshake(hres)
	}

	transport2, err := factory()
	if err != nil {
		return nil, err
	}
	defer transport2.Close()

	protocolStr := string(discoverySvc.ProtocolJSON)
	hreq := handshake.Request{ClientHash: discoverySvc.Fingerprint, ClientProtocol: &protocolStr}
	var hbuf bytes.Buffer
	if err := handshake.EncodeRequest(&hbuf, hreq); err != nil {
		return nil, err
	}

	pingBytes, err := blankAdapter.EncodeRequest(discoverySvc.Ping(), adapter.WrappedRequest{
		MessageName: "",
		Request:     map[string]interface{}{},
	})
	if err != nil {
		return nil, err
	}

	combined := append(append([]byte(nil), hbuf.Bytes()...), pingBytes...)
	dst, err := wire.StandardCodec{}.Encode(nil, wire.Frame{Payload: [][]byte{combined}})
	if err != nil {
		return nil, err
	}
	if _, err := transport2.Write(dst); err != nil {
		return nil, err
	}

	frame2, err := channel.ReadOneFrame(transport2, wire.StandardCodec{}.NewDecoder())
	if err != nil {
		return nil, err
	}
	r := schema.NewReader(frame2.Join())
	hres2, err := handshake.DecodeResponse(r)
	if err != nil {
		return nil, err
	}
	if hres2.Match == handshake.MatchNone {
		return nil, rpcerr.New(rpcerr.UnknownProtocol, "discover: peer rejected probe protocol twice")
	}
	return serviceFromHandshake(hres2)
}

func sendHandshakeOnly(transport channel.Transport, hreq handshake.Request) error {
	var hbuf bytes.Buffer
	if err := handshake.EncodeRequest(&hbuf, hreq); err != nil {
		return err
	}
	dst, err := wire.StandardCodec{}.Encode(nil, wire.Frame{Payload: [][]byte{hbuf.Bytes()}})
	if err != nil {
		return err
	}
	_, err = transport.Write(dst)
	return err
}

func serviceFromHandshake(hres handshake.Response) (*message.Service, error) {
	if hres.ServerProtocol == nil {
		return nil, rpcerr.New(rpcerr.UnknownProtocol, "discover: peer did not include its protocol")
	}
	return message.NewService([]byte(*hres.ServerProtocol))
}
