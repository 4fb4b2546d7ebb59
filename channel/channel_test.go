package channel

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"avrorpc/adapter"
	"avrorpc/message"
	"avrorpc/schema"
)

// decodeSystemError reads the raw wire bytes of a synthetic error
// response (headers ‖ hasError ‖ errorType) without needing a real
// Adapter for the (possibly unknown) message it answers.
func decodeSystemError(t *testing.T, payload []byte) (bool, string) {
	t.Helper()
	r := schema.NewReader(payload)
	_, err := (schema.Map{Values: schema.Bytes}).Decode(r)
	require.NoError(t, err)
	hasErrVal, err := schema.Boolean.Decode(r)
	require.NoError(t, err)
	v, err := (schema.Union{Branches: []schema.Type{schema.String}}).Decode(r)
	require.NoError(t, err)
	return hasErrVal.(bool), v.(schema.UnionValue).Value.(string)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const echoProtocol = `{
  "protocol": "Echo",
  "messages": {
    "echo": {"request": [{"name": "s", "type": "string"}], "response": "string"}
  }
}`

// memCache is a minimal AdapterSource good enough for same-Service
// tests: client and server share one *message.Service, so the adapter
// built for "the peer" is always built against that same schema.
type memCache struct {
	svc     *message.Service
	peer    *adapter.Adapter
	current *adapter.Adapter
}

func newMemCache(svc *message.Service) *memCache { return &memCache{svc: svc} }

func (c *memCache) GetByHash(peerHash [16]byte) (*adapter.Adapter, bool) {
	if c.peer != nil && c.peer.PeerHash == peerHash {
		c.current = c.peer
		return c.peer, true
	}
	return nil, false
}

func (c *memCache) Build(remoteProtocolJSON []byte, peerHash [16]byte) (*adapter.Adapter, error) {
	remote, err := message.NewService(remoteProtocolJSON)
	if err != nil {
		return nil, err
	}
	a, err := adapter.New(c.svc, remote, peerHash, true)
	if err != nil {
		return nil, err
	}
	c.peer = a
	c.current = a
	return a, nil
}

func echoHandler(svc *message.Service) Handler {
	return func(wreq *adapter.WrappedRequest) (*adapter.WrappedResponse, error) {
		req := wreq.Request.(map[string]interface{})
		return &adapter.WrappedResponse{Response: req["s"]}, nil
	}
}

func TestStatefulClientServerEchoRoundTrip(t *testing.T) {
	svc, err := message.NewService([]byte(echoProtocol))
	require.NoError(t, err)

	clientConn, serverConn := net.Pipe()

	srvCache := newMemCache(svc)
	srv := NewStatefulServer(svc, serverConn, srvCache, echoHandler(svc), Options{})
	defer srv.Destroy(true)

	cliCache := newMemCache(svc)
	cli := NewStatefulClient(svc, clientConn, cliCache, Options{})
	defer cli.Destroy(true)

	a := adapter.Adapter{}
	msg := svc.Messages["echo"]
	reqBytes, err := a.EncodeRequest(msg, adapter.WrappedRequest{MessageName: "echo", Request: map[string]interface{}{"s": "hi"}})
	require.NoError(t, err)

	done := make(chan struct{})
	var respBytes []byte
	var callErr error
	err = cli.Call(reqBytes, 2*time.Second, false, func(payload []byte, err error) {
		respBytes, callErr = payload, err
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo response")
	}
	require.NoError(t, callErr)

	decoded, err := cliCache.current.DecodeResponse(respBytes, "echo")
	require.NoError(t, err)
	require.Equal(t, "hi", decoded.Response)
}

func TestStatelessClientServerEchoRoundTrip(t *testing.T) {
	svc, err := message.NewService([]byte(echoProtocol))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srvCache := newMemCache(svc)
	srv := NewStatelessServer(svc, srvCache, echoHandler(svc), Options{})

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = srv.Serve(conn)
	}()

	factory := func() (Transport, error) { return net.Dial("tcp", ln.Addr().String()) }
	cliCache := newMemCache(svc)
	cli := NewStatelessClient(svc, factory, cliCache, Options{})
	defer cli.Destroy(true)

	a := adapter.Adapter{}
	msg := svc.Messages["echo"]
	reqBytes, err := a.EncodeRequest(msg, adapter.WrappedRequest{MessageName: "echo", Request: map[string]interface{}{"s": "there"}})
	require.NoError(t, err)

	done := make(chan struct{})
	var respBytes []byte
	var callErr error
	err = cli.Call(reqBytes, 2*time.Second, false, func(payload []byte, err error) {
		respBytes, callErr = payload, err
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo response")
	}
	require.NoError(t, callErr)

	decoded, err := cliCache.current.DecodeResponse(respBytes, "echo")
	require.NoError(t, err)
	require.Equal(t, "there", decoded.Response)
}

// TestStatefulServerUnknownMessageSurvives covers §7's "per-call error,
// channel survives" outcome for UNKNOWN_PROTOCOL: a malformed call
// doesn't take the whole multiplexed channel down with it.
func TestStatefulServerUnknownMessageSurvives(t *testing.T) {
	svc, err := message.NewService([]byte(echoProtocol))
	require.NoError(t, err)

	clientConn, serverConn := net.Pipe()

	srvCache := newMemCache(svc)
	srv := NewStatefulServer(svc, serverConn, srvCache, echoHandler(svc), Options{})
	defer srv.Destroy(true)

	cliCache := newMemCache(svc)
	cli := NewStatefulClient(svc, clientConn, cliCache, Options{})
	defer cli.Destroy(true)

	a := adapter.Adapter{}
	echoMsg := svc.Messages["echo"]

	badReq, err := a.EncodeRequest(echoMsg, adapter.WrappedRequest{MessageName: "bogus", Request: map[string]interface{}{"s": "x"}})
	require.NoError(t, err)

	badDone := make(chan struct{})
	var badPayload []byte
	err = cli.Call(badReq, 2*time.Second, false, func(payload []byte, err error) {
		badPayload = payload
		close(badDone)
	})
	require.NoError(t, err)
	select {
	case <-badDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unknown-message reply")
	}

	hasErr, errMsg := decodeSystemError(t, badPayload)
	require.True(t, hasErr)
	require.Contains(t, errMsg, "bogus")
	require.False(t, cli.Destroyed(), "channel must survive a per-call decode failure")

	goodReq, err := a.EncodeRequest(echoMsg, adapter.WrappedRequest{MessageName: "echo", Request: map[string]interface{}{"s": "still alive"}})
	require.NoError(t, err)

	goodDone := make(chan struct{})
	var goodPayload []byte
	err = cli.Call(goodReq, 2*time.Second, false, func(payload []byte, err error) {
		goodPayload = payload
		close(goodDone)
	})
	require.NoError(t, err)
	select {
	case <-goodDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo response")
	}

	decoded, err := cliCache.current.DecodeResponse(goodPayload, "echo")
	require.NoError(t, err)
	require.Equal(t, "still alive", decoded.Response)
}

// TestStatelessServerUnknownMessageReplies covers the stateless variant
// of the same outcome: the caller gets an answer instead of a silently
// closed connection.
func TestStatelessServerUnknownMessageReplies(t *testing.T) {
	svc, err := message.NewService([]byte(echoProtocol))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srvCache := newMemCache(svc)
	srv := NewStatelessServer(svc, srvCache, echoHandler(svc), Options{})

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = srv.Serve(conn)
	}()

	factory := func() (Transport, error) { return net.Dial("tcp", ln.Addr().String()) }
	cliCache := newMemCache(svc)
	cli := NewStatelessClient(svc, factory, cliCache, Options{})
	defer cli.Destroy(true)

	a := adapter.Adapter{}
	echoMsg := svc.Messages["echo"]
	reqBytes, err := a.EncodeRequest(echoMsg, adapter.WrappedRequest{MessageName: "bogus", Request: map[string]interface{}{"s": "x"}})
	require.NoError(t, err)

	done := make(chan struct{})
	var payload []byte
	err = cli.Call(reqBytes, 2*time.Second, false, func(p []byte, err error) {
		payload = p
		close(done)
	})
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unknown-message reply")
	}

	hasErr, errMsg := decodeSystemError(t, payload)
	require.True(t, hasErr)
	require.Contains(t, errMsg, "bogus")
}
