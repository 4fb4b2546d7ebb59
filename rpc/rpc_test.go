package rpc

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"avrorpc/channel"
	"avrorpc/message"
	"avrorpc/transport"
)

const testProtocol = `{
  "protocol": "Test",
  "messages": {
    "echo": {"request": [{"name": "s", "type": "string"}], "response": "string"},
    "greet": {"request": [{"name": "name", "type": "string"}], "response": "null", "one-way": true},
    "divide": {
      "request": [{"name": "a", "type": "int"}, {"name": "b", "type": "int"}],
      "response": "int",
      "errors": [{"type": "record", "name": "DivByZero", "fields": []}]
    },
    "slow": {"request": [{"name": "ms", "type": "int"}, {"name": "tag", "type": "string"}], "response": "string"}
  }
}`

// pair builds a connected client/server over an in-memory transport,
// both sharing the same Service, with a Server whose handlers cover
// every message in testProtocol.
func pair(t *testing.T) (*Client, *Server, func()) {
	t.Helper()
	svc, err := message.NewService([]byte(testProtocol))
	require.NoError(t, err)

	srv := NewServer(svc, nil)
	var greeted []string
	var mu sync.Mutex
	srv.Handle("echo", func(headers map[string][]byte, req interface{}) (interface{}, error) {
		m := req.(map[string]interface{})
		return m["s"], nil
	})
	srv.Handle("greet", func(headers map[string][]byte, req interface{}) (interface{}, error) {
		m := req.(map[string]interface{})
		mu.Lock()
		greeted = append(greeted, m["name"].(string))
		mu.Unlock()
		return nil, nil
	})
	srv.Handle("divide", func(headers map[string][]byte, req interface{}) (interface{}, error) {
		m := req.(map[string]interface{})
		a, b := m["a"].(int32), m["b"].(int32)
		if b == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return a / b, nil
	})
	srv.Handle("slow", func(headers map[string][]byte, req interface{}) (interface{}, error) {
		m := req.(map[string]interface{})
		ms := m["ms"].(int32)
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return m["tag"], nil
	})

	clientSide, serverSide := transport.Pipe()

	serverCache := srv.cache
	_ = channel.NewStatefulServer(svc, serverSide, serverCache, srv.ChannelHandler(), channel.Options{})

	clientCache := NewClientAdapterCache(svc)
	ch := channel.NewStatefulClient(svc, clientSide, clientCache, channel.Options{})
	cl := NewClient(svc, ch, clientCache, nil)

	cleanup := func() {
		cl.Destroy(true)
	}
	return cl, srv, cleanup
}

func TestEchoRoundTrip(t *testing.T) {
	cl, _, cleanup := pair(t)
	defer cleanup()

	resp, err := cl.Call("echo", map[string]interface{}{"s": "hello"}, nil)
	require.NoError(t, err)
	require.Equal(t, "hello", resp)
}

func TestPing(t *testing.T) {
	cl, _, cleanup := pair(t)
	defer cleanup()

	resp, err := cl.Call("", map[string]interface{}{}, nil)
	require.NoError(t, err)
	require.Equal(t, "pong", resp)
}

func TestOneWayGreetDoesNotBlock(t *testing.T) {
	cl, _, cleanup := pair(t)
	defer cleanup()

	err := cl.Notify("greet", map[string]interface{}{"name": "ada"}, nil)
	require.NoError(t, err)
}

func TestDivideByZeroStrictError(t *testing.T) {
	cl, _, cleanup := pair(t)
	defer cleanup()

	_, err := cl.Call("divide", map[string]interface{}{"a": int32(4), "b": int32(0)}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "application error")
}

func TestDivideByZeroNonStrictError(t *testing.T) {
	cl, _, cleanup := pair(t)
	defer cleanup()
	cl.Strict = false

	_, err := cl.Call("divide", map[string]interface{}{"a": int32(4), "b": int32(0)}, nil)
	require.Error(t, err)
}

func TestDivideSuccess(t *testing.T) {
	cl, _, cleanup := pair(t)
	defer cleanup()

	resp, err := cl.Call("divide", map[string]interface{}{"a": int32(10), "b": int32(2)}, nil)
	require.NoError(t, err)
	require.EqualValues(t, 5, resp)
}

// TestConcurrentSlowCallsOutOfOrder issues three overlapping slow()
// calls with decreasing delays and checks every reply still reaches
// its own caller even though the fastest call (tag "c") necessarily
// resolves before the slowest (tag "a") started first.
func TestConcurrentSlowCallsOutOfOrder(t *testing.T) {
	cl, _, cleanup := pair(t)
	defer cleanup()

	type result struct {
		tag string
		err error
	}
	results := make(chan result, 3)
	calls := []struct {
		ms  int32
		tag string
	}{
		{150, "a"},
		{75, "b"},
		{10, "c"},
	}

	var wg sync.WaitGroup
	for _, c := range calls {
		wg.Add(1)
		go func(ms int32, tag string) {
			defer wg.Done()
			resp, err := cl.Call("slow", map[string]interface{}{"ms": ms, "tag": tag}, nil)
			if err == nil {
				require.Equal(t, tag, resp)
			}
			results <- result{tag, err}
		}(c.ms, c.tag)
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for r := range results {
		require.NoError(t, r.err)
		seen[r.tag] = true
	}
	require.Len(t, seen, 3)
}

// TestScopeIsolationTwoClientsOneTransport covers §8 property 6: two
// client channels, scopes "A" and "B", share one physical transport
// with one server that has attached a channel per scope on its own
// shared multiplexer. A hundred interleaved calls on each never cross
// wires, and the server reports both channels as active throughout.
func TestScopeIsolationTwoClientsOneTransport(t *testing.T) {
	svc, err := message.NewService([]byte(testProtocol))
	require.NoError(t, err)

	srv := NewServer(svc, nil)
	srv.Handle("echo", func(headers map[string][]byte, req interface{}) (interface{}, error) {
		return req.(map[string]interface{})["s"], nil
	})

	clientSide, serverSide := transport.Pipe()
	serverMux := channel.NewMultiplexer(serverSide)
	clientMux := channel.NewMultiplexer(clientSide)
	go serverMux.Serve()
	go clientMux.Serve()

	srv.CreateChannelOnMux(serverMux, channel.Options{Scope: "A"})
	srv.CreateChannelOnMux(serverMux, channel.Options{Scope: "B"})

	cacheA := NewClientAdapterCache(svc)
	clA := NewClient(svc, channel.NewStatefulClientOnMux(svc, clientMux, cacheA, channel.Options{Scope: "A"}), cacheA, nil)
	cacheB := NewClientAdapterCache(svc)
	clB := NewClient(svc, channel.NewStatefulClientOnMux(svc, clientMux, cacheB, channel.Options{Scope: "B"}), cacheB, nil)
	defer func() {
		clA.Destroy(true)
		clB.Destroy(true)
		clientSide.Close()
		serverSide.Close()
	}()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			resp, err := clA.Call("echo", map[string]interface{}{"s": fmt.Sprintf("a-%d", i)}, nil)
			require.NoError(t, err)
			require.Equal(t, fmt.Sprintf("a-%d", i), resp)
		}(i)
		go func(i int) {
			defer wg.Done()
			resp, err := clB.Call("echo", map[string]interface{}{"s": fmt.Sprintf("b-%d", i)}, nil)
			require.NoError(t, err)
			require.Equal(t, fmt.Sprintf("b-%d", i), resp)
		}(i)
	}
	wg.Wait()

	require.Len(t, srv.ActiveChannels(), 2)
}
