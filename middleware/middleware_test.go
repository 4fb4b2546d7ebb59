package middleware

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"avrorpc/adapter"
	"avrorpc/rpcerr"
)

func echoTransition(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse) error {
	wres.Response = wreq.Request
	return nil
}

func TestChainOrdering(t *testing.T) {
	var order []string
	record := func(name string) Func {
		return func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, next Next) {
			order = append(order, name)
			next(nil, func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse) {
				order = append(order, "b"+name[1:])
			})
		}
	}

	chain := NewChain(record("M1"), record("M2"), record("M3"))
	err := chain.Run(&CallContext{}, &adapter.WrappedRequest{}, &adapter.WrappedResponse{}, func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse) error {
		order = append(order, "handler")
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"M1", "M2", "M3", "handler", "b3", "b2", "b1"}, order)
}

func TestChainBypass(t *testing.T) {
	var order []string
	m1 := func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, next Next) {
		order = append(order, "M1")
		next(nil, func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse) {
			order = append(order, "b1")
		})
	}
	m2 := func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, next Next) {
		order = append(order, "M2")
		wres.Response = "short-circuited"
		// Deliberately does not call next: bypasses M3 and the handler.
	}
	m3 := func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, next Next) {
		order = append(order, "M3")
		next(nil, nil)
	}

	chain := NewChain(m1, m2, m3)
	err := chain.Run(&CallContext{}, &adapter.WrappedRequest{}, &adapter.WrappedResponse{}, func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse) error {
		order = append(order, "handler")
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"M1", "M2", "b1"}, order)
}

// TestChainBypassViaMutationThenNext covers the other half of property
// 8's bypass: a middleware that sets wres.Response (or wres.HasError)
// and *does* call next still has to stop the forward phase and the
// transition, not just a middleware that skips next outright.
func TestChainBypassViaMutationThenNext(t *testing.T) {
	var order []string
	m1 := func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, next Next) {
		order = append(order, "M1")
		next(nil, func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse) {
			order = append(order, "b1")
		})
	}
	m2 := func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, next Next) {
		order = append(order, "M2")
		wres.Response = "short-circuited"
		next(nil, nil) // mutated wres and called next: must still bypass M3/handler.
	}
	m3 := func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, next Next) {
		order = append(order, "M3")
		next(nil, nil)
	}

	chain := NewChain(m1, m2, m3)
	wres := &adapter.WrappedResponse{}
	err := chain.Run(&CallContext{}, &adapter.WrappedRequest{}, wres, func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse) error {
		order = append(order, "handler")
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"M1", "M2", "b1"}, order)
	require.Equal(t, "short-circuited", wres.Response)
}

// TestChainBypassViaErrorThenNext covers an err passed into next: it
// must bypass the rest of the chain just like a mutated wres does, and
// the error surfaces as Run's return value.
func TestChainBypassViaErrorThenNext(t *testing.T) {
	var order []string
	sentinel := rpcerr.New(rpcerr.ApplicationError, "boom")
	m1 := func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, next Next) {
		order = append(order, "M1")
		next(sentinel, nil)
	}
	m2 := func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, next Next) {
		order = append(order, "M2")
		next(nil, nil)
	}

	chain := NewChain(m1, m2)
	err := chain.Run(&CallContext{}, &adapter.WrappedRequest{}, &adapter.WrappedResponse{}, func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse) error {
		order = append(order, "handler")
		return nil
	})
	require.Equal(t, sentinel, err)
	require.Equal(t, []string{"M1"}, order)
}

func TestChainDuplicateNextIsRejected(t *testing.T) {
	m := func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, next Next) {
		next(nil, nil)
		next(nil, nil)
	}
	chain := NewChain(m)
	err := chain.Run(&CallContext{}, &adapter.WrappedRequest{}, &adapter.WrappedResponse{}, func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse) error {
		return nil
	})
	require.Error(t, err)
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	log := logrus.New()
	chain := NewChain(Logging(log))
	wres := &adapter.WrappedResponse{}
	err := chain.Run(&CallContext{}, &adapter.WrappedRequest{MessageName: "echo"}, wres, echoTransition)
	require.NoError(t, err)
}

func TestTimeoutPassesWhenFast(t *testing.T) {
	chain := NewChain(Timeout(100 * time.Millisecond))
	wres := &adapter.WrappedResponse{}
	err := chain.Run(&CallContext{}, &adapter.WrappedRequest{Request: "x"}, wres, echoTransition)
	require.NoError(t, err)
	require.False(t, wres.HasError)
	require.Equal(t, "x", wres.Response)
}

func TestTimeoutFiresWhenSlow(t *testing.T) {
	chain := NewChain(Timeout(10 * time.Millisecond))
	wres := &adapter.WrappedResponse{}
	err := chain.Run(&CallContext{}, &adapter.WrappedRequest{}, wres, func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	require.True(t, wres.HasError)
}

func TestRateLimitAllowsThenRejects(t *testing.T) {
	chain := NewChain(RateLimit(1, 2))

	for i := 0; i < 2; i++ {
		wres := &adapter.WrappedResponse{}
		err := chain.Run(&CallContext{}, &adapter.WrappedRequest{Request: "x"}, wres, echoTransition)
		require.NoError(t, err)
		require.False(t, wres.HasError, "request %d should pass", i)
	}

	wres := &adapter.WrappedResponse{}
	err := chain.Run(&CallContext{}, &adapter.WrappedRequest{Request: "x"}, wres, echoTransition)
	require.NoError(t, err)
	require.True(t, wres.HasError)
}

func TestCallContextLocals(t *testing.T) {
	ctx := &CallContext{}
	_, ok := ctx.Get("k")
	require.False(t, ok)

	ctx.Set("k", 42)
	v, ok := ctx.Get("k")
	require.True(t, ok)
	require.Equal(t, 42, v)
}
