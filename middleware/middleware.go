// Package middleware implements the two-phase forward/backward chain
// §4 and the "Callback-with-ambient-this" design note describe, in
// place of a plain onion-model `Chain(A, B, C)(handler) →
// A(B(C(handler)))` decorator chain.
//
// The onion model's "pre-processing, call next, post-processing" shape
// is kept — what changes is that a middleware no longer wraps a whole
// handler closure. Instead each middleware explicitly calls next with
// an optional backward callback, which is pushed onto a LIFO stack and
// run after the transition (the handler, or the wire send) completes.
// This lets a middleware bypass the remaining chain and the transition
// entirely by simply not calling next — the stack still unwinds with
// whatever backward callbacks were already registered (§8 property 8,
// "Bypass").
package middleware

import (
	"avrorpc/adapter"
	"avrorpc/message"
	"avrorpc/rpcerr"
)

// CallContext is the explicit per-call state middleware and callbacks
// receive instead of relying on an ambient receiver (§3 "CallContext",
// §9 "Callback-with-ambient-this").
type CallContext struct {
	Message *message.Message
	Channel interface{} // the owning channel; concrete type lives in package channel
	Locals  map[string]interface{}
}

// Get reads a typed local, returning ok=false if unset.
func (c *CallContext) Get(key string) (interface{}, bool) {
	if c.Locals == nil {
		return nil, false
	}
	v, ok := c.Locals[key]
	return v, ok
}

// Set stores a local value.
func (c *CallContext) Set(key string, v interface{}) {
	if c.Locals == nil {
		c.Locals = make(map[string]interface{})
	}
	c.Locals[key] = v
}

// BackFunc is a backward-phase callback, run in LIFO order after the
// transition (§9 "Backward phase").
type BackFunc func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse)

// Next is what a middleware calls to proceed to the next middleware (or
// the transition, if it is last). Passing a non-nil back registers that
// callback to run during the backward phase. Next must be called at
// most once per middleware invocation.
//
// Calling next does not unconditionally advance the forward phase: a
// non-nil err, or wres already carrying an error or a response when
// next runs, stops the forward phase immediately — no further
// middleware and no transition run — and the backward phase begins
// right away, same as never calling next at all. This lets a
// middleware mutate wres (or hand next an err) and still short-circuit
// the rest of the chain in one call, instead of having to skip calling
// next to get the same effect.
type Next func(err error, back BackFunc)

// Func is one middleware's logic: (ctx, wreq, wres, next) per §9.
type Func func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, next Next)

// Transition is the pivot the forward phase leads up to: send-over-wire
// on the client, invoke-handler on the server (§GLOSSARY "Transition").
type Transition func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse) error

// Chain is an ordered, append-only list of middleware (§5 "middleware
// lists: append-only during setup, then read-only under normal use").
type Chain struct {
	funcs []Func
}

// NewChain builds a Chain from fs, run in the given order on the
// forward phase (§8 property 7: "M1 → M2 → M3 → handler").
func NewChain(fs ...Func) *Chain {
	return &Chain{funcs: append([]Func(nil), fs...)}
}

// Use appends one more middleware to the chain.
func (c *Chain) Use(f Func) {
	c.funcs = append(c.funcs, f)
}

// Run drives the forward phase across c's middleware, invoking
// transition once the last middleware calls next, then unwinds every
// registered backward callback in reverse order (§4, §8 properties 7
// and 8).
func (c *Chain) Run(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, transition Transition) error {
	var backs []BackFunc
	var transitionErr error

	var proceed func(i int)
	proceed = func(i int) {
		if i >= len(c.funcs) {
			transitionErr = transition(ctx, wreq, wres)
			return
		}
		called := false
		next := func(err error, back BackFunc) {
			if called {
				transitionErr = rpcerr.New(rpcerr.InternalServerError, "duplicate middleware forward call")
				return
			}
			called = true
			if back != nil {
				backs = append(backs, back)
			}
			if err != nil {
				transitionErr = err
				return
			}
			if wres.HasError || wres.Response != nil {
				// The middleware mutated wres before calling next: treat
				// that the same as never calling next — skip the rest of
				// the forward phase and the transition, and unwind
				// backward as usual.
				return
			}
			proceed(i + 1)
		}
		c.funcs[i](ctx, wreq, wres, next)
		// If the middleware never called next, it has bypassed the rest
		// of the forward phase (and the transition) on purpose.
	}
	proceed(0)

	for i := len(backs) - 1; i >= 0; i-- {
		backs[i](ctx, wreq, wres)
	}
	return transitionErr
}
