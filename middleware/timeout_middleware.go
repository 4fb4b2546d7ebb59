package middleware

import (
	"time"

	"avrorpc/adapter"
	"avrorpc/rpcerr"
)

// Timeout enforces a maximum duration for the remainder of the chain
// (everything below this middleware, including the transition). If it
// doesn't complete in time, wres is marked as a Timeout error and the
// call returns immediately.
//
// This is a belt-and-suspenders guard alongside registry.Registry's own
// per-call timer (§4.2) — the registry timeout covers the full
// round-trip including time on the wire, while this one bounds local
// processing (middleware + handler) before a response is even built.
// Uses a goroutine-plus-select race against a timer; the background
// goroutine is not cancelled on expiry — it keeps running after this
// middleware already gave up, but any backward callback it registers
// once the chain has unwound never runs.
func Timeout(d time.Duration) Func {
	return func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, next Next) {
		done := make(chan struct{})
		go func() {
			next(nil, nil)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(d):
			wres.HasError = true
			wres.Error = rpcerr.New(rpcerr.Timeout, "middleware chain exceeded %s", d).Error()
		}
	}
}
