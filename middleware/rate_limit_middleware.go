package middleware

import (
	"golang.org/x/time/rate"

	"avrorpc/adapter"
	"avrorpc/rpcerr"
)

// RateLimit rejects calls once the token bucket is empty, short-
// circuiting the chain — it never calls next, so neither the remaining
// middleware nor the transition run, matching §8 property 8's bypass
// semantics (a middleware that wants to stop the chain just doesn't
// call next).
//
// The limiter is created once, in the outer closure, and shared across
// every call through this middleware — a fresh limiter per call would
// reset the bucket every time and never throttle anything.
func RateLimit(r float64, burst int) Func {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, next Next) {
		if !limiter.Allow() {
			wres.HasError = true
			wres.Error = rpcerr.New(rpcerr.ApplicationError, "rate limit exceeded").Error()
			return
		}
		next(nil, nil)
	}
}
