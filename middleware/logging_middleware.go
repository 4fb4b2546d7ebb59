package middleware

import (
	"time"

	"github.com/sirupsen/logrus"

	"avrorpc/adapter"
)

// Logging records the message name, duration, and any error for each
// call. It captures the start time in the forward phase and logs from
// the backward callback once the transition (and everything below it)
// has completed, the same shape a log-around-a-single-handler-call
// middleware takes with plain log.Printf — this uses logrus fields
// instead of a formatted string so the message name and error are
// queryable independently.
func Logging(log *logrus.Logger) Func {
	return func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse, next Next) {
		start := time.Now()
		next(nil, func(ctx *CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse) {
			entry := log.WithFields(logrus.Fields{
				"message":  wreq.MessageName,
				"duration": time.Since(start),
			})
			if wres.HasError {
				entry.WithField("error", wres.Error).Warn("rpc call failed")
			} else {
				entry.Debug("rpc call completed")
			}
		})
	}
}
