package transport

import (
	"github.com/cenkalti/backoff/v4"

	"avrorpc/channel"
)

// DialWithBackoff wraps factory with exponential-backoff retry on the
// dial step only (§9 "next called exactly once" rules out retrying a
// middleware's forward call, so connection-level retry is re-homed here
// instead of as a per-call middleware). Once a Transport is obtained,
// its calls are never silently retried — a timed-out or interrupted
// call surfaces to the caller exactly as any other failure would.
func DialWithBackoff(factory channel.Factory, policy backoff.BackOff) channel.Factory {
	return func() (channel.Transport, error) {
		var t channel.Transport
		err := backoff.Retry(func() error {
			conn, err := factory()
			if err != nil {
				return err
			}
			t = conn
			return nil
		}, policy)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// DefaultDialBackoff is a sane default for DialWithBackoff: exponential
// with jitter, capped, giving up after the default MaxElapsedTime.
func DefaultDialBackoff() backoff.BackOff {
	return backoff.NewExponentialBackOff()
}
