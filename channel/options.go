package channel

import "time"

// DefaultTimeout is the client-wide per-call timeout fallback (§5
// "Cancellation/timeouts: per-call timeout defaults to client-wide
// value (10 s)").
const DefaultTimeout = 10 * time.Second

// DefaultHandshakeTimeout bounds how long a stateful client channel
// waits for its opening handshake to resolve before destroying itself
// (§4.5 "Respect a per-channel handshake timeout").
const DefaultHandshakeTimeout = 10 * time.Second

// Options configures one channel (§6 "Channel options"). There is no
// objectMode option: every channel variant frames its records with a
// wire codec. Timeout is not read by any channel variant; a call's
// timeout is the one passed to its Call.
type Options struct {
	Scope            string
	Timeout          time.Duration
	HandshakeTimeout time.Duration
	NoPing           bool
	EndWritable      bool
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

func (o Options) handshakeTimeout() time.Duration {
	if o.HandshakeTimeout > 0 {
		return o.HandshakeTimeout
	}
	return DefaultHandshakeTimeout
}
