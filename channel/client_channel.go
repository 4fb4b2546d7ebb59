package channel

import (
	"time"

	"avrorpc/registry"
)

// ClientChannel is the surface rpc.Client drives: any client-side
// variant (stateful or stateless) that can issue a call and report its
// lifecycle. Letting rpc.Client depend on this instead of a concrete
// variant is what lets one Client swap transports without caring which
// of the two client channel shapes is underneath (§4.5: the two client
// variants differ internally but expose the same call surface).
type ClientChannel interface {
	Channel
	// Call sends the already wire-encoded WrappedRequest reqBytes and
	// invokes cb at most once with the raw response payload (or an
	// error) once it resolves, times out, or the channel is destroyed.
	Call(reqBytes []byte, timeout time.Duration, oneWay bool, cb registry.Callback) error
	// PeerHash returns the fingerprint of the peer this channel has
	// negotiated with, if known yet. A client juggling several channels
	// needs this to resolve each channel's own adapter by hash instead
	// of relying on "whichever peer negotiated most recently" (see
	// rpc.ClientAdapterCache.Current).
	PeerHash() ([16]byte, bool)
}

var (
	_ ClientChannel = (*StatefulClient)(nil)
	_ ClientChannel = (*StatelessClient)(nil)
)
