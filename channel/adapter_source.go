package channel

import "avrorpc/adapter"

// AdapterSource is how a channel asks its owning Client/Server for the
// Adapter matching a peer (§3 Adapter: "cached forever on the owning
// Client/Server under that fingerprint"). Keeping the cache on the
// parent rather than the channel is what lets concurrent channels on
// the same Client/Server share one Adapter per peer instead of
// rebuilding it per connection.
type AdapterSource interface {
	// GetByHash returns a previously cached Adapter for peerHash.
	GetByHash(peerHash [16]byte) (*adapter.Adapter, bool)
	// Build parses remoteProtocolJSON, constructs an Adapter against
	// the local Service, caches it under peerHash, and returns it.
	Build(remoteProtocolJSON []byte, peerHash [16]byte) (*adapter.Adapter, error)
}
