// Package rpc assembles the lower-level packages (message, handshake,
// adapter, middleware, channel) into the two façades §6
// describes as the public surface: Client and Server. It is also where
// the "global registry" design note resolves (§9): each Client/Server
// owns one adapter cache keyed by peer fingerprint, handed to its
// channels as a channel.AdapterSource, instead of a process-wide table.
package rpc

import (
	"sync"

	"avrorpc/adapter"
	"avrorpc/message"
	"avrorpc/rpcerr"
)

// ClientAdapterCache is the channel.AdapterSource a real RPC client
// hands its channels. Built adapters always resolve "our local
// (client) schema reads the remote peer's (server) schema" — the
// argument order adapter.New expects when isRemote is the peer
// (§3 Adapter, §4.3).
type ClientAdapterCache struct {
	localSvc *message.Service

	mu      sync.Mutex
	byHash  map[[16]byte]*adapter.Adapter
	current *adapter.Adapter
}

// NewClientAdapterCache builds an empty cache for localSvc.
func NewClientAdapterCache(localSvc *message.Service) *ClientAdapterCache {
	return &ClientAdapterCache{localSvc: localSvc, byHash: make(map[[16]byte]*adapter.Adapter)}
}

// GetByHash implements channel.AdapterSource.
func (c *ClientAdapterCache) GetByHash(peerHash [16]byte) (*adapter.Adapter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.byHash[peerHash]
	if ok {
		c.current = a
	}
	return a, ok
}

// Build implements channel.AdapterSource: parses the peer's protocol
// document, compiles an Adapter against localSvc, and caches it under
// peerHash for future handshakes that recognize the same fingerprint.
func (c *ClientAdapterCache) Build(remoteProtocolJSON []byte, peerHash [16]byte) (*adapter.Adapter, error) {
	serverSvc, err := message.NewService(remoteProtocolJSON)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.IncompatibleProtocol, err, "parse peer protocol document")
	}
	a, err := adapter.New(c.localSvc, serverSvc, peerHash, true)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.byHash[peerHash] = a
	c.current = a
	c.mu.Unlock()
	return a, nil
}

// Current returns the most recently negotiated adapter, if any. A
// single client channel only ever negotiates with one peer at a time,
// so "most recent" is unambiguous for the common case of one channel
// per peer; a client juggling several concurrently-handshaking peers on
// one cache should look adapters up by hash instead once it has
// learned it from its own bookkeeping.
func (c *ClientAdapterCache) Current() (*adapter.Adapter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != nil
}

// ServerAdapterCache is the channel.AdapterSource a real RPC server
// hands its channels. Built adapters resolve "our local (server) schema
// reads the remote peer's (client) schema" — clientSvc is always the
// connecting peer's service here, serverSvc is always localSvc.
type ServerAdapterCache struct {
	localSvc *message.Service

	mu     sync.Mutex
	byHash map[[16]byte]*adapter.Adapter
}

// NewServerAdapterCache builds an empty cache for localSvc.
func NewServerAdapterCache(localSvc *message.Service) *ServerAdapterCache {
	return &ServerAdapterCache{localSvc: localSvc, byHash: make(map[[16]byte]*adapter.Adapter)}
}

// GetByHash implements channel.AdapterSource.
func (s *ServerAdapterCache) GetByHash(peerHash [16]byte) (*adapter.Adapter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byHash[peerHash]
	return a, ok
}

// Build implements channel.AdapterSource.
func (s *ServerAdapterCache) Build(remoteProtocolJSON []byte, peerHash [16]byte) (*adapter.Adapter, error) {
	clientSvc, err := message.NewService(remoteProtocolJSON)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.IncompatibleProtocol, err, "parse peer protocol document")
	}
	a, err := adapter.New(clientSvc, s.localSvc, peerHash, true)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.byHash[peerHash] = a
	s.mu.Unlock()
	return a, nil
}
