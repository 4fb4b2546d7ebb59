package rpc

import (
	"math/rand"
	"sync"
	"time"

	"avrorpc/adapter"
	"avrorpc/channel"
	"avrorpc/message"
	"avrorpc/middleware"
	"avrorpc/rpcerr"
)

// blankAdapter is used for the request-encoding half of a call, which
// never needs resolvers — EncodeRequest only ever uses the message
// descriptor it is given directly, never the adapter's own compiled
// per-message table (see adapter.Adapter.EncodeRequest).
var blankAdapter = &adapter.Adapter{}

// ChannelPolicy picks one channel to carry the next call out of the
// client's current active set (§4.7 "Channel selection"). active is
// never empty when a ChannelPolicy is consulted — the one-channel fast
// path and the buffering fallback are both handled before a policy
// ever runs.
type ChannelPolicy func(active []channel.ClientChannel) channel.ClientChannel

// clientEntry pairs an attached channel with the connected flag its
// observer flips on handshake completion or teardown.
type clientEntry struct {
	ch        channel.ClientChannel
	connected bool
}

// Client is the RPC client façade (§4.7, §6): a Service description,
// one adapter cache shared by every channel it owns, a set of attached
// channels with a selection policy, an optional middleware chain run
// around each call's wire send, and buffering behavior for calls made
// while no channel is active.
type Client struct {
	svc     *message.Service
	cache   *ClientAdapterCache
	Timeout time.Duration
	// Strict selects §8 property 9's strict error-coercion mode: a
	// decoded error union value, from any branch, is returned as an
	// *ApplicationError carrying that value, instead of being flattened
	// to a string. Defaults to true.
	Strict bool
	// Buffer parks a call until a channel becomes active instead of
	// immediately failing with NoActiveChannels (§4.7).
	Buffer bool

	mu      sync.Mutex
	mw      *middleware.Chain
	entries []*clientEntry
	policy  ChannelPolicy
	waiters []chan struct{}
}

// NewClient builds a Client bound to ch, using cache to resolve
// whichever adapter each of its channels' handshakes negotiate. mw may
// be nil. Further channels can be attached later with AddChannel,
// CreateChannel, or CreateStatelessChannel (§4.7 "createChannel").
func NewClient(svc *message.Service, ch channel.ClientChannel, cache *ClientAdapterCache, mw *middleware.Chain) *Client {
	if mw == nil {
		mw = middleware.NewChain()
	}
	c := &Client{svc: svc, cache: cache, mw: mw, Timeout: channel.DefaultTimeout, Strict: true}
	c.AddChannel(ch)
	return c
}

// Use appends one more middleware to the chain every call runs through,
// regardless of how many channels are already attached (§6 "use(middleware)").
func (c *Client) Use(f middleware.Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mw.Use(f)
}

// SetPolicy installs the channel-selection policy consulted whenever
// more than one channel is active (§4.7 "Channel selection"). A nil
// policy restores the default uniform-random pick.
func (c *Client) SetPolicy(p ChannelPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = p
}

// AddChannel attaches an already-constructed channel and starts
// tracking its connected state. A stateless channel re-handshakes on
// every call, so it is considered connected from the moment it exists.
func (c *Client) AddChannel(ch channel.ClientChannel) {
	e := &clientEntry{}
	if _, stateless := ch.(*channel.StatelessClient); stateless {
		e.connected = true
	}
	e.ch = ch

	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()

	if s, ok := ch.(interface{ Subscribe(channel.Observer) }); ok {
		s.Subscribe(&clientChannelObserver{client: c, entry: e})
	}
	c.wakeWaiters()
}

// CreateChannel builds a stateful client channel over transport and
// attaches it (§4.7, §6 "createChannel(transport, options)").
func (c *Client) CreateChannel(transport channel.Transport, opts channel.Options) channel.ClientChannel {
	ch := channel.NewStatefulClient(c.svc, transport, c.cache, opts)
	c.AddChannel(ch)
	return ch
}

// CreateStatelessChannel builds a stateless client channel dialing via
// factory and attaches it.
func (c *Client) CreateStatelessChannel(factory channel.Factory, opts channel.Options) channel.ClientChannel {
	ch := channel.NewStatelessClient(c.svc, factory, c.cache, opts)
	c.AddChannel(ch)
	return ch
}

// CreateChannelOnMux attaches a scoped client channel to an already
// running Multiplexer instead of building one of its own, letting
// several channels share a single transport distinguished only by
// scope (§8 property 6).
func (c *Client) CreateChannelOnMux(mux *channel.Multiplexer, opts channel.Options) channel.ClientChannel {
	ch := channel.NewStatefulClientOnMux(c.svc, mux, c.cache, opts)
	c.AddChannel(ch)
	return ch
}

// ActiveChannels returns every attached channel currently connected and
// not destroyed (§6 "activeChannels()").
func (c *Client) ActiveChannels() []channel.ClientChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]channel.ClientChannel, 0, len(c.entries))
	for _, e := range c.entries {
		if e.connected && !e.ch.Destroyed() {
			out = append(out, e.ch)
		}
	}
	return out
}

// RemoteProtocols returns the peer Service each active channel has
// negotiated, keyed by peer fingerprint. Only entries actually built
// from a handshake response are reported — a resolved §9 open question:
// "only entries installed from the wire," never anything seeded ahead
// of time through a constructor option.
func (c *Client) RemoteProtocols() map[[16]byte]*message.Service {
	out := make(map[[16]byte]*message.Service)
	for _, ch := range c.ActiveChannels() {
		hash, known := ch.PeerHash()
		if !known {
			continue
		}
		if a, ok := c.cache.GetByHash(hash); ok {
			out[hash] = a.ServerSvc
		}
	}
	return out
}

// DestroyChannels tears down every attached channel (§6
// "destroyChannels({noWait})").
func (c *Client) DestroyChannels(noWait bool) {
	c.mu.Lock()
	entries := append([]*clientEntry(nil), c.entries...)
	c.mu.Unlock()
	for _, e := range entries {
		e.ch.Destroy(noWait)
	}
}

// Destroy tears down every channel this client owns (§4.5 "Destroy /
// drain").
func (c *Client) Destroy(noWait bool) { c.DestroyChannels(noWait) }

// Subscribe forwards o to every currently-attached channel that
// exposes an observer list (both client channel variants do).
func (c *Client) Subscribe(o channel.Observer) {
	c.mu.Lock()
	entries := append([]*clientEntry(nil), c.entries...)
	c.mu.Unlock()
	for _, e := range entries {
		if s, ok := e.ch.(interface{ Subscribe(channel.Observer) }); ok {
			s.Subscribe(o)
		}
	}
}

func (c *Client) wakeWaiters() {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

func (c *Client) markConnected(e *clientEntry) {
	c.mu.Lock()
	e.connected = true
	c.mu.Unlock()
	c.wakeWaiters()
}

// clientChannelObserver flips entry's connected flag once its channel
// finishes handshaking, and clears it once the channel tears down,
// so ActiveChannels stays accurate without polling.
type clientChannelObserver struct {
	client *Client
	entry  *clientEntry
}

func (o *clientChannelObserver) OnHandshake(ch channel.Channel)    { o.client.markConnected(o.entry) }
func (o *clientChannelObserver) OnIncomingCall(ch channel.Channel) {}
func (o *clientChannelObserver) OnOutgoingCall(ch channel.Channel) {}
func (o *clientChannelObserver) OnDrain(ch channel.Channel)        {}

func (o *clientChannelObserver) OnEOT(ch channel.Channel) {
	o.client.mu.Lock()
	o.entry.connected = false
	o.client.mu.Unlock()
}

func (o *clientChannelObserver) OnError(ch channel.Channel, err error) {}

// selectChannel implements §4.7's channel-selection policy: a single
// attached channel is always the fast path, regardless of its
// connected state, since each channel variant already queues or parks
// calls made before its own handshake settles. With two or more
// attached channels, only the currently-active ones are eligible: a
// configured policy is consulted if set, otherwise a uniform random
// pick; with none active, the call is parked (if buffering is
// enabled) or fails outright.
func (c *Client) selectChannel() (channel.ClientChannel, error) {
	c.mu.Lock()
	entries := c.entries
	c.mu.Unlock()

	if len(entries) == 1 {
		return entries[0].ch, nil
	}

	if ch, ok := c.pickActive(); ok {
		return ch, nil
	}

	if !c.Buffer {
		return nil, rpcerr.New(rpcerr.NoActiveChannels, "no active channels")
	}

	waiter := make(chan struct{})
	c.mu.Lock()
	c.waiters = append(c.waiters, waiter)
	c.mu.Unlock()
	<-waiter

	// Resubmitted exactly once (§4.7): whatever the state is now, this
	// is the last attempt.
	if ch, ok := c.pickActive(); ok {
		return ch, nil
	}
	return nil, rpcerr.New(rpcerr.NoActiveChannels, "no active channels")
}

func (c *Client) pickActive() (channel.ClientChannel, bool) {
	active := c.ActiveChannels()
	switch len(active) {
	case 0:
		return nil, false
	case 1:
		return active[0], true
	default:
		c.mu.Lock()
		policy := c.policy
		c.mu.Unlock()
		if policy != nil {
			return policy(active), true
		}
		return active[rand.Intn(len(active))], true
	}
}

// Call invokes the named message synchronously, running the client's
// middleware chain around the actual wire send (§4, §9 "Transition").
func (c *Client) Call(msgName string, request interface{}, headers map[string][]byte) (interface{}, error) {
	msg, ok := c.svc.Messages[msgName]
	if !ok {
		return nil, rpcerr.New(rpcerr.NotImplemented, "client: unknown message %q", msgName)
	}

	ch, err := c.selectChannel()
	if err != nil {
		return nil, err
	}

	wreq := &adapter.WrappedRequest{MessageName: msgName, Headers: headers, Request: request}
	wres := &adapter.WrappedResponse{}
	ctx := &middleware.CallContext{Message: &msg, Channel: ch}

	c.mu.Lock()
	mw := c.mw
	c.mu.Unlock()

	if err := mw.Run(ctx, wreq, wres, c.sendTransition(ch, msg, msgName)); err != nil {
		return nil, err
	}
	if wres.HasError {
		return nil, coerceError(wres.Error, c.Strict)
	}
	return wres.Response, nil
}

// Notify invokes a one-way message: it returns once the bytes are
// queued or written, never waiting on a wire reply (§3 "oneWay").
func (c *Client) Notify(msgName string, request interface{}, headers map[string][]byte) error {
	_, err := c.Call(msgName, request, headers)
	return err
}

func (c *Client) sendTransition(ch channel.ClientChannel, msg message.Message, msgName string) middleware.Transition {
	return func(ctx *middleware.CallContext, wreq *adapter.WrappedRequest, wres *adapter.WrappedResponse) error {
		reqBytes, err := blankAdapter.EncodeRequest(msg, *wreq)
		if err != nil {
			return rpcerr.Wrap(rpcerr.InternalServerError, err, "encode request %q", msgName)
		}

		type outcome struct {
			payload []byte
			err     error
		}
		done := make(chan outcome, 1)
		callErr := ch.Call(reqBytes, c.Timeout, msg.OneWay, func(payload []byte, err error) {
			done <- outcome{payload, err}
		})
		if callErr != nil {
			return callErr
		}
		if msg.OneWay {
			return nil
		}

		o := <-done
		if o.err != nil {
			return o.err
		}

		a, err := c.adapterFor(ch)
		if err != nil {
			return err
		}
		decoded, err := a.DecodeResponse(o.payload, msgName)
		if err != nil {
			return err
		}
		*wres = *decoded
		return nil
	}
}

// adapterFor resolves the Adapter negotiated by ch specifically,
// falling back to the cache's "most recently negotiated" adapter only
// when ch's own peer hash isn't resolvable — the single-peer
// simplification ClientAdapterCache.Current documents, narrowed to a
// last resort now that multiple channels can be attached at once.
func (c *Client) adapterFor(ch channel.ClientChannel) (*adapter.Adapter, error) {
	if hash, known := ch.PeerHash(); known {
		if a, ok := c.cache.GetByHash(hash); ok {
			return a, nil
		}
	}
	if a, ok := c.cache.Current(); ok {
		return a, nil
	}
	return nil, rpcerr.New(rpcerr.InternalServerError, "client: no adapter negotiated for this channel")
}
