package channel

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"avrorpc/registry"
)

// Observer receives channel lifecycle events (§4.5, §9 "Event-emitter
// channel lifecycle"): handshake completion, each incoming or outgoing
// call starting, drain/end-of-transmission, and channel-level errors.
// This is an explicit per-channel subscription list rather than an
// ambient global event emitter — a Client/Server subscribes once per
// channel it creates.
type Observer interface {
	OnHandshake(ch Channel)
	OnIncomingCall(ch Channel)
	OnOutgoingCall(ch Channel)
	OnDrain(ch Channel)
	OnEOT(ch Channel)
	OnError(ch Channel, err error)
}

// Channel is the minimal surface every variant satisfies; the rest of
// each variant's API (Call, Send, etc.) is exported concretely on the
// variant's own type since the operations differ by direction.
type Channel interface {
	Scope() string
	Prefix() uint16
	Destroy(noWait bool)
	Destroyed() bool
	// Stats reports a point-in-time snapshot of the channel's lifecycle
	// counters and negotiated peer fingerprint, for introspection (a
	// demo CLI's status output, a test asserting scope isolation)
	// rather than anything the call path itself consults.
	Stats() Stats
}

// Stats is the snapshot Channel.Stats returns.
type Stats struct {
	Scope     string
	Pending   int
	Draining  bool
	Destroyed bool
	// PeerHash and HasPeer describe the peer this channel has
	// negotiated with, if any yet — a stateless server channel never
	// carries one between calls, so HasPeer is always false there.
	PeerHash [16]byte
	HasPeer  bool
}

// scopePrefix hashes a scope string down to the 16 high bits embedded
// in every wire id on this channel (§3 "Channel scope prefix"). An
// unset scope always prefixes 0.
func scopePrefix(scope string) uint16 {
	if scope == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(scope))
	return uint16(h.Sum32())
}

// base is embedded by every channel variant. It owns the scope prefix,
// the pending-call counter, the destroyed/draining flags, and observer
// dispatch (§4.5: "All channels share: a 16-bit scope prefix..., a
// pending counter, destroyed/draining flags, events...").
type base struct {
	scope  string
	prefix uint16

	pending   int32
	draining  int32
	destroyed int32

	mu        sync.Mutex
	observers []Observer

	// onFinish, if set, runs exactly once from finishDestroy — stateful
	// variants use it to close their transport and unblock the
	// Multiplexer's Serve read loop, which otherwise has no other reason
	// to return once a channel is destroyed.
	onFinish func()
}

func newBase(scope string) base {
	return base{scope: scope, prefix: scopePrefix(scope)}
}

func (b *base) Scope() string   { return b.scope }
func (b *base) Prefix() uint16  { return b.prefix }
func (b *base) Destroyed() bool { return atomic.LoadInt32(&b.destroyed) == 1 }
func (b *base) draining_() bool { return atomic.LoadInt32(&b.draining) == 1 }

// statsBase fills in every field a variant's own Stats() doesn't need
// to add peer-hash bookkeeping for.
func (b *base) statsBase() Stats {
	return Stats{
		Scope:     b.scope,
		Pending:   int(atomic.LoadInt32(&b.pending)),
		Draining:  b.draining_(),
		Destroyed: b.Destroyed(),
	}
}

// Subscribe registers o to receive every event this channel emits.
func (b *base) Subscribe(o Observer) {
	b.mu.Lock()
	b.observers = append(b.observers, o)
	b.mu.Unlock()
}

func (b *base) snapshotObservers() []Observer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Observer(nil), b.observers...)
}

func (b *base) emitHandshake(ch Channel) {
	for _, o := range b.snapshotObservers() {
		o.OnHandshake(ch)
	}
}

func (b *base) emitIncomingCall(ch Channel) {
	for _, o := range b.snapshotObservers() {
		o.OnIncomingCall(ch)
	}
}

func (b *base) emitOutgoingCall(ch Channel) {
	for _, o := range b.snapshotObservers() {
		o.OnOutgoingCall(ch)
	}
}

func (b *base) emitDrain(ch Channel) {
	for _, o := range b.snapshotObservers() {
		o.OnDrain(ch)
	}
}

func (b *base) emitEOT(ch Channel) {
	for _, o := range b.snapshotObservers() {
		o.OnEOT(ch)
	}
}

func (b *base) emitError(ch Channel, err error) {
	for _, o := range b.snapshotObservers() {
		o.OnError(ch, err)
	}
}

// callStart records one more in-flight call (§4.5 "pending counter").
func (b *base) callStart() { atomic.AddInt32(&b.pending, 1) }

// callDone records a call's completion; if the channel is draining and
// this was the last pending call, it completes the destroy sequence
// (§4.5 "Destroy / drain").
func (b *base) callDone(ch Channel, reg *registry.Registry) {
	if atomic.AddInt32(&b.pending, -1) == 0 && b.draining_() {
		b.finishDestroy(ch, reg)
	}
}

// destroy implements §4.5's destroy(noWait): drain immediately if
// noWait or there are no pending calls; otherwise stay open, refusing
// new sends, until the last pending call resolves.
func (b *base) destroy(ch Channel, noWait bool, reg *registry.Registry) {
	if !atomic.CompareAndSwapInt32(&b.draining, 0, 1) {
		return
	}
	b.emitDrain(ch)
	if noWait || atomic.LoadInt32(&b.pending) == 0 {
		b.finishDestroy(ch, reg)
	}
}

func (b *base) finishDestroy(ch Channel, reg *registry.Registry) {
	if !atomic.CompareAndSwapInt32(&b.destroyed, 0, 1) {
		return
	}
	if reg != nil {
		reg.Clear()
	}
	if b.onFinish != nil {
		b.onFinish()
	}
	b.emitEOT(ch)
}
