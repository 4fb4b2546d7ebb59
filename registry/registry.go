// Package registry implements the per-channel pending-call table §4.5
// and §6 describe: each client channel owns one Registry that hands
// out registry ids, tracks the callback waiting on each id, and fires
// each callback exactly once whether the response arrives first or the
// timeout does.
//
// This is not a service-discovery registry — discovery/naming is out of
// scope, so there is no service instance
// list to register or watch. A plain sync.Map keyed by in-flight
// request id is the right shape for that kind of bookkeeping, here
// generalized from "one map, no timeouts, no id reuse" to "one map per
// channel, with timeouts and at-most-once firing."
package registry

import (
	"sync"
	"time"

	"avrorpc/rpcerr"
)

// Callback receives the final outcome for one registered call. It is
// invoked at most once per Add, either with the decoded response or
// with a Timeout/Interrupted error (§4.5: "outstanding calls are failed
// when destroyed; a call's timeout fires at most once").
type Callback func(payload []byte, err error)

type entry struct {
	cb    Callback
	timer *time.Timer
	fired bool
}

// Registry hands out 16-bit ids scoped to one channel and tracks the
// callback registered against each.
type Registry struct {
	mu      sync.Mutex
	nextID  uint16
	pending map[uint16]*entry
	closed  bool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{pending: make(map[uint16]*entry)}
}

// Add registers cb under a freshly allocated id and arms a timeout
// timer when timeout > 0. It returns rpcerr.Interrupted if the registry
// has already been Cleared.
func (r *Registry) Add(timeout time.Duration, cb Callback) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, rpcerr.New(rpcerr.Interrupted, "registry: closed")
	}

	id := r.nextID
	for {
		if _, exists := r.pending[id]; !exists {
			break
		}
		id++
	}
	r.nextID = id + 1

	e := &entry{cb: cb}
	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, func() {
			r.fire(id, nil, rpcerr.New(rpcerr.Timeout, "registry: call %d timed out after %s", id, timeout))
		})
	}
	r.pending[id] = e
	return id, nil
}

// Get invokes the callback registered under id with a successful
// payload, removing the entry. It is a no-op if id is unknown (already
// fired, or never registered) — the at-most-once guarantee this
// enforces matters when a response and a timeout race.
func (r *Registry) Get(id uint16, payload []byte) {
	r.fire(id, payload, nil)
}

// fire is the single at-most-once firing path shared by Get (response
// arrived) and the timeout timer (response never arrived).
func (r *Registry) fire(id uint16, payload []byte, err error) {
	r.mu.Lock()
	e, ok := r.pending[id]
	if !ok || e.fired {
		r.mu.Unlock()
		return
	}
	e.fired = true
	delete(r.pending, id)
	r.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
	}
	e.cb(payload, err)
}

// Cancel removes id's entry without invoking its callback — used when
// the caller who registered it has already given up (e.g. the sending
// goroutine failed to write the frame after Add).
func (r *Registry) Cancel(id uint16) {
	r.mu.Lock()
	e, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if ok && e.timer != nil {
		e.timer.Stop()
	}
}

// Clear fires every still-pending callback with rpcerr.Interrupted and
// marks the registry closed, rejecting further Add calls (§4.5: channel
// destruction must fail outstanding calls, not leak them).
func (r *Registry) Clear() {
	r.mu.Lock()
	r.closed = true
	entries := make([]*entry, 0, len(r.pending))
	for id, e := range r.pending {
		entries = append(entries, e)
		delete(r.pending, id)
	}
	r.mu.Unlock()

	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.cb(nil, rpcerr.New(rpcerr.Interrupted, "registry: channel destroyed"))
	}
}

// Len reports the number of calls currently pending (for tests and
// diagnostics).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
