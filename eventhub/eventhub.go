// Package eventhub implements the per-entry notification primitive that
// powers blocking commands, client-side cache invalidation, and the
// transactional IntentionLock handoff. A Hub is nil until an entry's first
// subscriber arrives — the common case (nobody is watching a key) costs one
// pointer.
package eventhub

import "sync"

// Hub holds the three independent subscriber classes for one entry. All
// three collections start nil; each is heap-allocated individually on first
// use so, e.g., registering a Track subscriber does not pay for a MayUpdate
// set nobody asked for.
type Hub struct {
	mu sync.Mutex

	mayUpdate map[chan struct{}]struct{}
	track     map[int64]struct{}
	lock      *IntentionLock
}

// NewHub returns an empty hub ready for subscription.
func NewHub() *Hub {
	return &Hub{}
}

// --- MayUpdate ---

// Await registers a one-shot notifier and returns the receive side. The
// caller should select on it (with a timeout for BLPOP/BRPOP-style commands)
// and re-read the key on wakeup; spurious wakeups are permitted by design.
func (h *Hub) Await() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan struct{})
	if h.mayUpdate == nil {
		h.mayUpdate = make(map[chan struct{}]struct{})
	}
	h.mayUpdate[ch] = struct{}{}
	return ch
}

// CancelAwait removes a waiter without firing it, used when a connection
// closes while still blocked.
func (h *Hub) CancelAwait(ch <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.mayUpdate {
		if c == ch {
			delete(h.mayUpdate, c)
			return
		}
	}
}

// FireMayUpdate drains and closes every registered one-shot notifier. Must
// be called only after the triggering mutation is visible to subsequent
// readers (§4.2 firing policy).
func (h *Hub) FireMayUpdate() {
	h.mu.Lock()
	waiters := h.mayUpdate
	h.mayUpdate = nil
	h.mu.Unlock()

	for ch := range waiters {
		close(ch)
	}
}

// --- Track ---

// TrackFrom registers connID as interested in invalidation of this key.
func (h *Hub) TrackFrom(connID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.track == nil {
		h.track = make(map[int64]struct{})
	}
	h.track[connID] = struct{}{}
}

// UntrackFrom removes connID, used on connection close.
func (h *Hub) UntrackFrom(connID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.track, connID)
}

// FireTrack drains the tracker set and returns it so the caller (the
// keyspace mutation path) can push invalidation frames to each connection's
// inbound-event channel without holding the hub lock while doing so. Called
// on every path that makes a previously-read value stale: mutation, lazy
// expiry, background expiry, and eviction alike (per the open-question
// resolution: an invalidation fires whenever the tracked value is no longer
// current, regardless of cause).
func (h *Hub) FireTrack() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.track) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(h.track))
	for id := range h.track {
		ids = append(ids, id)
	}
	h.track = nil
	return ids
}

// --- IntentionLock ---

// IntentionLock is the transactional-isolation claim described in §4.2/§4.6:
// one active target handler, plus an ordered queue of handlers waiting for
// their turn to become the target.
type IntentionLock struct {
	Target  int64
	waiters []waiter
}

type waiter struct {
	handlerID int64
	resume    chan struct{}
}

// Installed reports whether this entry currently has an active
// IntentionLock.
func (h *Hub) Installed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lock != nil
}

// TargetHandler returns the current IntentionLock target and whether one is
// installed.
func (h *Hub) TargetHandler() (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lock == nil {
		return 0, false
	}
	return h.lock.Target, true
}

// Install claims the IntentionLock for handlerID, or is a no-op if
// handlerID already holds it (re-entrant declaration of the same key within
// one script). Callers (txlock.Coordinator) must already know no other
// handler holds the lock; installing over a different handler's lock is a
// programming error and panics, since the coordinator always checks
// TargetHandler first. Reports whether a new lock was installed.
func (h *Hub) Install(handlerID int64) (installedNew bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lock != nil {
		if h.lock.Target == handlerID {
			return false
		}
		panic("eventhub: Install called while a different target holds the lock")
	}
	h.lock = &IntentionLock{Target: handlerID}
	return true
}

// Enqueue appends handlerID as a waiter for the current IntentionLock and
// returns the channel it should block on. The caller must have already
// released the entry's shard write lock before waiting on the returned
// channel, per the no-suspension-under-lock rule.
func (h *Hub) Enqueue(handlerID int64) <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan struct{})
	if h.lock == nil {
		// Lock was released between the caller's check and this enqueue;
		// hand back an already-closed channel so the caller retries
		// immediately instead of blocking forever.
		close(ch)
		return ch
	}
	h.lock.waiters = append(h.lock.waiters, waiter{handlerID: handlerID, resume: ch})
	return ch
}

// Handoff pops the first waiter (if any), retargets the lock to it, and
// wakes exactly that one waiter — the FIFO, one-wake-per-release handoff
// §4.6 requires. If there are no waiters, the lock is cleared entirely and
// ok reports false.
func (h *Hub) Handoff() (nextHandlerID int64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lock == nil {
		return 0, false
	}
	if len(h.lock.waiters) == 0 {
		h.lock = nil
		return 0, false
	}

	next := h.lock.waiters[0]
	h.lock.waiters = h.lock.waiters[1:]
	h.lock.Target = next.handlerID
	close(next.resume)
	return next.handlerID, true
}

// Revoke tears down the IntentionLock unconditionally, waking every
// remaining waiter with "key gone" (a closed channel; the coordinator
// checks entry existence on resume and aborts cleanly). Used on explicit
// delete, expiration, and eviction.
func (h *Hub) Revoke() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lock == nil {
		return
	}
	for _, w := range h.lock.waiters {
		close(w.resume)
	}
	h.lock = nil
}

// RemoveWaiter removes handlerID's enqueued waiter without waking it, used
// when a connection holding a pending wait closes.
func (h *Hub) RemoveWaiter(handlerID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lock == nil {
		return
	}
	for i, w := range h.lock.waiters {
		if w.handlerID == handlerID {
			h.lock.waiters = append(h.lock.waiters[:i], h.lock.waiters[i+1:]...)
			return
		}
	}
}

// Teardown is called by the keyspace on entry destruction (explicit delete,
// expiration sweep, or eviction): it revokes any IntentionLock, fires
// whatever MayUpdate/Track subscribers remain, and returns the drained
// Track connection ids so the caller can deliver invalidations.
func (h *Hub) Teardown() (trackIDs []int64) {
	h.Revoke()
	h.FireMayUpdate()
	return h.FireTrack()
}
