// Package txlock implements the IntentionLock Coordinator from §4.6: the
// transactional-isolation protocol a scripted multi-key operation uses to
// serialise other writers on its declared key set without blocking
// readers. It drives the same eventhub.Hub machinery every entry already
// carries, rather than a second parallel lock table.
package txlock

import (
	"github.com/emberkv/emberkv/keyspace"
	"github.com/emberkv/emberkv/logger"
)

var log = logger.For("txlock")

// Coordinator installs, hands off, and revokes IntentionLocks on behalf of
// script executions.
type Coordinator struct {
	ks *keyspace.KeySpace
}

func New(ks *keyspace.KeySpace) *Coordinator {
	return &Coordinator{ks: ks}
}

// Begin declares keys as the transaction's key set and installs an
// IntentionLock targeting handlerID on each, in ascending shard order. If a
// key is already claimed by a different handler, Begin rolls back every
// lock it installed so far and returns that key plus the channel the caller
// should wait on before retrying the whole Begin call.
func (c *Coordinator) Begin(handlerID int64, keys []string) (conflictKey string, wait <-chan struct{}, ok bool) {
	ordered := c.ks.SortKeysByShard(keys)
	installed := make([]string, 0, len(ordered))

	for _, key := range ordered {
		g := c.ks.EnsureEntry(key)
		hub := g.Entry().EventsOrCreate()

		if target, has := hub.TargetHandler(); has && target != handlerID {
			g.Release()
			c.rollback(handlerID, installed)
			return key, hub.Enqueue(handlerID), false
		}

		hub.Install(handlerID)
		g.Release()
		installed = append(installed, key)
	}

	return "", nil, true
}

// rollback releases every lock this handler installed earlier in a Begin
// call that subsequently hit a conflict. Revoke is used rather than a
// narrower "clear if still mine" primitive because it is always safe: any
// waiter that raced in during the rollback window is woken with "key gone"
// and simply retries.
func (c *Coordinator) rollback(handlerID int64, keys []string) {
	for _, key := range keys {
		g := c.ks.GetWrite(key)
		if g.Entry() != nil && g.Entry().Events != nil {
			g.Entry().Events.Revoke()
		}
		g.Release()
	}
}

// Commit hands off each declared key to its next FIFO waiter (retargeting
// the lock to that handler) or clears the lock entirely if none is queued —
// the final-handler-clears-the-field rule from §4.6. Also used on script
// abort: atomicity across keys isn't guaranteed, so an aborted script
// commits its lock handoffs the same way a successful one does, leaving
// whatever partial writes it already applied.
func (c *Coordinator) Commit(keys []string) {
	for _, key := range keys {
		g := c.ks.GetWrite(key)
		if g.Entry() != nil && g.Entry().Events != nil {
			if next, ok := g.Entry().Events.Handoff(); ok {
				log.Debug("intention lock handed off")
				_ = next
			}
		}
		g.Release()
	}
}

// AwaitTurn is the single-key contention check the normal (non-script)
// write path uses at step 3 of the command loop: if key currently has an
// IntentionLock targeting a different handler, it enqueues handlerID and
// returns the channel to await; otherwise contended is false and the caller
// should proceed with its write immediately.
func (c *Coordinator) AwaitTurn(handlerID int64, key string) (wait <-chan struct{}, contended bool) {
	g := c.ks.GetWrite(key)
	defer g.Release()

	if g.Entry() == nil || g.Entry().Events == nil {
		return nil, false
	}
	hub := g.Entry().Events
	target, has := hub.TargetHandler()
	if !has || target == handlerID {
		return nil, false
	}
	return hub.Enqueue(handlerID), true
}

// CancelWaiter removes handlerID's enqueued wait on key without waking it,
// used when a connection closes while parked on AwaitTurn or a conflicted
// Begin.
func (c *Coordinator) CancelWaiter(handlerID int64, key string) {
	g := c.ks.GetWrite(key)
	defer g.Release()
	if g.Entry() != nil && g.Entry().Events != nil {
		g.Entry().Events.RemoveWaiter(handlerID)
	}
}
