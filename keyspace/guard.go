package keyspace

import "sync"

// ReadGuard lends shared access to one entry while pinning its shard against
// concurrent removal. Callers must call Release exactly once.
type ReadGuard struct {
	mu    *sync.RWMutex
	entry *Entry
}

func (g *ReadGuard) Entry() *Entry { return g.entry }

func (g *ReadGuard) Release() { g.mu.RUnlock() }

// WriteGuard lends exclusive access to one entry's shard. Callers must call
// Release exactly once; no suspension point may occur while a WriteGuard is
// held (per the concurrency model — locks never cross a yield).
type WriteGuard struct {
	mu    *sync.RWMutex
	shard *Shard
	entry *Entry // nil if the key did not exist at acquisition time
	key   string
}

func (g *WriteGuard) Entry() *Entry { return g.entry }

// Put installs or replaces the entry behind this guard. If one already
// existed its EventHub is preserved onto e unless e already carries one,
// honoring the "insert must not silently drop subscribers" invariant.
func (g *WriteGuard) Put(e *Entry) {
	if g.entry != nil && e.Events == nil {
		e.Events = g.entry.Events
	}
	g.shard.store(g.key, e)
	g.entry = e
}

// Delete removes the entry from its shard. Returns the removed entry (or
// nil if none existed) so the caller can run teardown (event firing,
// expiration-index untracking) after releasing the lock.
func (g *WriteGuard) Delete() *Entry {
	removed := g.entry
	if removed != nil {
		g.shard.delete(g.key)
		g.entry = nil
	}
	return removed
}

func (g *WriteGuard) Release() { g.mu.Unlock() }
