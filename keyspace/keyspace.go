package keyspace

import (
	"hash/maphash"
	"math/bits"
	"math/rand"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/emberkv/emberkv/logger"
)

var log = logger.For("keyspace")

// ExpirationNotifier lets the KeySpace tell the expiration index about
// entries that gain or lose a TTL, without keyspace importing expire
// (expire imports keyspace to delete expired keys, not the other way
// around).
type ExpirationNotifier interface {
	Track(key string, expireAtMillis int64)
	Untrack(key string)
}

// KeySpace is the composition of N shards providing the public map API and
// cross-shard scanning described in §4.1. Shard count defaults to a power
// of two at least equal to GOMAXPROCS so that shard index = top bits of the
// key's 64-bit hash.
type KeySpace struct {
	shards    []*Shard
	shardBits uint

	seed maphash.Seed

	expireNotifier ExpirationNotifier
	usedMemory     int64 // atomic; approximate byte accounting for eviction.reserve
}

// New creates a KeySpace with numShards rounded up to the next power of two;
// a numShards below 1 selects GOMAXPROCS.
func New(numShards int) *KeySpace {
	if numShards < 1 {
		numShards = runtime.GOMAXPROCS(0)
	}
	bits := shardBitsFor(numShards)
	n := 1 << bits
	ks := &KeySpace{
		shards:    make([]*Shard, n),
		shardBits: bits,
		seed:      maphash.MakeSeed(),
	}
	for i := range ks.shards {
		ks.shards[i] = newShard()
	}
	return ks
}

func shardBitsFor(n int) uint {
	if n < 1 {
		n = 1
	}
	b := uint(0)
	for (1 << b) < n {
		b++
	}
	return b
}

// SetExpirationNotifier wires the expiration index; called once at startup.
func (ks *KeySpace) SetExpirationNotifier(n ExpirationNotifier) {
	ks.expireNotifier = n
}

// NumShards returns the shard count (always a power of two).
func (ks *KeySpace) NumShards() int { return len(ks.shards) }

// UsedMemory returns the current approximate byte accounting, read via an
// atomic load by the eviction engine's sampler and reserve() path.
func (ks *KeySpace) UsedMemory() int64 { return atomic.LoadInt64(&ks.usedMemory) }

func (ks *KeySpace) addUsedMemory(delta int64) {
	atomic.AddInt64(&ks.usedMemory, delta)
}

// AdjustUsedMemory applies delta to the tracked byte accounting directly.
// Insert and removeLocked already account for themselves; this is for
// callers that grow or shrink an entry in place via WriteGuard.Put/Delete
// (LPUSH/RPUSH/LPOP/HSET/HDEL/INCR/APPEND) and must credit or debit the
// difference themselves once the mutation is applied.
func (ks *KeySpace) AdjustUsedMemory(delta int64) {
	ks.addUsedMemory(delta)
}

// EntrySize returns e's approximate accounted byte size, or 0 for a nil
// entry — the same estimate Insert/removeLocked use, exposed so write paths
// that mutate an entry in place can diff before/after size themselves.
func EntrySize(e *Entry) int64 {
	if e == nil {
		return 0
	}
	return approxEntrySize(e)
}

// hashKey computes the sticky 64-bit hash used both for shard selection and
// stored beside the entry to skip rehashing on comparisons.
func (ks *KeySpace) hashKey(key string) uint64 {
	return maphash.String(ks.seed, key)
}

func (ks *KeySpace) shardFor(hash uint64) *Shard {
	idx := hash >> (64 - ks.shardBits)
	return ks.shards[idx]
}

func (ks *KeySpace) shardIndexFor(hash uint64) int {
	return int(hash >> (64 - ks.shardBits))
}

// nowMillis is the process's view of wall-clock time in epoch milliseconds.
func nowMillis() int64 { return time.Now().UnixMilli() }

// GetRead returns a ReadGuard pinning key's entry for shared access, or nil
// if the key is absent or has lazily expired. On lazy expiration the entry
// is removed and torn down exactly as an explicit DEL would.
func (ks *KeySpace) GetRead(key string) *ReadGuard {
	hash := ks.hashKey(key)
	shard := ks.shardFor(hash)

	shard.mu.RLock()
	e := shard.lookup(key)
	if e == nil {
		shard.mu.RUnlock()
		return nil
	}
	if expireAt := e.Meta.ExpireAt(); expireAt != 0 && expireAt <= nowMillis() {
		shard.mu.RUnlock()
		ks.expireLazily(key)
		return nil
	}
	return &ReadGuard{mu: &shard.mu, entry: e}
}

// GetWrite returns a WriteGuard pinning key's shard for exclusive access.
// Entry() is nil if the key does not exist (or had lazily expired), letting
// callers decide whether to Put a fresh entry or treat this as a miss.
func (ks *KeySpace) GetWrite(key string) *WriteGuard {
	hash := ks.hashKey(key)
	shard := ks.shardFor(hash)

	shard.mu.Lock()
	e := shard.lookup(key)
	if e != nil {
		if expireAt := e.Meta.ExpireAt(); expireAt != 0 && expireAt <= nowMillis() {
			ks.removeLocked(shard, key, e)
			e = nil
		}
	}
	return &WriteGuard{mu: &shard.mu, shard: shard, entry: e, key: key}
}

// Insert is a convenience wrapper for the common "build the whole entry,
// install it" path used by SET. It preserves an existing EventHub
// per the KeySpace invariant and updates the expiration index and memory
// accounting. size is accepted for caller compatibility but the credit is
// always computed from the built entry's own approxEntrySize, matching
// removeLocked's debit.
func (ks *KeySpace) Insert(key string, value ObjectValue, expireAtMillis int64, size int64) {
	hash := ks.hashKey(key)
	g := ks.GetWrite(key)
	defer g.Release()

	var oldSize int64
	var oldExpire int64
	if g.entry != nil {
		oldSize = approxEntrySize(g.entry)
		oldExpire = g.entry.Meta.ExpireAt()
	}

	e := &Entry{
		Key:   []byte(key),
		Hash:  hash,
		Value: value,
		Meta:  NewObjectMeta(expireAtMillis),
	}
	g.Put(e)

	// Credit by the entry's own approxEntrySize rather than the size hint
	// callers pass in, so growth here stays symmetric with removeLocked's
	// debit (also approxEntrySize) instead of drifting out of sync with the
	// same accounting eviction's Reserve and Sample both rely on.
	ks.addUsedMemory(approxEntrySize(e) - oldSize)

	if ks.expireNotifier != nil {
		if oldExpire != 0 && oldExpire != expireAtMillis {
			ks.expireNotifier.Untrack(key)
		}
		if expireAtMillis != 0 {
			ks.expireNotifier.Track(key, expireAtMillis)
		}
	}
}

// SetExpire updates key's TTL in place (EXPIRE/PERSIST, expireAtMillis == 0
// clears it), notifying the expiration index the same way Insert does.
// Reports whether key existed.
func (ks *KeySpace) SetExpire(key string, expireAtMillis int64) bool {
	g := ks.GetWrite(key)
	defer g.Release()
	if g.entry == nil {
		return false
	}
	oldExpire := g.entry.Meta.ExpireAt()
	g.entry.Meta.SetExpireAt(expireAtMillis)

	if ks.expireNotifier != nil {
		if oldExpire != 0 && oldExpire != expireAtMillis {
			ks.expireNotifier.Untrack(key)
		}
		if expireAtMillis != 0 {
			ks.expireNotifier.Track(key, expireAtMillis)
		}
	}
	return true
}

// Remove deletes key, running full entry teardown (IntentionLock revoke,
// MayUpdate/Track firing, expiration-index untracking). Returns the
// drained Track connection ids so the caller (handler/dispatch) can deliver
// invalidation pushes, and whether the key existed.
func (ks *KeySpace) Remove(key string) (trackIDs []int64, existed bool) {
	hash := ks.hashKey(key)
	shard := ks.shardFor(hash)

	shard.mu.Lock()
	e := shard.lookup(key)
	if e == nil {
		shard.mu.Unlock()
		return nil, false
	}
	ks.removeLocked(shard, key, e)
	shard.mu.Unlock()

	if e.Events != nil {
		trackIDs = e.Events.Teardown()
	}
	if ks.expireNotifier != nil && e.Meta.ExpireAt() != 0 {
		ks.expireNotifier.Untrack(key)
	}
	return trackIDs, true
}

// removeLocked deletes e from shard (already locked) and adjusts memory
// accounting. Event teardown and expiration-index untracking happen outside
// the lock by the caller — shard locks never stay held across teardown,
// which itself may touch other connections' channels.
func (ks *KeySpace) removeLocked(shard *Shard, key string, e *Entry) {
	shard.delete(key)
	ks.addUsedMemory(-approxEntrySize(e))
}

// expireLazily is invoked from the read path when an already-RLock'd lookup
// observes a stale entry: it re-acquires the shard exclusively to perform
// the actual removal (the read path cannot upgrade its RLock).
func (ks *KeySpace) expireLazily(key string) {
	if _, existed := ks.Remove(key); existed {
		log.Debug("lazy expiration on read path: " + key)
	}
}

// DBSize returns the total live entry count across all shards. Expired-but-
// not-yet-swept entries are still counted here (they are only removed on
// access or sweep), matching real Redis DBSIZE semantics.
func (ks *KeySpace) DBSize() int {
	total := 0
	for _, s := range ks.shards {
		s.mu.RLock()
		total += s.size()
		s.mu.RUnlock()
	}
	return total
}

// FlushAll removes every key in every shard, tearing down events for each.
// Used by FLUSHDB.
func (ks *KeySpace) FlushAll() {
	for _, s := range ks.shards {
		s.mu.Lock()
		entries := s.entries
		s.entries = make(map[string]*Entry)
		s.mu.Unlock()

		for key, e := range entries {
			if e.Events != nil {
				e.Events.Teardown()
			}
			if ks.expireNotifier != nil && e.Meta.ExpireAt() != 0 {
				ks.expireNotifier.Untrack(key)
			}
		}
	}
	atomic.StoreInt64(&ks.usedMemory, 0)
}

// EnsureEntry returns a WriteGuard whose Entry is always non-nil, creating
// an empty placeholder (no value, no expiry) if key does not yet exist.
// Used by the IntentionLock coordinator to hang a claim on a key a
// transaction declares before it has assigned anything to it.
func (ks *KeySpace) EnsureEntry(key string) *WriteGuard {
	g := ks.GetWrite(key)
	if g.entry == nil {
		e := &Entry{Key: []byte(key), Hash: ks.hashKey(key), Meta: NewObjectMeta(0)}
		g.Put(e)
	}
	return g
}

// SortKeysByShard deduplicates and orders keys by the shard index they hash
// to (ties broken lexicographically for determinism), the traversal order
// the IntentionLock coordinator uses when declaring a transaction's key set
// (§4.6) to match the ascending shard-lock-order convention elsewhere.
func (ks *KeySpace) SortKeysByShard(keys []string) []string {
	type kv struct {
		key   string
		shard int
	}
	seen := make(map[string]bool, len(keys))
	pairs := make([]kv, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		pairs = append(pairs, kv{key: k, shard: ks.shardIndexFor(ks.hashKey(k))})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].shard != pairs[j].shard {
			return pairs[i].shard < pairs[j].shard
		}
		return pairs[i].key < pairs[j].key
	})
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.key
	}
	return out
}

// LockOrder returns the shard indices the given keys hash to, deduplicated
// and sorted ascending — the order multi-key commands must acquire shard
// locks in to avoid deadlock (§4.1).
func (ks *KeySpace) LockOrder(keys []string) []int {
	seen := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		seen[ks.shardIndexFor(ks.hashKey(k))] = struct{}{}
	}
	order := make([]int, 0, len(seen))
	for idx := range seen {
		order = append(order, idx)
	}
	// Small N (at most len(keys)); insertion sort is plenty for a handful
	// of ints.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && order[j-1] > order[j]; j-- {
			order[j-1], order[j] = order[j], order[j-1]
		}
	}
	return order
}

// Sample returns up to n entries, for the eviction engine's candidate
// selection and the expiration sweep's random probe. It starts at a random
// shard and walks the shards in order, taking entries in map-iteration
// order. Entries are returned with their key, a copy of their meta and their
// approximate size, taken under a brief read lock per shard.
type Sampled struct {
	Key   string
	Meta  ObjectMeta
	Size  int64
}

func (ks *KeySpace) Sample(n int) []Sampled {
	if n <= 0 || len(ks.shards) == 0 {
		return nil
	}
	out := make([]Sampled, 0, n)
	start := rand.Intn(len(ks.shards))

	for i := 0; i < len(ks.shards) && len(out) < n; i++ {
		s := ks.shards[(start+i)%len(ks.shards)]
		s.mu.RLock()
		for key, e := range s.entries {
			out = append(out, Sampled{Key: key, Meta: e.Meta, Size: approxEntrySize(e)})
			if len(out) >= n {
				break
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// Scan implements SCAN's cursor: it visits every slot of every shard exactly
// once across a full iteration and is restartable because the cursor encodes
// (shard index, position within shard) rather than a live iterator. count
// caps the keys returned per call; a call returns fewer only when it reaches
// the end of the last shard.
//
// A bare position offset into a fresh `range s.entries` is not enough: Go
// re-randomizes a map's iteration start point on every separate `range`
// statement, so skip would discard a different set of keys than the
// previous call actually returned. Each shard visit instead snapshots its
// keys into a slice and sorts it, giving a deterministic order a position
// offset can safely resume against across calls, as long as the shard's key
// set hasn't changed between them (insertions/deletions mid-scan only ever
// affect that one shard's current page, matching real Redis's own weaker
// guarantee under concurrent mutation).
func (ks *KeySpace) Scan(cursor uint64, count int) (nextCursor uint64, keys []string) {
	if count <= 0 {
		count = 10
	}

	shardIdx := int(cursor >> 32)
	skip := int(cursor & 0xffffffff)

	for shardIdx < len(ks.shards) {
		s := ks.shards[shardIdx]
		s.mu.RLock()
		ordered := make([]string, 0, len(s.entries))
		for key := range s.entries {
			ordered = append(ordered, key)
		}
		sort.Strings(ordered)

		for skip < len(ordered) {
			keys = append(keys, ordered[skip])
			skip++
			if len(keys) >= count {
				s.mu.RUnlock()
				return encodeCursor(shardIdx, skip), keys
			}
		}
		s.mu.RUnlock()

		shardIdx++
		skip = 0
	}

	return 0, keys
}

func encodeCursor(shardIdx, pos int) uint64 {
	return uint64(shardIdx)<<32 | uint64(pos)
}

// ForEach visits every live entry for a point-in-time snapshot (RDB),
// taking each shard's read lock in turn rather than a single store-wide
// lock — consistency is per-entry, not global, matching the concurrency
// model's rule that no task holds a shard lock across a suspension point
// and that the snapshot may observe writes that land mid-iteration in a
// shard not yet visited. fn must not call back into the KeySpace.
func (ks *KeySpace) ForEach(fn func(key string, e *Entry)) {
	now := nowMillis()
	for _, s := range ks.shards {
		s.mu.RLock()
		for key, e := range s.entries {
			if e.Meta.ExpireAt() != 0 && e.Meta.ExpireAt() <= now {
				continue
			}
			fn(key, e)
		}
		s.mu.RUnlock()
	}
}

// reverseBits is kept for parity with the real reverse-bit cursor technique
// referenced in the design notes; the shard/position cursor encoding above
// does not use it, and nothing in the package calls it.
func reverseBits(x uint64, width uint) uint64 {
	return bits.Reverse64(x) >> (64 - width)
}

func approxEntrySize(e *Entry) int64 {
	size := int64(len(e.Key)) + 16 // key bytes + fixed entry overhead estimate
	switch e.Value.Kind {
	case KindString:
		if e.Value.Str != nil {
			size += int64(len(e.Value.Str.Bytes))
		}
	case KindList:
		if e.Value.List != nil {
			for _, it := range e.Value.List.items {
				size += int64(len(it))
			}
		}
	case KindHash:
		if e.Value.Hash != nil {
			for f, v := range e.Value.Hash.fields {
				size += int64(len(f) + len(v))
			}
		}
	case KindSet:
		if e.Value.Set != nil {
			for m := range e.Value.Set.members {
				size += int64(len(m))
			}
		}
	case KindSortedSet:
		if e.Value.ZSet != nil {
			for _, en := range e.Value.ZSet.entries {
				size += int64(len(en.member)) + 8
			}
		}
	}
	return size
}
