// Package keyspace implements the sharded, concurrent key-value map at the
// center of the store: typed objects addressed by key, each carrying its
// own access metadata and event hub.
package keyspace

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/emberkv/emberkv/eventhub"
)

// Kind identifies which variant an ObjectValue currently holds.
type Kind int

const (
	KindString Kind = iota
	KindList
	KindHash
	KindSet
	KindSortedSet
	KindChannelSub
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindHash:
		return "hash"
	case KindSet:
		return "set"
	case KindSortedSet:
		return "zset"
	case KindChannelSub:
		return "channel"
	default:
		return "unknown"
	}
}

// ObjectValue is the tagged union over every value kind the store supports.
// Only the field matching Kind is meaningful; the rest are nil.
type ObjectValue struct {
	Kind Kind

	Str   *StringValue
	List  *ListValue
	Hash  *HashValue
	Set   *SetValue
	ZSet  *SortedSetValue
}

// StringValue is an immutable byte buffer, shared by pointer. Int holds the
// base-10 integer fast path when Bytes parses as one in range; IsInt tells
// callers (INCR/DECR) whether the fast path applies without reparsing.
type StringValue struct {
	Bytes []byte
	IsInt bool
	Int   int64
}

// NewStringValue builds a StringValue, populating the integer fast path
// when b parses cleanly as a base-10 int64.
func NewStringValue(b []byte) *StringValue {
	sv := &StringValue{Bytes: b}
	if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
		sv.IsInt = true
		sv.Int = n
	}
	return sv
}

// ListValue is a double-ended sequence backed by one slice. PopLeft and
// PopRight are O(1) and PushRight is amortized O(1); PushLeft copies the
// whole slice and is O(n). Positional access (LINDEX/LRANGE) is O(n).
type ListValue struct {
	items [][]byte
}

func NewListValue() *ListValue { return &ListValue{} }

func (l *ListValue) Len() int { return len(l.items) }

func (l *ListValue) PushLeft(v []byte)  { l.items = append([][]byte{v}, l.items...) }
func (l *ListValue) PushRight(v []byte) { l.items = append(l.items, v) }

func (l *ListValue) PopLeft() ([]byte, bool) {
	if len(l.items) == 0 {
		return nil, false
	}
	v := l.items[0]
	l.items = l.items[1:]
	return v, true
}

func (l *ListValue) PopRight() ([]byte, bool) {
	if len(l.items) == 0 {
		return nil, false
	}
	v := l.items[len(l.items)-1]
	l.items = l.items[:len(l.items)-1]
	return v, true
}

// Range returns a copy of items[start:stop] clamped to bounds, Redis-style
// negative indices resolved against Len() by the caller before invocation.
func (l *ListValue) Range(start, stop int) [][]byte {
	n := len(l.items)
	if n == 0 {
		return nil
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil
	}
	out := make([][]byte, stop-start+1)
	copy(out, l.items[start:stop+1])
	return out
}

// HashValue maps field names to values; insertion order is not preserved.
type HashValue struct {
	fields map[string][]byte
}

func NewHashValue() *HashValue { return &HashValue{fields: make(map[string][]byte)} }

func (h *HashValue) Set(field string, v []byte) (isNew bool) {
	_, existed := h.fields[field]
	h.fields[field] = v
	return !existed
}

func (h *HashValue) Get(field string) ([]byte, bool) {
	v, ok := h.fields[field]
	return v, ok
}

func (h *HashValue) Del(field string) bool {
	if _, ok := h.fields[field]; !ok {
		return false
	}
	delete(h.fields, field)
	return true
}

func (h *HashValue) Len() int { return len(h.fields) }

func (h *HashValue) All() map[string][]byte { return h.fields }

// SetValue is an unordered collection of distinct members.
type SetValue struct {
	members map[string]struct{}
}

func NewSetValue() *SetValue { return &SetValue{members: make(map[string]struct{})} }

func (s *SetValue) Add(member string) (isNew bool) {
	_, existed := s.members[member]
	s.members[member] = struct{}{}
	return !existed
}

func (s *SetValue) Remove(member string) bool {
	if _, ok := s.members[member]; !ok {
		return false
	}
	delete(s.members, member)
	return true
}

func (s *SetValue) Len() int { return len(s.members) }

// SortedSetValue associates members with a float64 score; kept as a plain
// slice re-sorted on write since the core command surface exercising it
// (outside Non-goals) is narrow.
type SortedSetValue struct {
	entries []zEntry
	index   map[string]int
}

type zEntry struct {
	member string
	score  float64
}

func NewSortedSetValue() *SortedSetValue {
	return &SortedSetValue{index: make(map[string]int)}
}

func (z *SortedSetValue) Len() int { return len(z.entries) }

// ObjectMeta packs the frequently-mutated bookkeeping fields (atime,
// access_counter, lock_hint) into a single 64-bit word updated with atomic
// ops so readers never take a lock to sample recency. expire_at needs full
// millisecond precision and is tracked alongside rather than inside the
// packed word, since 20+12+1 bits leaves no room for it.
type ObjectMeta struct {
	expireAt int64  // absolute ms since epoch, 0 = never; written under shard write lock
	packed   uint64 // atime(20) | access_counter(12) | lock_hint(1)
}

const (
	atimeBits   = 20
	counterBits = 12

	atimeMask   = (uint64(1) << atimeBits) - 1
	counterMask = (uint64(1) << counterBits) - 1

	counterShift = atimeBits
	lockHintBit  = uint64(1) << (atimeBits + counterBits)
)

// lruClock is the process-wide one-minute coarse clock referenced by every
// ObjectMeta's atime field; it is the one piece of global mutable state the
// design notes permit.
var lruClock uint32

// StartLRUClock advances lruClock once per minute until stop is closed. Call
// once at process startup.
func StartLRUClock(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				atomic.AddUint32(&lruClock, 1)
			}
		}
	}()
}

func currentAtime() uint64 {
	return uint64(atomic.LoadUint32(&lruClock)) & atimeMask
}

// NewObjectMeta builds metadata for a freshly created entry.
func NewObjectMeta(expireAtMillis int64) ObjectMeta {
	return ObjectMeta{
		expireAt: expireAtMillis,
		packed:   currentAtime(),
	}
}

func (m *ObjectMeta) ExpireAt() int64 { return atomic.LoadInt64(&m.expireAt) }

func (m *ObjectMeta) SetExpireAt(ms int64) { atomic.StoreInt64(&m.expireAt, ms) }

func (m *ObjectMeta) IsVolatile() bool { return m.ExpireAt() != 0 }

func (m *ObjectMeta) Atime() uint64 {
	return atomic.LoadUint64(&m.packed) & atimeMask
}

func (m *ObjectMeta) AccessCounter() uint64 {
	return (atomic.LoadUint64(&m.packed) >> counterShift) & counterMask
}

func (m *ObjectMeta) LockHint() bool {
	return atomic.LoadUint64(&m.packed)&lockHintBit != 0
}

func (m *ObjectMeta) SetLockHint(set bool) {
	for {
		old := atomic.LoadUint64(&m.packed)
		var next uint64
		if set {
			next = old | lockHintBit
		} else {
			next = old &^ lockHintBit
		}
		if atomic.CompareAndSwapUint64(&m.packed, old, next) {
			return
		}
	}
}

// Touch refreshes atime to the current coarse clock and, with probability
// 1/(counter/2 + 1), bumps access_counter — the LFU logarithmic counter from
// the design notes. Must be called only while the caller holds the entry's
// shard lock (for writers) per the documented invariant; readers may call it
// too since the update is a single atomic CAS loop and tolerates races.
func (m *ObjectMeta) Touch(rnd func() float64) {
	for {
		old := atomic.LoadUint64(&m.packed)
		counter := (old >> counterShift) & counterMask
		next := currentAtime()

		p := 1.0 / (float64(counter)/2 + 1)
		if counter < counterMask && rnd() < p {
			counter++
		}

		packed := next | (counter << counterShift) | (old & lockHintBit)
		if atomic.CompareAndSwapUint64(&m.packed, old, packed) {
			return
		}
	}
}

// Entry is one occupant of a Shard's hash table.
type Entry struct {
	Key   []byte
	Hash  uint64
	Value ObjectValue
	Meta  ObjectMeta

	// Events is lazily allocated on first subscriber registration; nil is
	// the cheap, common "nobody is watching this key" state.
	Events *eventhub.Hub
}

// EventsOrCreate returns e.Events, allocating it under the provided shard
// write lock if this is the first subscriber touching the entry.
func (e *Entry) EventsOrCreate() *eventhub.Hub {
	if e.Events == nil {
		e.Events = eventhub.NewHub()
	}
	return e.Events
}
