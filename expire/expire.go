// Package expire implements the expiration index described in §4.3: a
// skip-list ordering entries by absolute expiry timestamp so "everything
// due by now" can be drained cheaply, plus the background sweep worker that
// reclaims keys the read/write path hasn't lazily evicted yet.
package expire

import (
	"sync"
	"time"

	"github.com/emberkv/emberkv/keyspace"
	"github.com/emberkv/emberkv/logger"
)

var log = logger.For("expire")

// Remover is the subset of keyspace.KeySpace the sweeper needs: deleting a
// key and sampling random keys for the secondary probe.
type Remover interface {
	Remove(key string) (trackIDs []int64, existed bool)
	Sample(n int) []keyspace.Sampled
}

// Index is the expiration side-index. It satisfies keyspace.ExpirationNotifier
// so the KeySpace can keep it informed of TTL changes without depending on
// this package.
type Index struct {
	mu         sync.Mutex
	sl         *skipList
	keyExpire  map[string]int64

	ks            Remover
	sampleCount   int
	checkInterval time.Duration

	stop chan struct{}
	done chan struct{}
}

// New constructs an expiration index bound to ks, with the given background
// sweep interval and per-tick random-sample size (memory.expiration_evict.samples_count).
func New(ks Remover, checkInterval time.Duration, sampleCount int) *Index {
	return &Index{
		sl:            newSkipList(),
		keyExpire:     make(map[string]int64),
		ks:            ks,
		sampleCount:   sampleCount,
		checkInterval: checkInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Track registers key as expiring at expireAtMillis. A zero value is a
// no-op (never-expiring entries are never tracked).
func (idx *Index) Track(key string, expireAtMillis int64) {
	if expireAtMillis == 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.keyExpire[key]; ok {
		idx.sl.remove(old, key)
	}
	idx.keyExpire[key] = expireAtMillis
	idx.sl.insert(expireAtMillis, key)
}

// Untrack removes key from the index, used on delete or TTL clear
// (PERSIST).
func (idx *Index) Untrack(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	old, ok := idx.keyExpire[key]
	if !ok {
		return
	}
	idx.sl.remove(old, key)
	delete(idx.keyExpire, key)
}

// Contains reports whether key is currently tracked (for tests and TTL
// introspection).
func (idx *Index) Contains(key string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.keyExpire[key]
	return ok
}

// Start launches the background sweep goroutine. It is a "best effort"
// reclaimer: it never holds idx.mu or any keyspace shard lock across a
// yield, and removal itself goes through ks.Remove, which takes its own
// locks independently per key.
func (idx *Index) Start() {
	go idx.loop()
}

// Stop halts the sweep goroutine and waits for it to exit.
func (idx *Index) Stop() {
	close(idx.stop)
	<-idx.done
}

func (idx *Index) loop() {
	defer close(idx.done)
	ticker := time.NewTicker(idx.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-idx.stop:
			return
		case <-ticker.C:
			idx.Sweep(time.Now().UnixMilli())
		}
	}
}

// Sweep performs one tick of §4.3's two-step reclamation: drain the
// skip-list prefix <= now, then sample random keys across shards as a
// secondary probe for entries whose TTL this index doesn't know about yet
// (e.g. raced with a Track call) or that the primary drain missed.
func (idx *Index) Sweep(nowMillis int64) (reclaimed int) {
	for {
		idx.mu.Lock()
		front, ok := idx.sl.peekFrontExpireAt()
		if !ok || front > nowMillis {
			idx.mu.Unlock()
			break
		}
		node := idx.sl.popFront()
		var dueKeys []string
		for k := range node.keys {
			dueKeys = append(dueKeys, k)
			delete(idx.keyExpire, k)
		}
		idx.mu.Unlock()

		for _, k := range dueKeys {
			if _, existed := idx.ks.Remove(k); existed {
				reclaimed++
			}
		}
	}

	for _, s := range idx.ks.Sample(idx.sampleCount) {
		if s.Meta.ExpireAt() != 0 && s.Meta.ExpireAt() <= nowMillis {
			if _, existed := idx.ks.Remove(s.Key); existed {
				idx.Untrack(s.Key)
				reclaimed++
			}
		}
	}

	if reclaimed > 0 {
		log.Debug("expiration sweep reclaimed keys")
	}
	return reclaimed
}
