// Package eviction implements the approximate LRU/LFU/TTL/random eviction
// engine described in §4.4: a periodic used-memory sampler plus reactive
// eviction triggered by reserve() when a write would exceed maxmemory.
// Candidates are drawn by sampling, never by maintaining a global ordered
// list, so a single eviction costs O(samples) regardless of key count.
package eviction

import (
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/emberkv/emberkv/keyspace"
	"github.com/emberkv/emberkv/logger"
)

var log = logger.For("eviction")

// ErrOOM is returned by Reserve when no candidate could be evicted to make
// room, or the policy is Noeviction.
var ErrOOM = errors.New("eviction: OOM command not allowed when used memory > 'maxmemory'")

// Policy enumerates the eight eviction policies §4.4 names.
type Policy string

const (
	VolatileLRU    Policy = "volatile-lru"
	AllkeysLRU     Policy = "allkeys-lru"
	VolatileLFU    Policy = "volatile-lfu"
	AllkeysLFU     Policy = "allkeys-lfu"
	VolatileRandom Policy = "volatile-random"
	AllkeysRandom  Policy = "allkeys-random"
	VolatileTTL    Policy = "volatile-ttl"
	Noeviction     Policy = "noeviction"
)

// Remover is the keyspace capability the engine needs to act on a chosen
// candidate.
type Remover interface {
	Remove(key string) (trackIDs []int64, existed bool)
	Sample(n int) []keyspace.Sampled
	UsedMemory() int64
}

// Engine holds the sampled used_memory figure and configured ceiling, and
// runs the reserve()/evict contract every writer must go through before
// installing or expanding an entry.
type Engine struct {
	ks Remover

	maxMemory   int64 // atomic; 0 = unlimited
	policy      int32 // atomic; index into policyTable
	samples     int32 // atomic

	cachedUsedMemory int64 // atomic; refreshed by the sampler, not every write

	stop chan struct{}
	done chan struct{}
}

var policyTable = []Policy{
	VolatileLRU, AllkeysLRU, VolatileLFU, AllkeysLFU,
	VolatileRandom, AllkeysRandom, VolatileTTL, Noeviction,
}

func policyIndex(p Policy) int32 {
	for i, q := range policyTable {
		if q == p {
			return int32(i)
		}
	}
	return int32(len(policyTable) - 1) // default to noeviction for unrecognised strings
}

// New constructs an eviction engine bound to ks with the given initial
// maxmemory (bytes, 0 = unlimited), policy, and maxmemory_samples_count.
func New(ks Remover, maxMemory int64, policy Policy, samples int) *Engine {
	e := &Engine{
		ks:      ks,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	atomic.StoreInt64(&e.maxMemory, maxMemory)
	atomic.StoreInt32(&e.policy, policyIndex(policy))
	atomic.StoreInt32(&e.samples, int32(samples))
	return e
}

func (e *Engine) SetMaxMemory(bytes int64) { atomic.StoreInt64(&e.maxMemory, bytes) }
func (e *Engine) MaxMemory() int64         { return atomic.LoadInt64(&e.maxMemory) }

func (e *Engine) SetPolicy(p Policy) { atomic.StoreInt32(&e.policy, policyIndex(p)) }
func (e *Engine) PolicyValue() Policy { return policyTable[atomic.LoadInt32(&e.policy)] }

func (e *Engine) SetSamples(n int) { atomic.StoreInt32(&e.samples, int32(n)) }

// Start launches the ~300ms used-memory sampler task. Per the concurrency
// model, it never holds a shard lock across its own iterations — each tick
// is a single atomic-backed read of the keyspace's running total.
func (e *Engine) Start() {
	go e.sampleLoop()
}

func (e *Engine) sampleLoop() {
	defer close(e.done)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			atomic.StoreInt64(&e.cachedUsedMemory, e.ks.UsedMemory())
		}
	}
}

func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

// UsedMemory returns the last-sampled memory figure.
func (e *Engine) UsedMemory() int64 { return atomic.LoadInt64(&e.cachedUsedMemory) }

// Reserve implements the write-path contract: if admitting bytes more
// memory would stay within maxmemory, it succeeds immediately. Otherwise it
// evicts one candidate at a time (per the configured policy) until the
// reservation fits or no candidate remains, in which case it returns
// ErrOOM.
func (e *Engine) Reserve(bytes int64) error {
	maxMem := atomic.LoadInt64(&e.maxMemory)
	if maxMem == 0 {
		return nil
	}

	for {
		used := atomic.LoadInt64(&e.cachedUsedMemory)
		if used+bytes <= maxMem {
			return nil
		}

		policy := e.PolicyValue()
		if policy == Noeviction {
			return ErrOOM
		}

		key, ok := e.pickCandidate(policy)
		if !ok {
			return ErrOOM
		}

		if _, existed := e.ks.Remove(key); existed {
			log.Debug("evicted key under memory pressure: " + key)
		}
		// Remove already adjusted ks's own accounting synchronously; read it
		// back directly rather than waiting on the next sampler tick, so a
		// burst of evictions under one Reserve call converges on the real
		// figure instead of an estimate.
		atomic.StoreInt64(&e.cachedUsedMemory, e.ks.UsedMemory())
	}
}

// pickCandidate draws maxmemory_samples random entries from the pool the
// policy restricts to (volatile-* limits to entries with a TTL), then picks
// the best eviction target within that sample.
func (e *Engine) pickCandidate(policy Policy) (string, bool) {
	n := int(atomic.LoadInt32(&e.samples))
	if n <= 0 {
		n = 5
	}

	pool := e.ks.Sample(n * 3) // over-sample since volatile-* filters the pool
	var candidates []keyspace.Sampled

	volatileOnly := policy == VolatileLRU || policy == VolatileLFU ||
		policy == VolatileRandom || policy == VolatileTTL

	for _, s := range pool {
		if volatileOnly && !s.Meta.IsVolatile() {
			continue
		}
		candidates = append(candidates, s)
		if len(candidates) >= n {
			break
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	switch policy {
	case VolatileRandom, AllkeysRandom:
		return candidates[rand.Intn(len(candidates))].Key, true

	case VolatileTTL:
		best := candidates[0]
		for _, c := range candidates[1:] {
			// Closest-to-expiring wins: smallest nonzero expire_at.
			if c.Meta.ExpireAt() < best.Meta.ExpireAt() {
				best = c
			}
		}
		return best.Key, true

	case VolatileLFU, AllkeysLFU:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Meta.AccessCounter() < best.Meta.AccessCounter() {
				best = c
			}
		}
		return best.Key, true

	default: // VolatileLRU, AllkeysLRU
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Meta.Atime() < best.Meta.Atime() {
				best = c
			}
		}
		return best.Key, true
	}
}
