package eviction

import (
	"fmt"
	"testing"

	"github.com/emberkv/emberkv/keyspace"
)

func fillKeys(ks *keyspace.KeySpace, n int, size int64) {
	for i := 0; i < n; i++ {
		ks.Insert(fmt.Sprintf("k%d", i), keyspace.ObjectValue{
			Kind: keyspace.KindString,
			Str:  keyspace.NewStringValue(make([]byte, 0)),
		}, 0, size)
	}
}

func TestReserveSucceedsUnderLimit(t *testing.T) {
	ks := keyspace.New(4)
	e := New(ks, 1<<20, AllkeysLRU, 5)
	e.cachedUsedMemory = 100

	if err := e.Reserve(50); err != nil {
		t.Fatalf("expected reserve to succeed, got %v", err)
	}
}

func TestReserveUnlimitedWhenMaxMemoryZero(t *testing.T) {
	ks := keyspace.New(4)
	e := New(ks, 0, AllkeysLRU, 5)
	if err := e.Reserve(1 << 30); err != nil {
		t.Fatalf("expected unlimited maxmemory to always succeed, got %v", err)
	}
}

func TestReserveNoEvictionReturnsOOM(t *testing.T) {
	ks := keyspace.New(4)
	fillKeys(ks, 10, 100)

	e := New(ks, 500, Noeviction, 5)
	e.cachedUsedMemory = 1000

	if err := e.Reserve(100); err != ErrOOM {
		t.Fatalf("expected ErrOOM under noeviction policy, got %v", err)
	}
}

func TestReserveEvictsUnderAllkeysRandom(t *testing.T) {
	ks := keyspace.New(4)
	fillKeys(ks, 20, 100)

	e := New(ks, 1500, AllkeysRandom, 5)
	e.cachedUsedMemory = 2000

	if err := e.Reserve(100); err != nil {
		t.Fatalf("expected eviction to make room, got %v", err)
	}
	if n := ks.DBSize(); n >= 20 {
		t.Fatalf("expected at least one key evicted, still have %d", n)
	}
}

func TestPickCandidateVolatileRestrictsPool(t *testing.T) {
	ks := keyspace.New(4)
	for i := 0; i < 10; i++ {
		expire := int64(0)
		if i%2 == 0 {
			expire = 99999999999999
		}
		ks.Insert(fmt.Sprintf("k%d", i), keyspace.ObjectValue{
			Kind: keyspace.KindString,
			Str:  keyspace.NewStringValue([]byte("v")),
		}, expire, 1)
	}

	e := New(ks, 0, VolatileRandom, 20)
	key, ok := e.pickCandidate(VolatileRandom)
	if !ok {
		t.Fatal("expected a volatile candidate to be found")
	}

	g := ks.GetRead(key)
	if g == nil {
		t.Fatal("candidate key vanished")
	}
	defer g.Release()
	if !g.Entry().Meta.IsVolatile() {
		t.Errorf("expected volatile-random to only pick keys with a TTL, picked %s", key)
	}
}
