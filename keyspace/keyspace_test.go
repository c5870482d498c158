package keyspace

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestInsertAndGetRead(t *testing.T) {
	ks := New(4)
	ks.Insert("foo", ObjectValue{Kind: KindString, Str: NewStringValue([]byte("bar"))}, 0, 3)

	g := ks.GetRead("foo")
	if g == nil {
		t.Fatal("expected entry to be found")
	}
	defer g.Release()

	if string(g.Entry().Value.Str.Bytes) != "bar" {
		t.Errorf("expected value bar, got %s", g.Entry().Value.Str.Bytes)
	}
}

func TestGetReadMissingKey(t *testing.T) {
	ks := New(4)
	if g := ks.GetRead("nope"); g != nil {
		t.Error("expected nil guard for missing key")
	}
}

func TestInsertPreservesEventHubOnOverwrite(t *testing.T) {
	ks := New(4)
	ks.Insert("k", ObjectValue{Kind: KindString, Str: NewStringValue([]byte("1"))}, 0, 1)

	g := ks.GetWrite("k")
	hub := g.Entry().EventsOrCreate()
	ch := hub.Await()
	g.Release()

	ks.Insert("k", ObjectValue{Kind: KindString, Str: NewStringValue([]byte("2"))}, 0, 1)

	g2 := ks.GetRead("k")
	if g2.Entry().Events == nil {
		t.Fatal("expected EventHub to survive overwrite")
	}
	g2.Release()

	g2.Entry().Events.FireMayUpdate()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected waiter registered before overwrite to still fire")
	}
}

func TestLazyExpirationOnRead(t *testing.T) {
	ks := New(4)
	ks.Insert("k", ObjectValue{Kind: KindString, Str: NewStringValue([]byte("v"))}, 1, 1) // already expired

	if g := ks.GetRead("k"); g != nil {
		t.Fatal("expected expired key to read as missing")
	}
	if n := ks.DBSize(); n != 0 {
		t.Fatalf("expected DBSize 0 after lazy expiration, got %d", n)
	}
}

func TestRemoveFiresTrackers(t *testing.T) {
	ks := New(4)
	ks.Insert("k", ObjectValue{Kind: KindString, Str: NewStringValue([]byte("v"))}, 0, 1)

	g := ks.GetWrite("k")
	hub := g.Entry().EventsOrCreate()
	hub.TrackFrom(42)
	g.Release()

	ids, existed := ks.Remove("k")
	if !existed {
		t.Fatal("expected key to have existed")
	}
	if len(ids) != 1 || ids[0] != 42 {
		t.Fatalf("expected tracker 42 to fire, got %v", ids)
	}
}

func TestFlushAllClearsEverything(t *testing.T) {
	ks := New(4)
	for i := 0; i < 50; i++ {
		ks.Insert(fmt.Sprintf("k%d", i), ObjectValue{Kind: KindString, Str: NewStringValue([]byte("v"))}, 0, 1)
	}
	ks.FlushAll()
	if n := ks.DBSize(); n != 0 {
		t.Fatalf("expected DBSize 0 after FlushAll, got %d", n)
	}
	if ks.UsedMemory() != 0 {
		t.Fatalf("expected UsedMemory 0 after FlushAll, got %d", ks.UsedMemory())
	}
}

func TestScanVisitsEveryKeyExactlyOnce(t *testing.T) {
	ks := New(8)
	want := make(map[string]bool)
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%d", i)
		want[key] = true
		ks.Insert(key, ObjectValue{Kind: KindString, Str: NewStringValue([]byte("v"))}, 0, 1)
	}

	seen := make(map[string]int)
	cursor := uint64(0)
	for {
		var keys []string
		cursor, keys = ks.Scan(cursor, 16)
		for _, k := range keys {
			seen[k]++
		}
		if cursor == 0 {
			break
		}
	}

	if len(seen) != len(want) {
		t.Fatalf("expected to see %d keys, saw %d", len(want), len(seen))
	}
	for k, count := range seen {
		if count != 1 {
			t.Errorf("key %s visited %d times, want 1", k, count)
		}
		if !want[k] {
			t.Errorf("scan produced unexpected key %s", k)
		}
	}
}

func TestLockOrderIsDeterministicAndSorted(t *testing.T) {
	ks := New(16)
	order := ks.LockOrder([]string{"a", "b", "c", "a"})
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Fatalf("expected strictly ascending shard order, got %v", order)
		}
	}
}

func TestConcurrentInsertsAcrossShards(t *testing.T) {
	ks := New(16)
	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("g%d-k%d", g, i)
				ks.Insert(key, ObjectValue{Kind: KindString, Str: NewStringValue([]byte("v"))}, 0, 1)
			}
		}(g)
	}
	wg.Wait()

	if n := ks.DBSize(); n != 1000 {
		t.Fatalf("expected 1000 keys after concurrent inserts, got %d", n)
	}
}
