package expire

import (
	"testing"
	"time"

	"github.com/emberkv/emberkv/keyspace"
)

func TestTrackUntrackRoundtrip(t *testing.T) {
	ks := keyspace.New(4)
	idx := New(ks, time.Hour, 0)

	idx.Track("k", 1000)
	if !idx.Contains("k") {
		t.Fatal("expected key to be tracked")
	}
	idx.Untrack("k")
	if idx.Contains("k") {
		t.Fatal("expected key to no longer be tracked")
	}
}

func TestSweepDrainsDuePrefix(t *testing.T) {
	ks := keyspace.New(4)
	ks.SetExpirationNotifier(nil)

	ks.Insert("due", keyspace.ObjectValue{Kind: keyspace.KindString, Str: keyspace.NewStringValue([]byte("v"))}, 100, 1)
	ks.Insert("future", keyspace.ObjectValue{Kind: keyspace.KindString, Str: keyspace.NewStringValue([]byte("v"))}, 99999999999999, 1)

	idx := New(ks, time.Hour, 0)
	idx.Track("due", 100)
	idx.Track("future", 99999999999999)

	reclaimed := idx.Sweep(200)
	if reclaimed != 1 {
		t.Fatalf("expected to reclaim exactly 1 due key, got %d", reclaimed)
	}
	if idx.Contains("due") {
		t.Error("expected due key untracked after sweep")
	}
	if !idx.Contains("future") {
		t.Error("expected future key still tracked")
	}
	if n := ks.DBSize(); n != 1 {
		t.Fatalf("expected 1 remaining key, got %d", n)
	}
}

func TestMultipleKeysSameExpiry(t *testing.T) {
	ks := keyspace.New(4)
	idx := New(ks, time.Hour, 0)

	idx.Track("a", 500)
	idx.Track("b", 500)

	ks.Insert("a", keyspace.ObjectValue{Kind: keyspace.KindString, Str: keyspace.NewStringValue([]byte("v"))}, 500, 1)
	ks.Insert("b", keyspace.ObjectValue{Kind: keyspace.KindString, Str: keyspace.NewStringValue([]byte("v"))}, 500, 1)

	reclaimed := idx.Sweep(600)
	if reclaimed != 2 {
		t.Fatalf("expected both colliding keys reclaimed, got %d", reclaimed)
	}
}

func TestStartStopIsClean(t *testing.T) {
	ks := keyspace.New(4)
	idx := New(ks, 10*time.Millisecond, 5)
	idx.Start()
	time.Sleep(30 * time.Millisecond)
	idx.Stop()
}
