package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLookupSimpleCommand(t *testing.T) {
	cmd, rest, ok := Lookup([]string{"GET", "foo"})
	if !ok {
		t.Fatal("expected GET to resolve")
	}
	if cmd.Name != "GET" || len(rest) != 1 || rest[0] != "foo" {
		t.Fatalf("unexpected resolution: %+v rest=%v", cmd, rest)
	}
}

func TestLookupTwoWordSubcommand(t *testing.T) {
	cmd, rest, ok := Lookup([]string{"CONFIG", "SET", "server.port", "7000"})
	if !ok {
		t.Fatal("expected CONFIG SET to resolve")
	}
	if cmd.Name != "CONFIG SET" || len(rest) != 2 {
		t.Fatalf("unexpected resolution: %+v rest=%v", cmd, rest)
	}
}

func TestLookupUnknownCommand(t *testing.T) {
	if _, _, ok := Lookup([]string{"NOTACOMMAND"}); ok {
		t.Fatal("expected unknown command to fail lookup")
	}
}

func TestCheckArityExactAndVariadic(t *testing.T) {
	get, _, _ := Lookup([]string{"GET", "k"})
	if !get.CheckArity(2) || get.CheckArity(3) {
		t.Fatal("GET should require exactly 2 args")
	}

	mset, _, _ := Lookup([]string{"MSET", "a", "1", "b", "2"})
	if !mset.CheckArity(5) || mset.CheckArity(2) {
		t.Fatal("MSET should require at least 3 args")
	}
}

func TestKeysExtractsVariadicKeyList(t *testing.T) {
	cmd, rest, _ := Lookup([]string{"MGET", "a", "b", "c"})
	keys := cmd.Keys(rest)
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Fatalf("expected [a b c], got %v", keys)
	}
}

func TestKeysSteppedForMSet(t *testing.T) {
	cmd, rest, _ := Lookup([]string{"MSET", "a", "1", "b", "2"})
	keys := cmd.Keys(rest)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("expected [a b], got %v", keys)
	}
}

func TestErrFormatsKindPrefixedMessage(t *testing.T) {
	err := WrongType()
	if err.Error()[:9] != "WRONGTYPE" {
		t.Fatalf("expected WRONGTYPE prefix, got %q", err.Error())
	}
}

func TestPoolRunsSubmittedWork(t *testing.T) {
	pool, err := NewPool(4)
	if err != nil {
		t.Fatalf("unexpected error creating pool: %v", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	var counter int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&counter, 1)
		}); err != nil {
			wg.Done()
			t.Fatalf("submit failed: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pooled work")
	}

	if atomic.LoadInt64(&counter) != 10 {
		t.Fatalf("expected 10 completions, got %d", counter)
	}
}
