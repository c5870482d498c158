package txlock

import (
	"testing"
	"time"

	"github.com/emberkv/emberkv/keyspace"
)

func TestBeginInstallsLockOnNewKeys(t *testing.T) {
	ks := keyspace.New(4)
	c := New(ks)

	_, _, ok := c.Begin(1, []string{"a", "b"})
	if !ok {
		t.Fatal("expected uncontended Begin to succeed")
	}

	g := ks.GetRead("a")
	if g == nil {
		t.Fatal("expected placeholder entry for declared key")
	}
	defer g.Release()
	target, has := g.Entry().Events.TargetHandler()
	if !has || target != 1 {
		t.Fatalf("expected key a locked by handler 1, got target=%d has=%v", target, has)
	}
}

func TestBeginConflictEnqueuesAndRollsBack(t *testing.T) {
	ks := keyspace.New(4)
	c := New(ks)

	_, _, ok := c.Begin(1, []string{"x", "y"})
	if !ok {
		t.Fatal("expected first Begin to succeed")
	}

	conflictKey, wait, ok := c.Begin(2, []string{"x", "y"})
	if ok {
		t.Fatal("expected second Begin to conflict")
	}
	if conflictKey != "x" && conflictKey != "y" {
		t.Fatalf("expected conflict on x or y, got %s", conflictKey)
	}
	if wait == nil {
		t.Fatal("expected a wait channel on conflict")
	}

	// The key that was NOT the conflict point should have been rolled back
	// to handler 1's original lock (not left dangling under handler 2).
	other := "y"
	if conflictKey == "y" {
		other = "x"
	}
	g := ks.GetRead(other)
	defer g.Release()
	target, _ := g.Entry().Events.TargetHandler()
	if target != 1 {
		t.Fatalf("expected rollback to leave handler 1's lock intact on %s, got target=%d", other, target)
	}
}

func TestCommitHandsOffToWaiter(t *testing.T) {
	ks := keyspace.New(4)
	c := New(ks)

	c.Begin(1, []string{"k"})
	wait, contended := c.AwaitTurn(2, "k")
	if !contended {
		t.Fatal("expected handler 2 to be contended by handler 1's lock")
	}

	c.Commit([]string{"k"})

	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("expected handler 2 to be woken on commit handoff")
	}

	g := ks.GetRead("k")
	defer g.Release()
	target, has := g.Entry().Events.TargetHandler()
	if !has || target != 2 {
		t.Fatalf("expected lock handed off to handler 2, got target=%d has=%v", target, has)
	}
}

func TestCommitClearsLockWhenNoWaiters(t *testing.T) {
	ks := keyspace.New(4)
	c := New(ks)

	c.Begin(1, []string{"k"})
	c.Commit([]string{"k"})

	g := ks.GetRead("k")
	defer g.Release()
	if g.Entry().Events.Installed() {
		t.Fatal("expected lock cleared after commit with no waiters")
	}
}

func TestReentrantBeginBySameHandlerIsNoop(t *testing.T) {
	ks := keyspace.New(4)
	c := New(ks)

	c.Begin(1, []string{"k"})
	_, _, ok := c.Begin(1, []string{"k"})
	if !ok {
		t.Fatal("expected same-handler re-declare to succeed without conflict")
	}
}
