package eventhub

import (
	"testing"
	"time"
)

func TestMayUpdateFiresAllWaiters(t *testing.T) {
	h := NewHub()

	ch1 := h.Await()
	ch2 := h.Await()

	h.FireMayUpdate()

	select {
	case <-ch1:
	case <-time.After(time.Second):
		t.Fatal("ch1 was not fired")
	}
	select {
	case <-ch2:
	case <-time.After(time.Second):
		t.Fatal("ch2 was not fired")
	}
}

func TestTrackFiresOnceAndEmpties(t *testing.T) {
	h := NewHub()
	h.TrackFrom(1)
	h.TrackFrom(2)

	ids := h.FireTrack()
	if len(ids) != 2 {
		t.Fatalf("expected 2 tracked ids, got %d", len(ids))
	}

	if ids2 := h.FireTrack(); ids2 != nil {
		t.Fatalf("expected empty track set after fire, got %v", ids2)
	}
}

func TestIntentionLockFIFOHandoff(t *testing.T) {
	h := NewHub()
	h.Install(100)

	waitA := h.Enqueue(200)
	waitB := h.Enqueue(300)

	next, ok := h.Handoff()
	if !ok || next != 200 {
		t.Fatalf("expected handoff to handler 200, got %d ok=%v", next, ok)
	}
	select {
	case <-waitA:
	default:
		t.Fatal("waiter A should have been woken")
	}
	select {
	case <-waitB:
		t.Fatal("waiter B should not have been woken yet")
	default:
	}

	next, ok = h.Handoff()
	if !ok || next != 300 {
		t.Fatalf("expected handoff to handler 300, got %d ok=%v", next, ok)
	}
	select {
	case <-waitB:
	default:
		t.Fatal("waiter B should have been woken")
	}

	if _, ok := h.Handoff(); ok {
		t.Fatal("expected no more waiters")
	}
	if h.Installed() {
		t.Fatal("lock should be cleared after final handoff with no waiters")
	}
}

func TestRevokeWakesAllWaitersWithKeyGone(t *testing.T) {
	h := NewHub()
	h.Install(1)
	w1 := h.Enqueue(2)
	w2 := h.Enqueue(3)

	h.Revoke()

	select {
	case <-w1:
	default:
		t.Fatal("w1 should be closed on revoke")
	}
	select {
	case <-w2:
	default:
		t.Fatal("w2 should be closed on revoke")
	}
	if h.Installed() {
		t.Fatal("lock should be cleared after revoke")
	}
}

func TestRemoveWaiterDoesNotWake(t *testing.T) {
	h := NewHub()
	h.Install(1)
	w := h.Enqueue(2)

	h.RemoveWaiter(2)

	select {
	case <-w:
		t.Fatal("removed waiter should not be woken")
	default:
	}
}
