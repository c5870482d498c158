package pubsub

import "testing"

type fakeDeliverer struct {
	alive    bool
	received []Message
}

func (f *fakeDeliverer) Send(msg Message) bool {
	if !f.alive {
		return false
	}
	f.received = append(f.received, msg)
	return true
}

func TestPublishFanOutToExactSubscribers(t *testing.T) {
	b := New()
	d1 := &fakeDeliverer{alive: true}
	d2 := &fakeDeliverer{alive: true}
	d3 := &fakeDeliverer{alive: true}

	b.Subscribe("ch", 1, d1)
	b.Subscribe("ch", 2, d2)
	b.Subscribe("ch", 3, d3)

	n := b.Publish("ch", []byte("hello"))
	if n != 3 {
		t.Fatalf("expected 3 deliveries, got %d", n)
	}
	for i, d := range []*fakeDeliverer{d1, d2, d3} {
		if len(d.received) != 1 || string(d.received[0].Payload) != "hello" {
			t.Errorf("subscriber %d did not receive expected payload", i+1)
		}
	}
}

func TestPublishMatchesPatternSubscribers(t *testing.T) {
	b := New()
	d := &fakeDeliverer{alive: true}
	b.PSubscribe("news.*", 1, d)

	n := b.Publish("news.sports", []byte("goal"))
	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if d.received[0].Pattern != "news.*" {
		t.Errorf("expected pattern recorded, got %q", d.received[0].Pattern)
	}

	n2 := b.Publish("weather.rain", []byte("x"))
	if n2 != 0 {
		t.Fatalf("expected no match for unrelated channel, got %d", n2)
	}
}

func TestPublishPrunesDeadSubscribers(t *testing.T) {
	b := New()
	dead := &fakeDeliverer{alive: false}
	alive := &fakeDeliverer{alive: true}
	b.Subscribe("ch", 1, dead)
	b.Subscribe("ch", 2, alive)

	n := b.Publish("ch", []byte("x"))
	if n != 1 {
		t.Fatalf("expected 1 successful delivery, got %d", n)
	}

	n2 := b.Publish("ch", []byte("y"))
	if n2 != 1 {
		t.Fatalf("expected dead subscriber pruned by now, got %d deliveries", n2)
	}
}

func TestUnsubscribeAllTearsDownEverySubscription(t *testing.T) {
	b := New()
	d := &fakeDeliverer{alive: true}
	b.Subscribe("a", 1, d)
	b.Subscribe("b", 1, d)
	b.PSubscribe("c.*", 1, d)

	b.UnsubscribeAll(1)

	if n := b.Publish("a", []byte("x")); n != 0 {
		t.Errorf("expected no subscribers on a, got %d", n)
	}
	if n := b.Publish("c.x", []byte("x")); n != 0 {
		t.Errorf("expected no pattern subscribers, got %d", n)
	}
}
