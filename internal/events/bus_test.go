package events

import "testing"

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(EventItemDelivered)
	b := bus.Subscribe(EventItemDelivered)
	other := bus.Subscribe(EventItemFailed)

	if dropped := bus.Publish(EventItemDelivered, Payload{"id": "x"}); dropped != 0 {
		t.Fatalf("dropped = %d, want 0", dropped)
	}

	for _, sub := range []Subscriber{a, b} {
		select {
		case p := <-sub:
			if p["id"] != "x" {
				t.Errorf("payload = %v", p)
			}
		default:
			t.Error("subscriber did not receive event")
		}
	}
	select {
	case p := <-other:
		t.Errorf("unrelated subscriber received %v", p)
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	sub := bus.SubscribeBuffered(EventSweepStarted, 1)

	bus.Publish(EventSweepStarted, Payload{"n": 1})
	if dropped := bus.Publish(EventSweepStarted, Payload{"n": 2}); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if p := <-sub; p["n"] != 1 {
		t.Errorf("first payload = %v", p)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventSweepCompleted)
	bus.Unsubscribe(EventSweepCompleted, sub)

	if _, ok := <-sub; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if dropped := bus.Publish(EventSweepCompleted, Payload{}); dropped != 0 {
		t.Errorf("dropped = %d after unsubscribe", dropped)
	}

	// Unsubscribing twice must not panic.
	bus.Unsubscribe(EventSweepCompleted, sub)
}

func TestSubscribeManyPreservesOrder(t *testing.T) {
	bus := NewBus()
	sub := bus.SubscribeMany(4, EventSweepStarted, EventItemDelivered, EventSweepCompleted)

	bus.Publish(EventSweepStarted, Payload{"n": 1})
	bus.Publish(EventItemDelivered, Payload{"n": 2})
	bus.Publish(EventItemFailed, Payload{"n": -1})
	bus.Publish(EventSweepCompleted, Payload{"n": 3})

	for want := 1; want <= 3; want++ {
		if p := <-sub; p["n"] != want {
			t.Fatalf("got %v, want n=%d", p, want)
		}
	}

	bus.Remove(sub)
	if _, ok := <-sub; ok {
		t.Error("channel should be closed after Remove")
	}
	bus.Remove(sub)
}
