package events

import (
	"testing"
	"time"
)

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	// Must not panic: a nil bus is the no-op logging sink.
	b.Publish(Event{Source: SourceActivation, Kind: KindActivationStarted})
}

func TestNilBusSubscriberCount(t *testing.T) {
	var b *Bus
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestPublishSingleSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)
	defer b.Unsubscribe(ch)

	want := Event{
		Timestamp: time.Now(),
		Source:    SourceActivation,
		Kind:      KindActivationCompleted,
		Data:      map[string]any{"activation_id": "act-1"},
	}
	b.Publish(want)

	select {
	case got := <-ch:
		if got.Source != want.Source || got.Kind != want.Kind {
			t.Errorf("got event %v, want %v", got, want)
		}
		id, ok := got.Data["activation_id"].(string)
		if !ok || id != "act-1" {
			t.Errorf("got activation_id %v, want %q", got.Data["activation_id"], "act-1")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishMultipleSubscribers(t *testing.T) {
	b := New()
	const n = 5
	channels := make([]<-chan Event, n)
	for i := 0; i < n; i++ {
		channels[i] = b.Subscribe(8)
	}
	defer func() {
		for _, ch := range channels {
			b.Unsubscribe(ch)
		}
	}()

	b.Publish(Event{Source: SourceGateway, Kind: KindMessageDeleted})

	for i, ch := range channels {
		select {
		case got := <-ch:
			if got.Kind != KindMessageDeleted {
				t.Errorf("subscriber %d got kind %q, want %q", i, got.Kind, KindMessageDeleted)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestFullSubscriberDropsEvents(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	// Second publish overflows the buffer and must not block.
	b.Publish(Event{Source: SourceActivation, Kind: KindActivationStarted})
	b.Publish(Event{Source: SourceActivation, Kind: KindActivationCompleted})

	got := <-ch
	if got.Kind != KindActivationStarted {
		t.Errorf("got kind %q, want the first event", got.Kind)
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected buffered event %v", e)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() = %d after Unsubscribe, want 0", got)
	}

	// Double unsubscribe is a no-op, not a panic.
	b.Unsubscribe(ch)
}
