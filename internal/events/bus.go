// Package events provides a publish/subscribe event bus for
// operational observability of the activation cache. Events flow from
// components (registry, store, reconciler, gateway) to subscribers
// (future metrics collector, debug console). The bus is nil-safe:
// calling Publish on a nil *Bus is a no-op, so components can treat an
// absent bus as a no-op logging sink without guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceActivation identifies events from the activation registry,
	// store, and reconciler.
	SourceActivation = "activation"
	// SourceGateway identifies events from the chat-platform gateway.
	SourceGateway = "gateway"
)

// Kind constants describe the type of event within a source.
const (
	// KindActivationStarted signals a new activation entered the
	// registry. Data: activation_id, bot_id, channel_id, trigger.
	KindActivationStarted = "activation_started"
	// KindCompletionAdded signals a completion was appended to an
	// active activation. Data: activation_id, index, phantom.
	KindCompletionAdded = "completion_added"
	// KindActivationCompleted signals the one-way active→completed
	// transition. Data: activation_id, completions, phantoms.
	KindActivationCompleted = "activation_completed"
	// KindRecordPersisted signals an activation file was written.
	// Data: activation_id, path.
	KindRecordPersisted = "record_persisted"
	// KindRecordPatched signals the reconciler rewrote a record after
	// stripping a deleted message id. Data: path, message_id.
	KindRecordPatched = "record_patched"
	// KindRecordPruned signals the reconciler deleted an orphaned
	// record. Data: path, message_id.
	KindRecordPruned = "record_pruned"

	// KindMessageObserved signals the gateway reported a new visible
	// message. Data: channel_id, message_id, author_id.
	KindMessageObserved = "message_observed"
	// KindMessageDeleted signals the gateway reported a message
	// deletion. Data: channel_id, message_id.
	KindMessageDeleted = "message_deleted"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive
// events on buffered channels; slow subscribers miss events rather
// than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept <-chan Event (the caller's view) without an illegal
	// type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
