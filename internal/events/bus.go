/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventSweepStarted   EventType = "sweep.started"
	EventSweepCompleted EventType = "sweep.completed"
	EventSweepFailed    EventType = "sweep.failed"
	EventSweepSkipped   EventType = "sweep.skipped"

	EventItemAttempt   EventType = "item.attempt"
	EventItemDelivered EventType = "item.delivered"
	EventItemFailed    EventType = "item.failed"
	EventItemSkipped   EventType = "item.skipped"

	// Leadership changes of this instance
	EventLeadershipChanged EventType = "leadership.changed"
)

// DefaultBuffer is the subscriber channel capacity used by Subscribe.
const DefaultBuffer = 8

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	return b.SubscribeBuffered(eventType, DefaultBuffer)
}

// SubscribeBuffered registers a subscriber with a channel of the given capacity.
func (b *Bus) SubscribeBuffered(eventType EventType, size int) Subscriber {
	if size < 0 {
		size = 0
	}
	ch := make(Subscriber, size)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// SubscribeMany registers one subscriber for several event types, so the
// subscriber sees them in publish order. Release it with Remove.
func (b *Bus) SubscribeMany(size int, eventTypes ...EventType) Subscriber {
	if size < 0 {
		size = 0
	}
	ch := make(Subscriber, size)
	b.mu.Lock()
	for _, et := range eventTypes {
		b.subs[et] = append(b.subs[et], ch)
	}
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers without blocking. It returns how many
// subscribers were too slow to receive it.
func (b *Bus) Publish(eventType EventType, payload Payload) (dropped int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
			dropped++
		}
	}
	return dropped
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}

// Remove detaches sub from every event type and closes it.
func (b *Bus) Remove(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	found := false
	for et, subs := range b.subs {
		for i, candidate := range subs {
			if candidate == sub {
				b.subs[et] = append(subs[:i], subs[i+1:]...)
				found = true
				break
			}
		}
	}
	if found {
		close(sub)
	}
}
