/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package events is the in-process notification bus used by the mixer engine
// and the room relay. Delivery is best effort: slow subscribers miss events
// rather than stall the publisher.
package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Engine notifications
	EventChannelChanged   EventType = "channel.changed"
	EventChannelEnded     EventType = "channel.ended"
	EventBatchApplied     EventType = "batch.applied"
	EventOperationFailed  EventType = "operation.failed"
	EventDecodeFailed     EventType = "decode.failed"
	EventPendingTimeout   EventType = "pending.timeout"
	EventTransitionIssued EventType = "transition.issued"

	// Room relay notifications
	EventClientJoined EventType = "room.client_joined"
	EventClientLeft   EventType = "room.client_left"
	EventRoomBatch    EventType = "room.batch"
)

// DefaultBuffer is the per-subscriber queue depth.
const DefaultBuffer = 16

// Payload generic event payload.
type Payload map[string]any

// Event is one published notification.
type Event struct {
	Type    EventType
	Payload Payload
}

// Subscriber receives events.
type Subscriber chan Event

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]Subscriber
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers one subscriber for all of the given event types.
func (b *Bus) Subscribe(types ...EventType) Subscriber {
	ch := make(Subscriber, DefaultBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	for _, t := range types {
		b.subs[t] = append(b.subs[t], ch)
	}
	return ch
}

// Publish sends an event to subscribers without blocking. A nil Bus drops it.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	ev := Event{Type: eventType, Payload: payload}
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- ev:
		default:
		}
	}
}

// Unsubscribe removes the subscriber from every type and closes it.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	found := false
	for t, subs := range b.subs {
		kept := subs[:0]
		for _, candidate := range subs {
			if candidate == sub {
				found = true
				continue
			}
			kept = append(kept, candidate)
		}
		b.subs[t] = kept
	}
	if found {
		close(sub)
	}
}

// Close closes every subscriber. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	seen := make(map[Subscriber]bool)
	for _, subs := range b.subs {
		for _, s := range subs {
			if !seen[s] {
				seen[s] = true
				close(s)
			}
		}
	}
	b.subs = nil
}
