/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/tablemix/internal/events"
	"github.com/friendsincode/tablemix/internal/models"
	"github.com/friendsincode/tablemix/internal/scheduler"
	"github.com/friendsincode/tablemix/internal/telemetry"
)

// DefaultPendingTimeout releases a pending action whose state change never arrived.
const DefaultPendingTimeout = 5 * time.Second

// PendingKey identifies an in-flight operator action.
type PendingKey struct {
	ChannelID string
	Kind      models.OpKind
}

type pendingEntry struct {
	timer     scheduler.Handle
	satisfied func(models.Channel) bool
}

// PendingTracker keeps at most one in-flight action per (channel, kind) so
// repeated clicks collapse into one operation. Each entry clears when the
// channel reaches the state the action implies, or after the timeout.
type PendingTracker struct {
	sched   scheduler.Scheduler
	timeout time.Duration
	bus     *events.Bus
	logger  zerolog.Logger

	mu      sync.Mutex
	entries map[PendingKey]*pendingEntry
}

// NewPendingTracker creates a tracker. A non-positive timeout selects DefaultPendingTimeout.
func NewPendingTracker(sched scheduler.Scheduler, timeout time.Duration, bus *events.Bus, logger zerolog.Logger) *PendingTracker {
	if timeout <= 0 {
		timeout = DefaultPendingTimeout
	}
	return &PendingTracker{
		sched:   sched,
		timeout: timeout,
		bus:     bus,
		logger:  logger.With().Str("component", "pending").Logger(),
		entries: make(map[PendingKey]*pendingEntry),
	}
}

// Satisfied reports whether ch already shows the result of an action of kind.
// Kinds without a tracked outcome return false.
func Satisfied(kind models.OpKind, ch models.Channel) bool {
	switch kind {
	case models.OpPlay, models.OpResume:
		return ch.State == models.StatePlaying
	case models.OpPause:
		return ch.State == models.StatePaused
	case models.OpStop:
		return ch.State == models.StateStopped
	default:
		return false
	}
}

// Begin marks key as in flight. It returns false, changing nothing, if the key
// is already pending.
func (p *PendingTracker) Begin(key PendingKey) bool {
	kind := key.Kind
	return p.begin(key, func(ch models.Channel) bool { return Satisfied(kind, ch) })
}

// BeginLoop marks a loop toggle as in flight until the channel's looping flag equals want.
func (p *PendingTracker) BeginLoop(channelID string, want bool) bool {
	return p.begin(PendingKey{ChannelID: channelID, Kind: models.OpLoop}, func(ch models.Channel) bool {
		return ch.Looping == want
	})
}

func (p *PendingTracker) begin(key PendingKey, satisfied func(models.Channel) bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[key]; ok {
		return false
	}
	entry := &pendingEntry{satisfied: satisfied}
	entry.timer = p.sched.ScheduleOnce(p.timeout, func() { p.expire(key, entry) })
	p.entries[key] = entry
	return true
}

// Clear releases key.
func (p *PendingTracker) Clear(key PendingKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLocked(key)
}

func (p *PendingTracker) clearLocked(key PendingKey) {
	entry, ok := p.entries[key]
	if !ok {
		return
	}
	p.sched.Cancel(entry.timer)
	delete(p.entries, key)
}

// IsPending reports whether key is in flight.
func (p *PendingTracker) IsPending(key PendingKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[key]
	return ok
}

// Observe clears every pending key for ch that the new state satisfies.
func (p *PendingTracker) Observe(ch models.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, entry := range p.entries {
		if key.ChannelID == ch.ID && entry.satisfied(ch) {
			p.clearLocked(key)
		}
	}
}

func (p *PendingTracker) expire(key PendingKey, entry *pendingEntry) {
	p.mu.Lock()
	cur, ok := p.entries[key]
	if !ok || cur != entry {
		p.mu.Unlock()
		return
	}
	delete(p.entries, key)
	p.mu.Unlock()

	telemetry.PendingTimeouts.Inc()
	p.logger.Warn().
		Err(ErrStalePendingOperation).
		Str("channel_id", key.ChannelID).
		Str("op", string(key.Kind)).
		Dur("timeout", p.timeout).
		Msg("pending operation released")
	p.bus.Publish(events.EventPendingTimeout, events.Payload{
		"channel_id": key.ChannelID,
		"op":         string(key.Kind),
	})
}
