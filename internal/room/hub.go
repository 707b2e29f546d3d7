/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package room relays operation batches between the clients of a shared
// session. Every client of a room receives every batch in the same order,
// including the sender, and applies it with its own engine.
package room

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/tablemix/internal/eventbus"
	"github.com/friendsincode/tablemix/internal/events"
	"github.com/friendsincode/tablemix/internal/models"
	"github.com/friendsincode/tablemix/internal/telemetry"
)

var (
	// ErrInvalidRoom indicates a malformed room id.
	ErrInvalidRoom = errors.New("invalid room id")

	// ErrEmptyBatch indicates a batch with no operations.
	ErrEmptyBatch = errors.New("empty batch")
)

// DefaultMemberBuffer is the per-client outbound queue depth. A client that
// falls this far behind is disconnected rather than allowed to miss a batch.
const DefaultMemberBuffer = 64

const (
	originLocal  = "local"
	originRemote = "remote"
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidRoomID reports whether id can name a room.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// Member is one connected client's subscription to a room.
type Member struct {
	ID     string
	RoomID string

	out    chan models.Batch
	closed bool
}

// Batches delivers relayed batches in room order. It is closed when the
// member leaves or is dropped for falling behind.
func (m *Member) Batches() <-chan models.Batch {
	return m.out
}

type roomState struct {
	id      string
	mu      sync.Mutex
	tracker *Tracker
	members map[string]*Member
}

// Hub owns every room served by this node.
type Hub struct {
	layout    []models.Channel
	persister Persister
	fanout    eventbus.Fanout
	bus       *events.Bus
	logger    zerolog.Logger
	buffer    int

	mu    sync.Mutex
	rooms map[string]*roomState
}

// NewHub creates a hub. persister and fanout may be nil.
func NewHub(layout []models.Channel, persister Persister, fanout eventbus.Fanout, bus *events.Bus, logger zerolog.Logger) *Hub {
	if fanout == nil {
		fanout = eventbus.Local{}
	}
	return &Hub{
		layout:    layout,
		persister: persister,
		fanout:    fanout,
		bus:       bus,
		logger:    logger.With().Str("component", "room_hub").Logger(),
		buffer:    DefaultMemberBuffer,
		rooms:     make(map[string]*roomState),
	}
}

// Start subscribes the hub to batches relayed by peer nodes.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.fanout.Subscribe(ctx, h.deliverRemote); err != nil {
		return fmt.Errorf("subscribe fanout: %w", err)
	}
	return nil
}

// room returns the live state of a room, loading it from the persister on first use.
func (h *Hub) room(ctx context.Context, id string) (*roomState, error) {
	if !ValidRoomID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoom, id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[id]; ok {
		return r, nil
	}

	tracker := NewTracker(h.layout)
	if h.persister != nil {
		rows, err := h.persister.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		tracker.restore(rows)
	}
	r := &roomState{id: id, tracker: tracker, members: make(map[string]*Member)}
	h.rooms[id] = r
	return r, nil
}

// Join subscribes a new member and returns it with the snapshot batch that
// brings a fresh engine up to date. No relayed batch can fall between the
// snapshot and the first batch on the member's channel.
func (h *Hub) Join(ctx context.Context, roomID string) (*Member, models.Batch, error) {
	r, err := h.room(ctx, roomID)
	if err != nil {
		return nil, models.Batch{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m := &Member{ID: uuid.NewString(), RoomID: roomID, out: make(chan models.Batch, h.buffer)}
	r.members[m.ID] = m
	snapshot := r.tracker.SnapshotBatch()

	telemetry.RoomClients.WithLabelValues(roomID).Inc()
	h.bus.Publish(events.EventClientJoined, events.Payload{"room_id": roomID, "client_id": m.ID})
	h.logger.Debug().Str("room_id", roomID).Str("client_id", m.ID).Int("members", len(r.members)).Msg("client joined")
	return m, snapshot, nil
}

// Leave unsubscribes a member and closes its channel.
func (h *Hub) Leave(m *Member) {
	h.mu.Lock()
	r, ok := h.rooms[m.RoomID]
	h.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	h.dropLocked(r, m)
}

func (h *Hub) dropLocked(r *roomState, m *Member) {
	if _, ok := r.members[m.ID]; !ok {
		return
	}
	delete(r.members, m.ID)
	if !m.closed {
		m.closed = true
		close(m.out)
	}
	telemetry.RoomClients.WithLabelValues(r.id).Dec()
	h.bus.Publish(events.EventClientLeft, events.Payload{"room_id": r.id, "client_id": m.ID})
	h.logger.Debug().Str("room_id", r.id).Str("client_id", m.ID).Msg("client left")
}

// Publish relays b to every member of the room, in order with every other
// batch of the room, then forwards it to peer nodes.
func (h *Hub) Publish(ctx context.Context, roomID string, b models.Batch) error {
	if b.Len() == 0 {
		return ErrEmptyBatch
	}
	r, err := h.room(ctx, roomID)
	if err != nil {
		return err
	}

	ctx, span := telemetry.StartBatchSpan(ctx, "room.publish", roomID, b.Len(), b.FadeDuration)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()
	h.relayLocked(ctx, r, b, originLocal)

	// Forwarded under the room lock so peers see this node's batches in relay order.
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.fanout.Publish(pubCtx, roomID, b); err != nil {
		telemetry.RecordError(span, err)
		h.logger.Warn().Err(err).Str("room_id", roomID).Msg("fanout publish failed, peers may miss batch")
	}
	return nil
}

func (h *Hub) deliverRemote(roomID string, b models.Batch) {
	ctx, span := telemetry.StartBatchSpan(context.Background(), "room.remote", roomID, b.Len(), b.FadeDuration)
	defer span.End()

	r, err := h.room(ctx, roomID)
	if err != nil {
		telemetry.RecordError(span, err)
		h.logger.Warn().Err(err).Str("room_id", roomID).Msg("dropping peer batch")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h.relayLocked(ctx, r, b, originRemote)
}

func (h *Hub) relayLocked(ctx context.Context, r *roomState, b models.Batch, origin string) {
	changed := r.tracker.Apply(b)
	if h.persister != nil && len(changed) > 0 {
		rows := make([]models.Channel, 0, len(changed))
		for _, id := range changed {
			if ch, ok := r.tracker.Channel(id); ok {
				rows = append(rows, ch)
			}
		}
		if err := h.persister.Save(ctx, r.id, rows); err != nil {
			h.logger.Error().Err(err).Str("room_id", r.id).Msg("persist room state failed")
		}
	}

	for _, m := range r.members {
		select {
		case m.out <- b:
		default:
			h.logger.Warn().Str("room_id", r.id).Str("client_id", m.ID).Msg("client too slow, disconnecting")
			h.dropLocked(r, m)
		}
	}

	telemetry.RelayedBatches.WithLabelValues(origin).Inc()
	h.bus.Publish(events.EventRoomBatch, events.Payload{
		"room_id":   r.id,
		"origin":    origin,
		"batch_ops": b.Len(),
		"fade_ms":   b.FadeDuration.Milliseconds(),
	})
	h.logger.Debug().
		Str("room_id", r.id).
		Str("origin", origin).
		Int("batch_ops", b.Len()).
		Int("members", len(r.members)).
		Msg("batch relayed")
}

// Channels returns the tracked channel records of a room. A room that has
// never been used reports the layout defaults.
func (h *Hub) Channels(ctx context.Context, roomID string) ([]models.Channel, error) {
	r, err := h.room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracker.Channels(), nil
}

// Members returns the number of clients connected to a room on this node.
func (h *Hub) Members(roomID string) int {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Close disconnects every member.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := make([]*roomState, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		for _, m := range r.members {
			h.dropLocked(r, m)
		}
		r.mu.Unlock()
	}
}
