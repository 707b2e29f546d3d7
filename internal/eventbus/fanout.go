/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus relays room batches between relay instances so clients
// connected to different nodes stay in sync.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/tablemix/internal/models"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("fanout closed")

// Handler receives a batch relayed from another node.
type Handler func(roomID string, b models.Batch)

// Fanout publishes room batches to peer nodes and delivers theirs.
// Implementations never deliver a node's own messages back to it.
type Fanout interface {
	Publish(ctx context.Context, roomID string, b models.Batch) error
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

// Local is the single-node Fanout: nothing leaves the process.
type Local struct{}

// Publish implements Fanout.
func (Local) Publish(context.Context, string, models.Batch) error { return nil }

// Subscribe implements Fanout.
func (Local) Subscribe(context.Context, Handler) error { return nil }

// Close implements Fanout.
func (Local) Close() error { return nil }

// message is the envelope shared by every transport.
type message struct {
	RoomID    string       `json:"room_id"`
	NodeID    string       `json:"node_id"`
	MessageID string       `json:"message_id"`
	Timestamp time.Time    `json:"timestamp"`
	Batch     models.Batch `json:"batch"`
}

func marshalMessage(roomID, nodeID string, b models.Batch) ([]byte, error) {
	return json.Marshal(message{
		RoomID:    roomID,
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
		Timestamp: time.Now(),
		Batch:     b,
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal fanout message: %w", err)
	}
	if msg.RoomID == "" {
		return nil, fmt.Errorf("unmarshal fanout message: missing room id")
	}
	return &msg, nil
}

// dedup remembers recently seen message ids so a redelivered message is
// handed to the relay once.
type dedup struct {
	ids   map[string]struct{}
	order []string
	max   int
}

func newDedup(max int) *dedup {
	return &dedup{ids: make(map[string]struct{}, max), max: max}
}

func (d *dedup) seen(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := d.ids[id]; ok {
		return true
	}
	d.ids[id] = struct{}{}
	d.order = append(d.order, id)
	if len(d.order) > d.max {
		delete(d.ids, d.order[0])
		d.order = d.order[1:]
	}
	return false
}

// NewNodeID returns an identifier unique to this process.
func NewNodeID(instanceID string) string {
	if instanceID != "" {
		return instanceID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}

// receiver decodes inbound envelopes, drops echoes and duplicates, and
// hands the rest to the subscribed handler.
type receiver struct {
	nodeID string
	logger zerolog.Logger

	mu      sync.Mutex
	seen    *dedup
	handler Handler
}

func newReceiver(nodeID string, logger zerolog.Logger) *receiver {
	return &receiver{nodeID: nodeID, logger: logger, seen: newDedup(1024)}
}

func (r *receiver) setHandler(h Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

func (r *receiver) deliver(data []byte) {
	msg, err := unmarshalMessage(data)
	if err != nil {
		r.logger.Error().Err(err).Msg("dropping malformed fanout message")
		return
	}
	if msg.NodeID == r.nodeID {
		return
	}

	r.mu.Lock()
	dup := r.seen.seen(msg.MessageID)
	h := r.handler
	r.mu.Unlock()
	if dup || h == nil {
		return
	}

	r.logger.Debug().
		Str("room_id", msg.RoomID).
		Str("source_node", msg.NodeID).
		Int("batch_ops", msg.Batch.Len()).
		Msg("relayed batch from peer")
	h(msg.RoomID, msg.Batch)
}
