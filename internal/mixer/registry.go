/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import (
	"fmt"
	"sync"

	"github.com/friendsincode/tablemix/internal/models"
)

// Registry is the authoritative table of channel state. Writes are
// full-or-nothing: a patch that would leave a channel invalid is refused.
type Registry struct {
	mu    sync.RWMutex
	order []string
	rows  map[string]models.Channel
}

// NewRegistry creates a registry holding the given channels in order.
func NewRegistry(channels []models.Channel) *Registry {
	r := &Registry{rows: make(map[string]models.Channel, len(channels))}
	for _, ch := range channels {
		if _, dup := r.rows[ch.ID]; dup {
			continue
		}
		r.order = append(r.order, ch.ID)
		r.rows[ch.ID] = ch
	}
	return r
}

// Get returns a copy of the channel.
func (r *Registry) Get(id string) (models.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.rows[id]
	if !ok {
		return models.Channel{}, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}
	return ch, nil
}

// Set applies a patch and returns the updated channel. SFX channels always
// end up with looping=false.
func (r *Registry) Set(id string, patch models.ChannelPatch) (models.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[id]
	if !ok {
		return models.Channel{}, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}
	next := cur.Apply(patch)
	if next.IsSFX() {
		next.Looping = false
	}
	if err := next.Validate(); err != nil {
		return cur, err
	}
	r.rows[id] = next
	return next, nil
}

// All returns every channel in layout order.
func (r *Registry) All() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Channel, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rows[id])
	}
	return out
}

// Group returns the BGM channels of a transition group in layout order.
func (r *Registry) Group(name string) []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Channel
	for _, id := range r.order {
		ch := r.rows[id]
		if ch.Kind == models.ChannelBGM && ch.Group == name {
			out = append(out, ch)
		}
	}
	return out
}
