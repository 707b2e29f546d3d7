/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package layout describes the fixed table of channel slots a room exposes.
package layout

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/tablemix/internal/models"
)

// Group names used by the default layout.
const (
	GroupMusic    = "music"
	GroupAmbience = "ambience"
)

// ErrInvalidLayout is returned for layouts with missing or duplicate slots.
var ErrInvalidLayout = errors.New("invalid channel layout")

// Slot is one channel definition.
type Slot struct {
	ID     string             `yaml:"id"`
	Kind   models.ChannelKind `yaml:"kind"`
	Group  string             `yaml:"group,omitempty"`
	Track  string             `yaml:"track,omitempty"`
	Volume *float64           `yaml:"volume,omitempty"`
}

// Layout is the ordered slot table.
type Layout struct {
	Slots []Slot `yaml:"channels"`
}

// Default returns three music A/B pairs, three ambience beds and nine effects.
func Default() Layout {
	var l Layout
	for i := 1; i <= 3; i++ {
		l.Slots = append(l.Slots,
			Slot{ID: fmt.Sprintf("bgm_%da", i), Kind: models.ChannelBGM, Group: GroupMusic, Track: "A"},
			Slot{ID: fmt.Sprintf("bgm_%db", i), Kind: models.ChannelBGM, Group: GroupMusic, Track: "B"},
		)
	}
	for i := 1; i <= 3; i++ {
		l.Slots = append(l.Slots, Slot{ID: fmt.Sprintf("amb_%d", i), Kind: models.ChannelBGM, Group: GroupAmbience})
	}
	for i := 1; i <= 9; i++ {
		l.Slots = append(l.Slots, Slot{ID: fmt.Sprintf("sfx_%d", i), Kind: models.ChannelSFX})
	}
	return l
}

// Load reads a YAML layout file. An empty path yields Default.
func Load(path string) (Layout, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("read layout: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML layout.
func Parse(data []byte) (Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Layout{}, fmt.Errorf("%w: %w", ErrInvalidLayout, err)
	}
	if err := l.Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// Validate checks that every slot has a unique id and a known kind.
func (l Layout) Validate() error {
	if len(l.Slots) == 0 {
		return fmt.Errorf("%w: no channels", ErrInvalidLayout)
	}
	seen := make(map[string]bool, len(l.Slots))
	for i, s := range l.Slots {
		if s.ID == "" {
			return fmt.Errorf("%w: slot %d has no id", ErrInvalidLayout, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidLayout, s.ID)
		}
		seen[s.ID] = true
		if !s.Kind.Valid() {
			return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidLayout, s.ID, s.Kind)
		}
	}
	return nil
}

// Channels builds the initial stopped channel for every slot.
func (l Layout) Channels() []models.Channel {
	out := make([]models.Channel, 0, len(l.Slots))
	for _, s := range l.Slots {
		ch := models.NewChannel(s.ID, s.Kind, s.Group, s.Track)
		if s.Volume != nil {
			ch.Volume = models.ClampVolume(*s.Volume)
		}
		out = append(out, ch)
	}
	return out
}

// Group returns the ids of BGM slots in the named group, in layout order.
func (l Layout) Group(name string) []string {
	var ids []string
	for _, s := range l.Slots {
		if s.Kind == models.ChannelBGM && s.Group == name {
			ids = append(ids, s.ID)
		}
	}
	return ids
}
