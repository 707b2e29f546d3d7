/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ChannelKind distinguishes looping-capable music/ambience channels from one-shot effects.
type ChannelKind string

const (
	ChannelBGM ChannelKind = "bgm"
	ChannelSFX ChannelKind = "sfx"
)

// Valid reports whether k is a known channel kind.
func (k ChannelKind) Valid() bool {
	return k == ChannelBGM || k == ChannelSFX
}

// PlaybackState represents the playback state of a channel.
type PlaybackState string

const (
	StateStopped PlaybackState = "stopped"
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
)

// Volume bounds. Values above 1.0 are amplification headroom.
const (
	MinVolume     = 0.0
	MaxVolume     = 1.3
	DefaultVolume = 1.0
)

// ErrInvalidChannel is returned when a channel would violate its invariants.
var ErrInvalidChannel = errors.New("invalid channel state")

// ClampVolume bounds v to [MinVolume, MaxVolume]. NaN maps to MinVolume.
func ClampVolume(v float64) float64 {
	if math.IsNaN(v) || v < MinVolume {
		return MinVolume
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}

// SourceRef points at an asset in the external catalog. The zero value means no asset loaded.
type SourceRef struct {
	Filename string `json:"filename,omitempty"`
	AssetID  string `json:"asset_id,omitempty"`
	URL      string `json:"s3_url,omitempty"`
}

// IsZero reports whether no asset is referenced.
func (r SourceRef) IsZero() bool {
	return r.Filename == "" && r.AssetID == "" && r.URL == ""
}

// Key returns a stable identity for the referenced asset.
func (r SourceRef) Key() string {
	return r.AssetID + "|" + r.Filename + "|" + r.URL
}

func (r SourceRef) String() string {
	switch {
	case r.Filename != "":
		return r.Filename
	case r.AssetID != "":
		return "asset:" + r.AssetID
	default:
		return r.URL
	}
}

// Channel is one addressable audio slot.
type Channel struct {
	ID          string        `json:"id"`
	Kind        ChannelKind   `json:"kind"`
	Group       string        `json:"group,omitempty"`
	Track       string        `json:"track,omitempty"`
	State       PlaybackState `json:"state"`
	Source      SourceRef     `json:"source"`
	Volume      float64       `json:"volume"`
	CurrentTime time.Duration `json:"current_time"`
	Duration    time.Duration `json:"duration"`
	Looping     bool          `json:"looping"`
}

// NewChannel creates a stopped channel with default volume.
func NewChannel(id string, kind ChannelKind, group, track string) Channel {
	ch := Channel{
		ID:     id,
		Kind:   kind,
		State:  StateStopped,
		Volume: DefaultVolume,
	}
	// Grouping only drives BGM transitions.
	if kind == ChannelBGM {
		ch.Group = group
		ch.Track = track
	}
	return ch
}

// IsSFX reports whether the channel is a one-shot effect slot.
func (c Channel) IsSFX() bool {
	return c.Kind == ChannelSFX
}

// Validate checks the channel invariants.
func (c Channel) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidChannel)
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidChannel, c.ID, c.Kind)
	}
	switch c.State {
	case StateStopped, StatePlaying:
	case StatePaused:
		if c.IsSFX() {
			return fmt.Errorf("%w: %s: sfx channels cannot pause", ErrInvalidChannel, c.ID)
		}
	default:
		return fmt.Errorf("%w: %s: unknown state %q", ErrInvalidChannel, c.ID, c.State)
	}
	if c.IsSFX() && c.Looping {
		return fmt.Errorf("%w: %s: sfx channels cannot loop", ErrInvalidChannel, c.ID)
	}
	if c.Volume < MinVolume || c.Volume > MaxVolume || math.IsNaN(c.Volume) {
		return fmt.Errorf("%w: %s: volume %v out of range", ErrInvalidChannel, c.ID, c.Volume)
	}
	if c.CurrentTime < 0 || c.Duration < 0 {
		return fmt.Errorf("%w: %s: negative time", ErrInvalidChannel, c.ID)
	}
	return nil
}

// ChannelPatch is a partial update. Nil fields are left untouched.
type ChannelPatch struct {
	State       *PlaybackState
	Source      *SourceRef
	Volume      *float64
	CurrentTime *time.Duration
	Duration    *time.Duration
	Looping     *bool
}

// Apply returns a copy of c with the patch applied.
func (c Channel) Apply(p ChannelPatch) Channel {
	if p.State != nil {
		c.State = *p.State
	}
	if p.Source != nil {
		c.Source = *p.Source
	}
	if p.Volume != nil {
		c.Volume = *p.Volume
	}
	if p.CurrentTime != nil {
		c.CurrentTime = *p.CurrentTime
	}
	if p.Duration != nil {
		c.Duration = *p.Duration
	}
	if p.Looping != nil {
		c.Looping = *p.Looping
	}
	return c
}

// Patch helpers keep call sites short.

func WithState(s PlaybackState) *PlaybackState    { return &s }
func WithSource(r SourceRef) *SourceRef           { return &r }
func WithFloat(v float64) *float64                { return &v }
func WithDuration(d time.Duration) *time.Duration { return &d }
func WithBool(b bool) *bool                       { return &b }
