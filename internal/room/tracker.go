/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

import (
	"errors"

	"github.com/friendsincode/tablemix/internal/mixer"
	"github.com/friendsincode/tablemix/internal/models"
)

// Tracker folds relayed batches into a per-channel record of the room
// without decoding audio. It follows the same channel rules as the engine
// but has no notion of time, so a non-looping channel stays PLAYING until a
// STOP arrives.
type Tracker struct {
	reg *mixer.Registry
}

// NewTracker creates a tracker over the given channels.
func NewTracker(channels []models.Channel) *Tracker {
	return &Tracker{reg: mixer.NewRegistry(channels)}
}

// Apply folds every operation of b into the record and returns the ids of
// channels that changed, in first-change order. Operations on unknown
// channels and operations the engine would reject are skipped.
func (t *Tracker) Apply(b models.Batch) []string {
	var changed []string
	seen := make(map[string]bool)
	for _, op := range b.Operations {
		ch, err := t.reg.Get(op.ChannelID())
		if err != nil {
			continue
		}
		patch, ok := reduce(ch, op)
		if !ok {
			continue
		}
		next, err := t.reg.Set(ch.ID, patch)
		if err != nil || next == ch {
			continue
		}
		if !seen[ch.ID] {
			seen[ch.ID] = true
			changed = append(changed, ch.ID)
		}
	}
	return changed
}

func reduce(ch models.Channel, op models.Operation) (models.ChannelPatch, bool) {
	switch o := op.(type) {
	case models.Load:
		return models.ChannelPatch{Source: models.WithSource(o.Source)}, true
	case models.Play:
		if ch.Source.IsZero() || ch.State == models.StatePlaying {
			return models.ChannelPatch{}, false
		}
		return models.ChannelPatch{State: models.WithState(models.StatePlaying)}, true
	case models.Resume:
		if ch.State != models.StatePaused {
			return models.ChannelPatch{}, false
		}
		return models.ChannelPatch{State: models.WithState(models.StatePlaying)}, true
	case models.Pause:
		if ch.IsSFX() || ch.State != models.StatePlaying {
			return models.ChannelPatch{}, false
		}
		return models.ChannelPatch{State: models.WithState(models.StatePaused)}, true
	case models.Stop:
		return models.ChannelPatch{State: models.WithState(models.StateStopped)}, true
	case models.SetVolume:
		return models.ChannelPatch{Volume: models.WithFloat(models.ClampVolume(o.Volume))}, true
	case models.SetLoop:
		if ch.IsSFX() {
			return models.ChannelPatch{}, false
		}
		return models.ChannelPatch{Looping: models.WithBool(o.Looping)}, true
	default:
		return models.ChannelPatch{}, false
	}
}

// Channel returns one tracked channel.
func (t *Tracker) Channel(id string) (models.Channel, bool) {
	ch, err := t.reg.Get(id)
	if errors.Is(err, mixer.ErrUnknownChannel) {
		return models.Channel{}, false
	}
	return ch, err == nil
}

// Channels returns every tracked channel in layout order.
func (t *Tracker) Channels() []models.Channel {
	return t.reg.All()
}

// SnapshotBatch returns the batch that brings a fresh engine to the tracked
// state: LOADs, then VOLUMEs, then LOOPs, then PLAYs. Only BGM channels are
// restarted; one-shot effects in flight are not replayed, and paused
// channels arrive loaded but stopped since their position is not tracked.
func (t *Tracker) SnapshotBatch() models.Batch {
	channels := t.reg.All()
	var loads, volumes, loops, plays []models.Operation
	for _, ch := range channels {
		if !ch.Source.IsZero() {
			loads = append(loads, models.Load{Channel: ch.ID, Source: ch.Source})
		}
		if ch.Volume != models.DefaultVolume {
			volumes = append(volumes, models.SetVolume{Channel: ch.ID, Volume: ch.Volume})
		}
		if ch.Looping {
			loops = append(loops, models.SetLoop{Channel: ch.ID, Looping: true})
		}
		if ch.State == models.StatePlaying && !ch.IsSFX() && !ch.Source.IsZero() {
			plays = append(plays, models.Play{Channel: ch.ID})
		}
	}

	ops := make([]models.Operation, 0, len(loads)+len(volumes)+len(loops)+len(plays))
	ops = append(ops, loads...)
	ops = append(ops, volumes...)
	ops = append(ops, loops...)
	ops = append(ops, plays...)
	return models.NewBatch(0, ops...)
}

// restore overlays persisted rows onto the layout. Rows for channels outside
// the layout are ignored.
func (t *Tracker) restore(rows []models.Channel) {
	for _, row := range rows {
		cur, err := t.reg.Get(row.ID)
		if err != nil {
			continue
		}
		state := row.State
		if cur.IsSFX() && state != models.StateStopped {
			state = models.StateStopped
		}
		_, _ = t.reg.Set(cur.ID, models.ChannelPatch{
			State:   models.WithState(state),
			Source:  models.WithSource(row.Source),
			Volume:  models.WithFloat(models.ClampVolume(row.Volume)),
			Looping: models.WithBool(row.Looping && !cur.IsSFX()),
		})
	}
}
