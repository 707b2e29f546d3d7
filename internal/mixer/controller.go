/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/tablemix/internal/models"
)

// Controller is the operator's side of the engine: single-channel actions
// gated by the pending tracker, and cue staging executed through the
// transition engine. Actions are broadcast through the Sender and take effect
// locally only when the engine applies the echoed batch.
type Controller struct {
	engine      *Engine
	sender      Sender
	pending     *PendingTracker
	transitions *TransitionEngine
	logger      zerolog.Logger

	mu  sync.Mutex
	cue Cue
}

// NewController wires a controller and subscribes the pending tracker to engine state changes.
func NewController(engine *Engine, sender Sender, pending *PendingTracker, transitions *TransitionEngine, logger zerolog.Logger) *Controller {
	engine.Observe(pending.Observe)
	return &Controller{
		engine:      engine,
		sender:      sender,
		pending:     pending,
		transitions: transitions,
		logger:      logger.With().Str("component", "controller").Logger(),
		cue:         NewCue(),
	}
}

// Play starts (or resumes) a channel.
func (c *Controller) Play(ctx context.Context, id string) error {
	return c.tracked(ctx, PendingKey{ChannelID: id, Kind: models.OpPlay}, models.Play{Channel: id})
}

// Pause freezes a BGM channel.
func (c *Controller) Pause(ctx context.Context, id string) error {
	ch, err := c.engine.Channel(id)
	if err != nil {
		return err
	}
	if ch.IsSFX() {
		return fmt.Errorf("%w: pause on sfx channel %s", ErrInvariantViolation, id)
	}
	return c.tracked(ctx, PendingKey{ChannelID: id, Kind: models.OpPause}, models.Pause{Channel: id})
}

// Stop halts a channel.
func (c *Controller) Stop(ctx context.Context, id string) error {
	return c.tracked(ctx, PendingKey{ChannelID: id, Kind: models.OpStop}, models.Stop{Channel: id})
}

// SetLoop toggles looping on a BGM channel.
func (c *Controller) SetLoop(ctx context.Context, id string, looping bool) error {
	ch, err := c.engine.Channel(id)
	if err != nil {
		return err
	}
	if ch.IsSFX() {
		return fmt.Errorf("%w: loop on sfx channel %s", ErrInvariantViolation, id)
	}
	if ch.Looping == looping {
		return c.send(ctx, models.NewBatch(0, models.SetLoop{Channel: id, Looping: looping}))
	}
	if !c.pending.BeginLoop(id, looping) {
		return fmt.Errorf("%w: loop on %s", ErrAlreadyPending, id)
	}
	if err := c.send(ctx, models.NewBatch(0, models.SetLoop{Channel: id, Looping: looping})); err != nil {
		c.pending.Clear(PendingKey{ChannelID: id, Kind: models.OpLoop})
		return err
	}
	return nil
}

// SetVolume changes channel gain. Volume changes are not deduplicated.
func (c *Controller) SetVolume(ctx context.Context, id string, v float64) error {
	if _, err := c.engine.Channel(id); err != nil {
		return err
	}
	return c.send(ctx, models.NewBatch(0, models.SetVolume{Channel: id, Volume: models.ClampVolume(v)}))
}

// Load assigns an asset to a channel.
func (c *Controller) Load(ctx context.Context, id string, ref models.SourceRef) error {
	if _, err := c.engine.Channel(id); err != nil {
		return err
	}
	return c.send(ctx, models.NewBatch(0, models.Load{Channel: id, Source: ref}))
}

// IsPending reports whether an action of kind is in flight for a channel.
func (c *Controller) IsPending(id string, kind models.OpKind) bool {
	return c.pending.IsPending(PendingKey{ChannelID: id, Kind: kind})
}

// ToggleCue flips a channel in or out of the staged target set.
func (c *Controller) ToggleCue(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cue.Toggle(id)
}

// ArmFade sets a channel's fade-armed flag.
func (c *Controller) ArmFade(id string, armed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cue.Arm(id, armed)
}

// Cue returns a copy of the staged cue.
func (c *Controller) Cue() Cue {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := NewCue()
	for id := range c.cue.Targets {
		out.Targets[id] = true
	}
	for id := range c.cue.Armed {
		out.Armed[id] = true
	}
	return out
}

// ExecuteCue runs the staged cue against a transition group and clears the targets.
func (c *Controller) ExecuteCue(ctx context.Context, group string) (Plan, error) {
	cue := c.Cue()
	plan, err := c.transitions.Execute(ctx, c.engine.Registry().Group(group), cue)
	if err != nil {
		return plan, err
	}
	c.mu.Lock()
	clear(c.cue.Targets)
	c.mu.Unlock()
	return plan, nil
}

func (c *Controller) tracked(ctx context.Context, key PendingKey, op models.Operation) error {
	ch, err := c.engine.Channel(key.ChannelID)
	if err != nil {
		return err
	}
	if Satisfied(key.Kind, ch) {
		return c.send(ctx, models.NewBatch(0, op))
	}
	if !c.pending.Begin(key) {
		c.logger.Debug().Str("channel_id", key.ChannelID).Str("op", string(key.Kind)).Msg("duplicate action dropped")
		return fmt.Errorf("%w: %s on %s", ErrAlreadyPending, key.Kind, key.ChannelID)
	}
	if err := c.send(ctx, models.NewBatch(0, op)); err != nil {
		c.pending.Clear(key)
		return err
	}
	return nil
}

func (c *Controller) send(ctx context.Context, b models.Batch) error {
	if err := c.sender.Send(ctx, b); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
