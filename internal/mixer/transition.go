/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/tablemix/internal/events"
	"github.com/friendsincode/tablemix/internal/models"
	"github.com/friendsincode/tablemix/internal/scheduler"
)

// DefaultHandoffDelay is the overlap between the PLAY and STOP batches of a crossfade.
const DefaultHandoffDelay = 120 * time.Millisecond

// DefaultFadeDuration is the ramp length used by fade transitions.
const DefaultFadeDuration = 2 * time.Second

// Sender broadcasts a batch to every client in the room, including this one.
type Sender interface {
	Send(ctx context.Context, b models.Batch) error
}

// Strategy names how a transition is executed.
type Strategy string

const (
	StrategyNone      Strategy = "none"
	StrategyCrossfade Strategy = "crossfade"
	StrategyFade      Strategy = "fade"
)

// Cue is the operator's staged selection. It is local to one client and is
// never broadcast; only the batches it produces are.
type Cue struct {
	Targets map[string]bool
	Armed   map[string]bool
}

// NewCue creates an empty cue.
func NewCue() Cue {
	return Cue{Targets: make(map[string]bool), Armed: make(map[string]bool)}
}

// Toggle flips a channel in or out of the target set.
func (c Cue) Toggle(id string) {
	if c.Targets[id] {
		delete(c.Targets, id)
		return
	}
	c.Targets[id] = true
}

// Arm sets the fade-armed flag for a channel.
func (c Cue) Arm(id string, armed bool) {
	if armed {
		c.Armed[id] = true
		return
	}
	delete(c.Armed, id)
}

// Plan is the diff between a cue and what is playing.
type Plan struct {
	ToStart  []string
	ToStop   []string
	Strategy Strategy
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.ToStart) == 0 && len(p.ToStop) == 0
}

// PlanTransition diffs the cue against a group's channels, keeping group
// order. Targets outside the group and targets with no source loaded are skipped.
func PlanTransition(group []models.Channel, cue Cue) Plan {
	var plan Plan
	for _, ch := range group {
		playing := ch.State == models.StatePlaying
		switch {
		case cue.Targets[ch.ID] && !playing && !ch.Source.IsZero():
			plan.ToStart = append(plan.ToStart, ch.ID)
		case !cue.Targets[ch.ID] && playing:
			plan.ToStop = append(plan.ToStop, ch.ID)
		}
	}

	switch {
	case plan.Empty():
		plan.Strategy = StrategyNone
	case anyArmed(cue, plan.ToStart) || anyArmed(cue, plan.ToStop):
		plan.Strategy = StrategyFade
	default:
		plan.Strategy = StrategyCrossfade
	}
	return plan
}

func anyArmed(cue Cue, ids []string) bool {
	for _, id := range ids {
		if cue.Armed[id] {
			return true
		}
	}
	return false
}

// TransitionEngine turns a cue into broadcast batches.
type TransitionEngine struct {
	sched   scheduler.Scheduler
	sender  Sender
	handoff time.Duration
	fade    time.Duration
	bus     *events.Bus
	logger  zerolog.Logger
}

// NewTransitionEngine creates a transition engine. Non-positive durations select the defaults.
func NewTransitionEngine(sched scheduler.Scheduler, sender Sender, handoff, fade time.Duration, bus *events.Bus, logger zerolog.Logger) *TransitionEngine {
	if handoff <= 0 {
		handoff = DefaultHandoffDelay
	}
	if fade <= 0 {
		fade = DefaultFadeDuration
	}
	return &TransitionEngine{
		sched:   sched,
		sender:  sender,
		handoff: handoff,
		fade:    fade,
		bus:     bus,
		logger:  logger.With().Str("component", "transition").Logger(),
	}
}

// Execute plans and sends the transition. A crossfade sends its PLAY batch
// now and its STOP batch after the handoff delay; a fade sends a single batch
// with every PLAY ahead of every STOP, all ramped.
func (t *TransitionEngine) Execute(ctx context.Context, group []models.Channel, cue Cue) (Plan, error) {
	plan := PlanTransition(group, cue)
	log := t.logger.With().
		Strs("to_start", plan.ToStart).
		Strs("to_stop", plan.ToStop).
		Str("strategy", string(plan.Strategy)).
		Logger()

	switch plan.Strategy {
	case StrategyNone:
		return plan, nil

	case StrategyFade:
		ops := make([]models.Operation, 0, len(plan.ToStart)+len(plan.ToStop))
		for _, id := range plan.ToStart {
			ops = append(ops, models.Play{Channel: id, Fade: true})
		}
		for _, id := range plan.ToStop {
			ops = append(ops, models.Stop{Channel: id, Fade: true})
		}
		if err := t.sender.Send(ctx, models.NewBatch(t.fade, ops...)); err != nil {
			return plan, fmt.Errorf("send fade batch: %w", err)
		}

	case StrategyCrossfade:
		stops := make([]models.Operation, 0, len(plan.ToStop))
		for _, id := range plan.ToStop {
			stops = append(stops, models.Stop{Channel: id})
		}
		if len(plan.ToStart) == 0 {
			if err := t.sender.Send(ctx, models.NewBatch(0, stops...)); err != nil {
				return plan, fmt.Errorf("send stop batch: %w", err)
			}
			break
		}

		plays := make([]models.Operation, 0, len(plan.ToStart))
		for _, id := range plan.ToStart {
			plays = append(plays, models.Play{Channel: id})
		}
		if err := t.sender.Send(ctx, models.NewBatch(0, plays...)); err != nil {
			return plan, fmt.Errorf("send play batch: %w", err)
		}
		if len(stops) > 0 {
			sendCtx := context.WithoutCancel(ctx)
			t.sched.ScheduleOnce(t.handoff, func() {
				if err := t.sender.Send(sendCtx, models.NewBatch(0, stops...)); err != nil {
					log.Warn().Err(err).Msg("crossfade stop batch failed")
				}
			})
		}
	}

	log.Debug().Msg("transition issued")
	t.bus.Publish(events.EventTransitionIssued, events.Payload{
		"strategy": string(plan.Strategy),
		"to_start": plan.ToStart,
		"to_stop":  plan.ToStop,
	})
	return plan, nil
}
