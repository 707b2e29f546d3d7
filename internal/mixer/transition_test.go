/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/tablemix/internal/events"
	"github.com/friendsincode/tablemix/internal/models"
	"github.com/friendsincode/tablemix/internal/scheduler"
)

type sentBatch struct {
	at    time.Duration
	batch models.Batch
}

// recordingSender captures batches with the virtual time they were sent.
type recordingSender struct {
	sched *scheduler.Virtual
	sent  []sentBatch
	err   error
}

func (r *recordingSender) Send(_ context.Context, b models.Batch) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentBatch{at: r.sched.Now(), batch: b})
	return nil
}

func musicGroup(aState, bState models.PlaybackState) []models.Channel {
	a := models.NewChannel("bgm_A", models.ChannelBGM, "music", "A")
	a.Source = models.SourceRef{Filename: "a.ogg"}
	a.State = aState
	b := models.NewChannel("bgm_B", models.ChannelBGM, "music", "B")
	b.Source = models.SourceRef{Filename: "b.ogg"}
	b.State = bState
	return []models.Channel{a, b}
}

func cueOf(targets ...string) Cue {
	c := NewCue()
	for _, id := range targets {
		c.Toggle(id)
	}
	return c
}

func TestPlanTransition(t *testing.T) {
	noSource := models.NewChannel("bgm_C", models.ChannelBGM, "music", "C")
	group := append(musicGroup(models.StatePlaying, models.StateStopped), noSource)

	tests := []struct {
		name     string
		cue      Cue
		start    []string
		stop     []string
		strategy Strategy
	}{
		{name: "swap", cue: cueOf("bgm_B"), start: []string{"bgm_B"}, stop: []string{"bgm_A"}, strategy: StrategyCrossfade},
		{name: "keep", cue: cueOf("bgm_A"), strategy: StrategyNone},
		{name: "add", cue: cueOf("bgm_A", "bgm_B"), start: []string{"bgm_B"}, strategy: StrategyCrossfade},
		{name: "clear", cue: cueOf(), stop: []string{"bgm_A"}, strategy: StrategyCrossfade},
		{name: "no source skipped", cue: cueOf("bgm_A", "bgm_C"), strategy: StrategyNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanTransition(group, tt.cue)
			if plan.Strategy != tt.strategy {
				t.Fatalf("strategy %s, want %s", plan.Strategy, tt.strategy)
			}
			if !equalIDs(plan.ToStart, tt.start) || !equalIDs(plan.ToStop, tt.stop) {
				t.Fatalf("plan %+v, want start %v stop %v", plan, tt.start, tt.stop)
			}
		})
	}

	armed := cueOf("bgm_B")
	armed.Arm("bgm_A", true)
	if s := PlanTransition(group, armed).Strategy; s != StrategyFade {
		t.Fatalf("armed stop target should select fade, got %s", s)
	}
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTransition_CrossfadePlaysBeforeStopping(t *testing.T) {
	sched := scheduler.NewVirtual()
	sender := &recordingSender{sched: sched}
	te := NewTransitionEngine(sched, sender, 0, 0, events.NewBus(), zerolog.Nop())

	plan, err := te.Execute(context.Background(), musicGroup(models.StatePlaying, models.StateStopped), cueOf("bgm_B"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if plan.Strategy != StrategyCrossfade {
		t.Fatalf("expected crossfade, got %s", plan.Strategy)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected play batch only before handoff, got %d batches", len(sender.sent))
	}

	sched.Advance(DefaultHandoffDelay)
	if len(sender.sent) != 2 {
		t.Fatalf("expected stop batch after handoff, got %d batches", len(sender.sent))
	}

	play, stop := sender.sent[0], sender.sent[1]
	if op, ok := play.batch.Operations[0].(models.Play); !ok || op.Channel != "bgm_B" || len(play.batch.Operations) != 1 {
		t.Fatalf("unexpected first batch %+v", play.batch.Operations)
	}
	if op, ok := stop.batch.Operations[0].(models.Stop); !ok || op.Channel != "bgm_A" || len(stop.batch.Operations) != 1 {
		t.Fatalf("unexpected second batch %+v", stop.batch.Operations)
	}
	if gap := stop.at - play.at; gap <= 0 || gap != DefaultHandoffDelay {
		t.Fatalf("expected stop %s after play, got %s", DefaultHandoffDelay, gap)
	}
}

func TestTransition_FadeSingleBatch(t *testing.T) {
	sched := scheduler.NewVirtual()
	sender := &recordingSender{sched: sched}
	te := NewTransitionEngine(sched, sender, 0, 3*time.Second, events.NewBus(), zerolog.Nop())

	cue := cueOf("bgm_B")
	cue.Arm("bgm_B", true)
	plan, err := te.Execute(context.Background(), musicGroup(models.StatePlaying, models.StateStopped), cue)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if plan.Strategy != StrategyFade {
		t.Fatalf("expected fade, got %s", plan.Strategy)
	}
	if len(sender.sent) != 1 || sched.Pending() != 0 {
		t.Fatalf("expected one batch and no timers, got %d batches %d timers", len(sender.sent), sched.Pending())
	}

	b := sender.sent[0].batch
	if b.FadeDuration != 3*time.Second {
		t.Fatalf("expected fade duration 3s, got %s", b.FadeDuration)
	}
	if len(b.Operations) != 2 {
		t.Fatalf("expected two operations, got %d", len(b.Operations))
	}
	if op, ok := b.Operations[0].(models.Play); !ok || !op.Fade || op.Channel != "bgm_B" {
		t.Fatalf("expected faded play first, got %+v", b.Operations[0])
	}
	if op, ok := b.Operations[1].(models.Stop); !ok || !op.Fade || op.Channel != "bgm_A" {
		t.Fatalf("expected faded stop second, got %+v", b.Operations[1])
	}
}

func TestTransition_StopOnlyIsImmediate(t *testing.T) {
	sched := scheduler.NewVirtual()
	sender := &recordingSender{sched: sched}
	te := NewTransitionEngine(sched, sender, 0, 0, events.NewBus(), zerolog.Nop())

	if _, err := te.Execute(context.Background(), musicGroup(models.StatePlaying, models.StatePlaying), cueOf()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(sender.sent) != 1 || sched.Pending() != 0 {
		t.Fatalf("expected one immediate batch, got %d batches %d timers", len(sender.sent), sched.Pending())
	}
	if n := sender.sent[0].batch.Len(); n != 2 {
		t.Fatalf("expected both channels stopped, got %d ops", n)
	}
}

func TestTransition_NoneSendsNothing(t *testing.T) {
	sched := scheduler.NewVirtual()
	sender := &recordingSender{sched: sched}
	te := NewTransitionEngine(sched, sender, 0, 0, events.NewBus(), zerolog.Nop())

	if _, err := te.Execute(context.Background(), musicGroup(models.StatePlaying, models.StateStopped), cueOf("bgm_A")); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no batches, got %d", len(sender.sent))
	}
}

func TestTransition_SendFailure(t *testing.T) {
	sched := scheduler.NewVirtual()
	sender := &recordingSender{sched: sched, err: errors.New("offline")}
	te := NewTransitionEngine(sched, sender, 0, 0, events.NewBus(), zerolog.Nop())

	if _, err := te.Execute(context.Background(), musicGroup(models.StatePlaying, models.StateStopped), cueOf("bgm_B")); err == nil {
		t.Fatal("expected send error")
	}
	if sched.Pending() != 0 {
		t.Fatal("stop batch must not be scheduled when play failed")
	}
}

func TestTransition_CrossfadeEndToEnd(t *testing.T) {
	h := newHarness(t, false)
	h.buffers.files["a.ogg"] = silentBuffer(30 * time.Second)
	h.buffers.files["b.ogg"] = silentBuffer(30 * time.Second)
	_ = h.apply(t, 0, load("bgm_A", "a.ogg"), load("bgm_B", "b.ogg"), models.Play{Channel: "bgm_A"})

	te := NewTransitionEngine(h.sched, NewLoopback(h.engine, h.sched), 0, 0, h.bus, zerolog.Nop())
	if _, err := te.Execute(context.Background(), h.engine.Registry().Group("music"), cueOf("bgm_B")); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if a, b := h.channel(t, "bgm_A").State, h.channel(t, "bgm_B").State; a != models.StatePlaying || b != models.StatePlaying {
		t.Fatalf("expected overlap during handoff, got A=%s B=%s", a, b)
	}

	h.sched.Advance(DefaultHandoffDelay)
	if a, b := h.channel(t, "bgm_A").State, h.channel(t, "bgm_B").State; a != models.StateStopped || b != models.StatePlaying {
		t.Fatalf("expected A stopped and B playing, got A=%s B=%s", a, b)
	}
}
