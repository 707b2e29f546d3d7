/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/tablemix/internal/layout"
	"github.com/friendsincode/tablemix/internal/mixer"
	"github.com/friendsincode/tablemix/internal/models"
	"github.com/friendsincode/tablemix/internal/room"
	"github.com/friendsincode/tablemix/internal/scheduler"
)

var cueFlags struct {
	group   string
	targets []string
	armed   []string
}

var cueCmd = &cobra.Command{
	Use:   "cue",
	Short: "Run a BGM transition in a room",
	Long: `Stage --target channels of a group and execute the transition against what
the room is playing. Channels in the group that are not targets stop. With no
fade-armed channel involved the transition is a crossfade (start, then stop
after the handoff delay); otherwise one batch fades everything.`,
	RunE: runCue,
}

func init() {
	cueCmd.Flags().StringVar(&cueFlags.group, "group", layout.GroupMusic, "transition group")
	cueCmd.Flags().StringSliceVar(&cueFlags.targets, "target", nil, "channels that should be playing afterwards")
	cueCmd.Flags().StringSliceVar(&cueFlags.armed, "fade-armed", nil, "channels armed for a faded transition")
}

// countingSender signals every successful send so the command can wait for
// the delayed half of a crossfade.
type countingSender struct {
	inner mixer.Sender
	mu    sync.Mutex
	sent  int
	ch    chan struct{}
}

func newCountingSender(inner mixer.Sender) *countingSender {
	return &countingSender{inner: inner, ch: make(chan struct{}, 4)}
}

func (s *countingSender) Send(ctx context.Context, b models.Batch) error {
	if err := s.inner.Send(ctx, b); err != nil {
		return err
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	select {
	case s.ch <- struct{}{}:
	default:
	}
	return nil
}

func (s *countingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// batchesFor returns how many batches a plan sends.
func batchesFor(p mixer.Plan) int {
	switch {
	case p.Strategy == mixer.StrategyNone:
		return 0
	case p.Strategy == mixer.StrategyCrossfade && len(p.ToStart) > 0 && len(p.ToStop) > 0:
		return 2
	default:
		return 1
	}
}

func runCue(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if err := requireRoom(); err != nil {
		return err
	}
	slots, err := layout.Load(cfg.LayoutFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	client, err := room.Dial(ctx, relayFlags.url, relayFlags.room, relayFlags.token, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	// The first message is the room snapshot; fold it to learn what is playing.
	tracker := room.NewTracker(slots.Channels())
	select {
	case snap, ok := <-client.Batches():
		if !ok {
			return fmt.Errorf("relay closed before snapshot: %v", client.Err())
		}
		tracker.Apply(snap)
	case <-ctx.Done():
		return ctx.Err()
	}

	var group []models.Channel
	for _, id := range slots.Group(cueFlags.group) {
		if ch, ok := tracker.Channel(id); ok {
			group = append(group, ch)
		}
	}
	if len(group) == 0 {
		return fmt.Errorf("group %q has no channels", cueFlags.group)
	}

	cue := mixer.NewCue()
	for _, id := range cueFlags.targets {
		cue.Toggle(id)
	}
	for _, id := range cueFlags.armed {
		cue.Arm(id, true)
	}

	sched := scheduler.NewLoop()
	go func() { _ = sched.Run(ctx) }()

	sender := newCountingSender(client)
	transitions := mixer.NewTransitionEngine(sched, sender, cfg.HandoffDelay, cfg.DefaultFade, nil, logger)
	plan, err := transitions.Execute(ctx, group, cue)
	if err != nil {
		return err
	}

	for want := batchesFor(plan); sender.count() < want; {
		select {
		case <-sender.ch:
		case <-ctx.Done():
			return fmt.Errorf("waiting for transition batches: %w", ctx.Err())
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: start %v stop %v\n", plan.Strategy, plan.ToStart, plan.ToStop)
	return nil
}
