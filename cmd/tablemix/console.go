/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/tablemix/internal/audio"
	"github.com/friendsincode/tablemix/internal/events"
	"github.com/friendsincode/tablemix/internal/layout"
	"github.com/friendsincode/tablemix/internal/mixer"
	"github.com/friendsincode/tablemix/internal/scheduler"
)

var errOperatorOnly = errors.New("operator command; start listen with --operator")

const consoleHelp = `commands:
  unlock                 enable audio output
  master <0..1.3>        local master volume
  status                 show channels
  quit                   leave the room
operator commands:
  play|pause|resume|stop <channel>
  volume <channel> <0..1.3>
  loop <channel> on|off
  load <channel> <file|asset:id|url>
  cue <channel>          toggle a transition target
  arm <channel> on|off   fade-arm a channel
  go [group]             execute the staged cue (default group music)`

// console is the line-oriented front end of the listen command.
type console struct {
	engine *mixer.Engine
	graph  *audio.Graph
	gate   *mixer.Gate
	sched  scheduler.Scheduler
	groups layout.Layout
	ctrl   *mixer.Controller // nil for viewers
	out    io.Writer
}

func (c *console) run(ctx context.Context, in io.Reader, quit func()) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		done, err := c.exec(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
		}
		if done {
			quit()
			return
		}
	}
}

// exec runs one console line. It reports true when the user asked to quit.
func (c *console) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
		return false, nil
	case "unlock":
		c.gate.Open()
		fmt.Fprintln(c.out, "audio unlocked")
		return false, nil
	case "master":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: master <volume>")
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return false, err
		}
		c.graph.SetMasterVolume(v)
		return false, nil
	case "status":
		c.printStatus()
		return false, nil
	}

	if c.ctrl == nil {
		return false, errOperatorOnly
	}
	return false, c.operate(ctx, cmd, args)
}

func (c *console) operate(ctx context.Context, cmd string, args []string) error {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d argument(s); type help", cmd, n)
		}
		return nil
	}

	switch cmd {
	case "play", "resume":
		if err := need(1); err != nil {
			return err
		}
		return c.ctrl.Play(ctx, arg(0))
	case "pause":
		if err := need(1); err != nil {
			return err
		}
		return c.ctrl.Pause(ctx, arg(0))
	case "stop":
		if err := need(1); err != nil {
			return err
		}
		return c.ctrl.Stop(ctx, arg(0))
	case "volume":
		if err := need(2); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(arg(1), 64)
		if err != nil {
			return err
		}
		return c.ctrl.SetVolume(ctx, arg(0), v)
	case "loop":
		if err := need(2); err != nil {
			return err
		}
		on, err := parseSwitch(arg(1))
		if err != nil {
			return err
		}
		return c.ctrl.SetLoop(ctx, arg(0), on)
	case "load":
		if err := need(2); err != nil {
			return err
		}
		return c.ctrl.Load(ctx, arg(0), parseSource(arg(1)))
	case "cue":
		if err := need(1); err != nil {
			return err
		}
		if _, err := c.engine.Channel(arg(0)); err != nil {
			return err
		}
		c.ctrl.ToggleCue(arg(0))
		return nil
	case "arm":
		if err := need(2); err != nil {
			return err
		}
		on, err := parseSwitch(arg(1))
		if err != nil {
			return err
		}
		c.ctrl.ArmFade(arg(0), on)
		return nil
	case "go":
		group := layout.GroupMusic
		if len(args) > 0 {
			group = args[0]
		}
		if len(c.groups.Group(group)) == 0 {
			return fmt.Errorf("unknown transition group %q", group)
		}
		plan, err := c.ctrl.ExecuteCue(ctx, group)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s: start %v stop %v\n", plan.Strategy, plan.ToStart, plan.ToStop)
		return nil
	default:
		return fmt.Errorf("unknown command %q; type help", cmd)
	}
}

// snapshotPositions reads live clock positions on the scheduler loop.
func (c *console) snapshotPositions() map[string]time.Duration {
	positions := make(map[string]time.Duration)
	done := make(chan struct{})
	c.sched.Post(func() {
		for _, ch := range c.engine.Channels() {
			if pos, ok := c.engine.Position(ch.ID); ok {
				positions[ch.ID] = pos
			}
		}
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return positions
}

func (c *console) printStatus() {
	positions := c.snapshotPositions()
	var cue mixer.Cue
	if c.ctrl != nil {
		cue = c.ctrl.Cue()
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tSTATE\tSOURCE\tVOL\tLOOP\tPOS\tLEVEL\tCUE")
	for _, ch := range c.engine.Channels() {
		pos := ch.CurrentTime
		if p, ok := positions[ch.ID]; ok {
			pos = p
		}
		mark := ""
		if cue.Targets[ch.ID] {
			mark = "*"
		}
		if cue.Armed[ch.ID] {
			mark += "f"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%t\t%s/%s\t%.2f\t%s\n",
			ch.ID, ch.State, ch.Source, ch.Volume, ch.Looping,
			pos.Truncate(100*time.Millisecond), ch.Duration.Truncate(100*time.Millisecond),
			c.engine.SampleLevel(ch.ID), mark)
	}
	_ = tw.Flush()
}

func (c *console) statusLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.printStatus()
		}
	}
}

// watchEngine reports channel ends and transitions at info level.
func watchEngine(ctx context.Context, bus *events.Bus, logger zerolog.Logger) {
	sub := bus.Subscribe(events.EventChannelEnded, events.EventTransitionIssued, events.EventPendingTimeout)
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			e := logger.Info().Str("event", string(ev.Type))
			for k, v := range ev.Payload {
				e = e.Interface(k, v)
			}
			e.Msg("mixer event")
		}
	}
}
