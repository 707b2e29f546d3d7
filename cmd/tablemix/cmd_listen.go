/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/spf13/cobra"

	"github.com/friendsincode/tablemix/internal/assets"
	"github.com/friendsincode/tablemix/internal/audio"
	"github.com/friendsincode/tablemix/internal/events"
	"github.com/friendsincode/tablemix/internal/layout"
	"github.com/friendsincode/tablemix/internal/mixer"
	"github.com/friendsincode/tablemix/internal/room"
	"github.com/friendsincode/tablemix/internal/scheduler"
)

var listenFlags struct {
	autostart     bool
	operator      bool
	status        time.Duration
	speakerBuffer time.Duration
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Join a room and play its mix",
	Long: `Join a room, apply every relayed batch to a local mixer and play the result
through the default audio device. Audio stays muted until "unlock" is typed
(or --autostart is given). With --operator the console also accepts mixer
commands that are published to the room; type "help" for the list.`,
	RunE: runListen,
}

func init() {
	f := listenCmd.Flags()
	f.BoolVar(&listenFlags.autostart, "autostart", false, "unlock audio output immediately")
	f.BoolVar(&listenFlags.operator, "operator", false, "accept operator commands on stdin")
	f.DurationVar(&listenFlags.status, "status", 0, "log channel status at this interval (0 disables)")
	f.DurationVar(&listenFlags.speakerBuffer, "speaker-buffer", 100*time.Millisecond, "audio device buffer")
}

func runListen(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher, err := newFetcher(ctx)
	if err != nil {
		return err
	}
	rate := beep.SampleRate(cfg.SampleRate)
	cache := audio.NewCache(fetcher, audio.FormatDecoder{SampleRate: rate}, logger)
	graph := audio.NewGraph(rate)

	if err := speaker.Init(rate, rate.N(listenFlags.speakerBuffer)); err != nil {
		return fmt.Errorf("init audio device: %w", err)
	}
	defer speaker.Close()
	speaker.Play(graph)

	bus := events.NewBus()
	defer bus.Close()

	sched := scheduler.NewLoop()
	engine := mixer.NewEngine(mixer.NewEngineState(slots.Channels()), sched, graph, cache, bus, logger)
	engine.SetFrameInterval(cfg.FrameInterval)
	gate := mixer.NewGate()
	if listenFlags.autostart {
		gate.Open()
	}
	engine.SetUnlocker(gate)

	client, err := room.Dial(ctx, relayFlags.url, relayFlags.room, relayFlags.token, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	con := &console{engine: engine, graph: graph, gate: gate, sched: sched, groups: slots, out: cmd.OutOrStdout()}
	if listenFlags.operator {
		pending := mixer.NewPendingTracker(sched, cfg.PendingTimeout, bus, logger)
		transitions := mixer.NewTransitionEngine(sched, client, cfg.HandoffDelay, cfg.DefaultFade, bus, logger)
		con.ctrl = mixer.NewController(engine, client, pending, transitions, logger)
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- sched.Run(ctx) }()
	defer func() {
		done := make(chan struct{})
		sched.Post(func() { engine.Close(); close(done) })
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}()

	go watchEngine(ctx, bus, logger)
	go func() {
		for err := range client.Errors() {
			fmt.Fprintln(con.out, "relay:", err)
		}
	}()
	if listenFlags.status > 0 {
		go con.statusLoop(ctx, listenFlags.status)
	}
	go con.run(ctx, os.Stdin, stop)

	if !listenFlags.autostart {
		fmt.Fprintln(con.out, `audio is locked; type "unlock" to enable output`)
	}
	logger.Info().Str("room_id", relayFlags.room).Str("relay", relayFlags.url).Msg("listening")

	err = engine.Run(ctx, client.Batches())
	if cerr := client.Err(); cerr != nil && err == nil {
		err = cerr
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// newFetcher chains the configured asset sources: local media root, HTTP
// URLs and catalog ids, and S3 when a bucket is configured.
func newFetcher(ctx context.Context) (*assets.Chain, error) {
	resolvers := []assets.Resolver{
		assets.NewFileResolver(cfg.MediaRoot, assets.DefaultMaxBytes),
		assets.NewHTTPResolver(&http.Client{Timeout: 60 * time.Second}, cfg.CatalogURL, assets.DefaultMaxBytes),
	}
	if cfg.S3Bucket != "" {
		s3r, err := assets.NewS3Resolver(ctx, assets.S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			MaxBytes:        assets.DefaultMaxBytes,
		})
		if err != nil {
			return nil, err
		}
		resolvers = append(resolvers, s3r)
	}
	return assets.NewChain(logger, resolvers...), nil
}
