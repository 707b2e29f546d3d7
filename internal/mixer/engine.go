/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/tablemix/internal/audio"
	"github.com/friendsincode/tablemix/internal/events"
	"github.com/friendsincode/tablemix/internal/models"
	"github.com/friendsincode/tablemix/internal/scheduler"
	"github.com/friendsincode/tablemix/internal/telemetry"
)

// DefaultFrameInterval is the position refresh period.
const DefaultFrameInterval = 16 * time.Millisecond

// Graph is the audio output driven by the engine.
type Graph interface {
	AddChannel(id string, volume float64)
	SetVolume(id string, v float64)
	Start(id string, buf *audio.Buffer, offset time.Duration, loop bool, fade time.Duration)
	Stop(id string, fade time.Duration)
	SetLoop(id string, loop bool)
	SampleLevel(id string) float64
}

// Buffers resolves decoded audio for a channel.
type Buffers interface {
	Lookup(channelID string, ref models.SourceRef) (*audio.Buffer, bool)
	Resolve(ctx context.Context, channelID string, ref models.SourceRef) (*audio.Buffer, error)
}

// Engine applies operations to the channel registry and the audio graph.
//
// Every method that mutates state must run on the scheduler's loop; Run and
// Loopback take care of that. Channels, Channel and SampleLevel are safe from
// any goroutine.
type Engine struct {
	state   *EngineState
	sched   scheduler.Scheduler
	graph   Graph
	buffers Buffers
	bus     *events.Bus
	logger  zerolog.Logger

	unlocker      Unlocker
	async         func(func())
	frameInterval time.Duration
	frameTimer    scheduler.Handle
	observers     []func(models.Channel)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine wires an engine over state. bus may be nil.
func NewEngine(state *EngineState, sched scheduler.Scheduler, graph Graph, buffers Buffers, bus *events.Bus, logger zerolog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		state:         state,
		sched:         sched,
		graph:         graph,
		buffers:       buffers,
		bus:           bus,
		logger:        logger.With().Str("component", "mixer").Logger(),
		unlocker:      Unlocked{},
		async:         func(fn func()) { go fn() },
		frameInterval: DefaultFrameInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, ch := range state.Registry.All() {
		graph.AddChannel(ch.ID, ch.Volume)
	}
	return e
}

// SetUnlocker installs the gesture gate PLAY waits on.
func (e *Engine) SetUnlocker(u Unlocker) {
	if u == nil {
		u = Unlocked{}
	}
	e.unlocker = u
}

// SetAsync replaces the runner used for blocking work (unlock waits, decoding).
// Results are always posted back to the scheduler.
func (e *Engine) SetAsync(run func(func())) {
	e.async = run
}

// SetFrameInterval sets the position refresh period.
func (e *Engine) SetFrameInterval(d time.Duration) {
	if d > 0 {
		e.frameInterval = d
	}
}

// Observe registers a callback for every channel state change. Register
// observers before the engine starts applying batches.
func (e *Engine) Observe(fn func(models.Channel)) {
	e.observers = append(e.observers, fn)
}

// Registry exposes the channel registry.
func (e *Engine) Registry() *Registry {
	return e.state.Registry
}

// Channels returns every channel in layout order.
func (e *Engine) Channels() []models.Channel {
	return e.state.Registry.All()
}

// Channel returns one channel.
func (e *Engine) Channel(id string) (models.Channel, error) {
	return e.state.Registry.Get(id)
}

// SampleLevel returns the metering level of a channel in [0,1].
func (e *Engine) SampleLevel(id string) float64 {
	return e.graph.SampleLevel(id)
}

// Position returns the live clock position of a playing channel. Loop only.
func (e *Engine) Position(id string) (time.Duration, bool) {
	clk, ok := e.state.clocks[id]
	if !ok {
		return 0, false
	}
	pos, _ := clk.position(e.sched.Now())
	return pos, true
}

// Run applies inbound batches one at a time on the scheduler loop until ctx
// is cancelled or in is closed.
func (e *Engine) Run(ctx context.Context, in <-chan models.Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-in:
			if !ok {
				return nil
			}
			e.sched.Post(func() { _ = e.ApplyBatch(b) })
		}
	}
}

// Close cancels outstanding decode and unlock waits and every timer. Loop only.
func (e *Engine) Close() {
	e.cancel()
	for id := range e.state.clocks {
		e.releaseClock(id)
	}
	clear(e.state.pending)
	if e.frameTimer != 0 {
		e.sched.Cancel(e.frameTimer)
		e.frameTimer = 0
	}
}

// ApplyBatch applies every operation in order. A failing operation never
// prevents the rest of the batch from applying; failures are logged and
// returned joined for observability only.
func (e *Engine) ApplyBatch(b models.Batch) error {
	var errs []error
	for i, op := range b.Operations {
		err := e.ApplyOperation(op, b.FadeDuration)
		result := telemetry.ResultApplied
		if err != nil {
			result = telemetry.ResultRejected
			level := zerolog.WarnLevel
			if errors.Is(err, ErrPrecondition) {
				level = zerolog.DebugLevel
			}
			e.logger.WithLevel(level).Err(err).
				Int("index", i).
				Str("op", string(op.Kind())).
				Str("channel_id", op.ChannelID()).
				Msg("operation not applied")
			e.bus.Publish(events.EventOperationFailed, events.Payload{
				"channel_id": op.ChannelID(),
				"op":         string(op.Kind()),
				"error":      err.Error(),
			})
			errs = append(errs, fmt.Errorf("operation %d (%s %s): %w", i, op.Kind(), op.ChannelID(), err))
		}
		telemetry.OperationsTotal.WithLabelValues(string(op.Kind()), result).Inc()
	}
	telemetry.BatchesApplied.Inc()
	e.bus.Publish(events.EventBatchApplied, events.Payload{
		"batch_ops": b.Len(),
		"fade_ms":   b.FadeDuration.Milliseconds(),
		"failed":    len(errs),
	})
	return errors.Join(errs...)
}

// ApplyOperation applies one operation. fade is the enclosing batch's fade
// duration, used only by PLAY and STOP operations that request a fade.
func (e *Engine) ApplyOperation(op models.Operation, fade time.Duration) error {
	ch, err := e.state.Registry.Get(op.ChannelID())
	if err != nil {
		return err
	}
	switch o := op.(type) {
	case models.Load:
		return e.load(ch, o.Source)
	case models.Play:
		return e.play(ch, fadeFor(o.Fade, fade))
	case models.Resume:
		return e.resume(ch)
	case models.Pause:
		return e.pause(ch)
	case models.Stop:
		return e.stop(ch, fadeFor(o.Fade, fade))
	case models.SetVolume:
		return e.setVolume(ch, o.Volume)
	case models.SetLoop:
		return e.setLoop(ch, o.Looping)
	default:
		return fmt.Errorf("%w: %T", models.ErrUnknownOperation, op)
	}
}

func fadeFor(requested bool, batchFade time.Duration) time.Duration {
	if !requested || batchFade < 0 {
		return 0
	}
	return batchFade
}

func (e *Engine) load(ch models.Channel, src models.SourceRef) error {
	patch := models.ChannelPatch{Source: models.WithSource(src)}
	if ch.State == models.StateStopped {
		var dur time.Duration
		if buf, ok := e.buffers.Lookup(ch.ID, src); ok {
			dur = buf.Duration()
		}
		patch.CurrentTime = models.WithDuration(0)
		patch.Duration = models.WithDuration(dur)
	}
	if p, ok := e.state.pending[ch.ID]; ok {
		if src.IsZero() {
			delete(e.state.pending, ch.ID)
		} else {
			p.source = src
		}
	}

	updated, err := e.state.Registry.Set(ch.ID, patch)
	if err != nil {
		return err
	}
	e.logger.Debug().Str("channel_id", ch.ID).Str("source", src.String()).Msg("source loaded")
	e.changed(updated)

	if !src.IsZero() {
		e.prefetch(ch.ID, src)
	}
	return nil
}

// prefetch warms the buffer cache so a later PLAY starts without waiting.
func (e *Engine) prefetch(id string, src models.SourceRef) {
	if _, ok := e.buffers.Lookup(id, src); ok {
		return
	}
	e.async(func() {
		buf, err := e.buffers.Resolve(e.ctx, id, src)
		e.sched.Post(func() {
			if err != nil {
				e.logger.Debug().Err(err).Str("channel_id", id).Msg("prefetch failed")
				return
			}
			ch, gerr := e.state.Registry.Get(id)
			if gerr != nil || ch.Source != src || ch.State != models.StateStopped || ch.Duration != 0 {
				return
			}
			if updated, serr := e.state.Registry.Set(id, models.ChannelPatch{Duration: models.WithDuration(buf.Duration())}); serr == nil {
				e.changed(updated)
			}
		})
	})
}

func (e *Engine) play(ch models.Channel, fade time.Duration) error {
	switch ch.State {
	case models.StatePlaying:
		// Transport delivery is at-least-once, so a repeated PLAY is expected.
		e.logger.Debug().Str("channel_id", ch.ID).Msg("play on playing channel ignored")
		return nil
	case models.StatePaused:
		return e.requestStart(ch, ch.CurrentTime, fade)
	default:
		return e.requestStart(ch, 0, fade)
	}
}

func (e *Engine) resume(ch models.Channel) error {
	if ch.State != models.StatePaused {
		return fmt.Errorf("%w: resume on %s channel %s", ErrPrecondition, ch.State, ch.ID)
	}
	return e.requestStart(ch, ch.CurrentTime, 0)
}

// requestStart queues the channel's single pending start, replacing any
// earlier one, then moves it through unlock and buffer resolution.
func (e *Engine) requestStart(ch models.Channel, offset, fade time.Duration) error {
	if ch.Source.IsZero() {
		return fmt.Errorf("%w: %s", ErrNoSource, ch.ID)
	}
	if _, ok := e.state.pending[ch.ID]; ok {
		e.logger.Debug().Str("channel_id", ch.ID).Msg("replacing pending play")
	}
	p := &pendingStart{token: e.state.nextGen(), source: ch.Source, offset: offset, fade: fade}
	e.state.pending[ch.ID] = p

	if !e.unlocker.IsUnlocked() {
		e.logger.Debug().Str("channel_id", ch.ID).Msg("play waiting for audio unlock")
		id, token := ch.ID, p.token
		e.async(func() {
			ok := e.unlocker.Unlock(e.ctx)
			e.sched.Post(func() { e.afterUnlock(id, token, ok) })
		})
		return nil
	}
	e.resolveStart(ch.ID, p.token)
	return nil
}

func (e *Engine) pendingFor(id string, token uint64) *pendingStart {
	p, ok := e.state.pending[id]
	if !ok || p.token != token {
		return nil
	}
	return p
}

func (e *Engine) afterUnlock(id string, token uint64, ok bool) {
	if e.pendingFor(id, token) == nil {
		return
	}
	if !ok {
		delete(e.state.pending, id)
		e.logger.Warn().Err(ErrUnlockRequired).Str("channel_id", id).Msg("play abandoned")
		e.bus.Publish(events.EventOperationFailed, events.Payload{
			"channel_id": id,
			"op":         string(models.OpPlay),
			"error":      ErrUnlockRequired.Error(),
		})
		return
	}
	e.resolveStart(id, token)
}

func (e *Engine) resolveStart(id string, token uint64) {
	p := e.pendingFor(id, token)
	if p == nil {
		return
	}
	if buf, ok := e.buffers.Lookup(id, p.source); ok {
		delete(e.state.pending, id)
		e.startVoice(id, buf, p)
		return
	}
	ref := p.source
	e.async(func() {
		buf, err := e.buffers.Resolve(e.ctx, id, ref)
		e.sched.Post(func() { e.finishResolve(id, token, ref, buf, err) })
	})
}

func (e *Engine) finishResolve(id string, token uint64, ref models.SourceRef, buf *audio.Buffer, err error) {
	p := e.pendingFor(id, token)
	if p == nil {
		e.logger.Debug().Str("channel_id", id).Msg("decode finished for dropped play")
		return
	}
	if p.source != ref {
		// LOAD replaced the source while decoding.
		e.resolveStart(id, token)
		return
	}
	delete(e.state.pending, id)
	if err != nil {
		e.decodeFailed(id, ref, err)
		return
	}
	e.startVoice(id, buf, p)
}

func (e *Engine) decodeFailed(id string, ref models.SourceRef, err error) {
	telemetry.DecodeErrors.Inc()
	e.logger.Warn().Err(err).Str("channel_id", id).Str("source", ref.String()).Msg("play failed, channel unchanged")
	e.bus.Publish(events.EventDecodeFailed, events.Payload{
		"channel_id": id,
		"source":     ref.String(),
		"error":      err.Error(),
	})
}

func (e *Engine) startVoice(id string, buf *audio.Buffer, p *pendingStart) {
	ch, err := e.state.Registry.Get(id)
	if err != nil {
		return
	}
	dur := buf.Duration()
	offset := p.offset
	if dur > 0 && offset >= dur {
		if ch.Looping {
			offset %= dur
		} else {
			offset = 0
		}
	}

	e.releaseClock(id)
	e.graph.Start(id, buf, offset, ch.Looping, p.fade)
	clk := &playbackClock{
		startedAt: e.sched.Now(),
		offset:    offset,
		duration:  dur,
		loop:      ch.Looping,
		gen:       e.state.nextGen(),
	}
	e.state.clocks[id] = clk
	e.armEndTimer(id, clk)

	updated, err := e.state.Registry.Set(id, models.ChannelPatch{
		State:       models.WithState(models.StatePlaying),
		CurrentTime: models.WithDuration(offset),
		Duration:    models.WithDuration(dur),
	})
	if err != nil {
		e.logger.Error().Err(err).Str("channel_id", id).Msg("registry refused playing state")
		return
	}
	e.ensureFrameTicker()
	e.logger.Debug().
		Str("channel_id", id).
		Dur("offset", offset).
		Int64("fade_ms", p.fade.Milliseconds()).
		Msg("channel playing")
	e.changed(updated)
}

func (e *Engine) armEndTimer(id string, clk *playbackClock) {
	if clk.endTimer != 0 {
		e.sched.Cancel(clk.endTimer)
		clk.endTimer = 0
	}
	if clk.loop || clk.duration <= 0 {
		return
	}
	gen := clk.gen
	clk.endTimer = e.sched.ScheduleOnce(clk.remaining(e.sched.Now()), func() { e.finish(id, gen) })
}

// releaseClock drops a channel's clock and its end timer so no stale
// completion can fire for it.
func (e *Engine) releaseClock(id string) {
	clk, ok := e.state.clocks[id]
	if !ok {
		return
	}
	if clk.endTimer != 0 {
		e.sched.Cancel(clk.endTimer)
	}
	delete(e.state.clocks, id)
}

// finish moves a non-looping channel that reached its end to STOPPED. It runs
// at most once per playback run.
func (e *Engine) finish(id string, gen uint64) {
	clk, ok := e.state.clocks[id]
	if !ok || clk.gen != gen {
		return
	}
	e.releaseClock(id)
	e.graph.Stop(id, 0)
	updated, err := e.state.Registry.Set(id, models.ChannelPatch{
		State:       models.WithState(models.StateStopped),
		CurrentTime: models.WithDuration(0),
	})
	if err != nil {
		return
	}
	e.logger.Debug().Str("channel_id", id).Msg("channel reached end")
	e.changed(updated)
	e.bus.Publish(events.EventChannelEnded, events.Payload{"channel_id": id})
}

func (e *Engine) ensureFrameTicker() {
	if e.frameTimer != 0 {
		return
	}
	e.frameTimer = e.sched.ScheduleRepeating(e.frameInterval, e.tick)
}

// tick refreshes displayed positions and catches any run past its end.
func (e *Engine) tick() {
	now := e.sched.Now()
	for id, clk := range e.state.clocks {
		pos, ended := clk.position(now)
		if ended {
			e.finish(id, clk.gen)
			continue
		}
		_, _ = e.state.Registry.Set(id, models.ChannelPatch{CurrentTime: models.WithDuration(pos)})
	}
	if len(e.state.clocks) == 0 && e.frameTimer != 0 {
		e.sched.Cancel(e.frameTimer)
		e.frameTimer = 0
	}
}

func (e *Engine) pause(ch models.Channel) error {
	if ch.IsSFX() {
		return fmt.Errorf("%w: pause on sfx channel %s", ErrInvariantViolation, ch.ID)
	}
	if ch.State != models.StatePlaying {
		return fmt.Errorf("%w: pause on %s channel %s", ErrPrecondition, ch.State, ch.ID)
	}

	pos := ch.CurrentTime
	if clk, ok := e.state.clocks[ch.ID]; ok {
		var ended bool
		pos, ended = clk.position(e.sched.Now())
		if ended {
			e.finish(ch.ID, clk.gen)
			return nil
		}
	}
	e.releaseClock(ch.ID)
	e.graph.Stop(ch.ID, 0)

	updated, err := e.state.Registry.Set(ch.ID, models.ChannelPatch{
		State:       models.WithState(models.StatePaused),
		CurrentTime: models.WithDuration(pos),
	})
	if err != nil {
		return err
	}
	e.logger.Debug().Str("channel_id", ch.ID).Dur("position", pos).Msg("channel paused")
	e.changed(updated)
	return nil
}

func (e *Engine) stop(ch models.Channel, fade time.Duration) error {
	_, hadPending := e.state.pending[ch.ID]
	delete(e.state.pending, ch.ID)
	if ch.State == models.StateStopped {
		if hadPending {
			e.logger.Debug().Str("channel_id", ch.ID).Msg("pending play cancelled")
		}
		return nil
	}

	e.releaseClock(ch.ID)
	e.graph.Stop(ch.ID, fade)
	updated, err := e.state.Registry.Set(ch.ID, models.ChannelPatch{
		State:       models.WithState(models.StateStopped),
		CurrentTime: models.WithDuration(0),
	})
	if err != nil {
		return err
	}
	e.logger.Debug().Str("channel_id", ch.ID).Int64("fade_ms", fade.Milliseconds()).Msg("channel stopped")
	e.changed(updated)
	return nil
}

func (e *Engine) setVolume(ch models.Channel, v float64) error {
	vol := models.ClampVolume(v)
	e.graph.SetVolume(ch.ID, vol)
	updated, err := e.state.Registry.Set(ch.ID, models.ChannelPatch{Volume: models.WithFloat(vol)})
	if err != nil {
		return err
	}
	e.changed(updated)
	return nil
}

func (e *Engine) setLoop(ch models.Channel, looping bool) error {
	if ch.IsSFX() {
		return fmt.Errorf("%w: loop on sfx channel %s", ErrInvariantViolation, ch.ID)
	}
	updated, err := e.state.Registry.Set(ch.ID, models.ChannelPatch{Looping: models.WithBool(looping)})
	if err != nil {
		return err
	}
	if clk, ok := e.state.clocks[ch.ID]; ok && clk.loop != looping {
		clk.rebase(e.sched.Now(), looping)
		e.graph.SetLoop(ch.ID, looping)
		e.armEndTimer(ch.ID, clk)
	}
	e.changed(updated)
	return nil
}

func (e *Engine) changed(ch models.Channel) {
	for _, fn := range e.observers {
		fn(ch)
	}
	e.bus.Publish(events.EventChannelChanged, events.Payload{"channel": ch})
}
