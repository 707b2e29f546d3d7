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

	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"

	"github.com/friendsincode/tablemix/internal/audio"
	"github.com/friendsincode/tablemix/internal/events"
	"github.com/friendsincode/tablemix/internal/models"
	"github.com/friendsincode/tablemix/internal/scheduler"
)

const testRate = beep.SampleRate(1000)

func silentBuffer(d time.Duration) *audio.Buffer {
	return audio.NewBufferFromSamples(testRate, make([][2]float64, testRate.N(d)))
}

// fakeBuffers serves pre-registered buffers by filename; unknown files fail to decode.
type fakeBuffers struct {
	files    map[string]*audio.Buffer
	cached   map[audio.Key]*audio.Buffer
	resolves int
}

func newFakeBuffers() *fakeBuffers {
	return &fakeBuffers{files: make(map[string]*audio.Buffer), cached: make(map[audio.Key]*audio.Buffer)}
}

func (f *fakeBuffers) Lookup(channelID string, ref models.SourceRef) (*audio.Buffer, bool) {
	b, ok := f.cached[audio.CacheKey(channelID, ref)]
	return b, ok
}

func (f *fakeBuffers) Resolve(_ context.Context, channelID string, ref models.SourceRef) (*audio.Buffer, error) {
	f.resolves++
	b, ok := f.files[ref.Filename]
	if !ok {
		return nil, audio.ErrDecode
	}
	f.cached[audio.CacheKey(channelID, ref)] = b
	return b, nil
}

type harness struct {
	sched   *scheduler.Virtual
	graph   *audio.Graph
	buffers *fakeBuffers
	bus     *events.Bus
	engine  *Engine
	queued  []func()
	changes []models.Channel
}

func testChannels() []models.Channel {
	return []models.Channel{
		models.NewChannel("bgm_A", models.ChannelBGM, "music", "A"),
		models.NewChannel("bgm_B", models.ChannelBGM, "music", "B"),
		models.NewChannel("amb_1", models.ChannelBGM, "ambience", ""),
		models.NewChannel("sfx_1", models.ChannelSFX, "", ""),
	}
}

// newHarness builds an engine on a virtual clock. With deferAsync, decode and
// unlock work is queued until runQueued is called; otherwise it runs inline.
func newHarness(t *testing.T, deferAsync bool) *harness {
	t.Helper()
	h := &harness{
		sched:   scheduler.NewVirtual(),
		graph:   audio.NewGraph(testRate),
		buffers: newFakeBuffers(),
		bus:     events.NewBus(),
	}
	h.engine = NewEngine(NewEngineState(testChannels()), h.sched, h.graph, h.buffers, h.bus, zerolog.Nop())
	if deferAsync {
		h.engine.SetAsync(func(fn func()) { h.queued = append(h.queued, fn) })
	} else {
		h.engine.SetAsync(func(fn func()) { fn() })
	}
	h.engine.Observe(func(ch models.Channel) { h.changes = append(h.changes, ch) })
	h.buffers.files["ten.wav"] = silentBuffer(10 * time.Second)
	h.buffers.files["two.wav"] = silentBuffer(2 * time.Second)
	h.buffers.files["hit.wav"] = silentBuffer(500 * time.Millisecond)
	return h
}

func (h *harness) runQueued() {
	for len(h.queued) > 0 {
		fn := h.queued[0]
		h.queued = h.queued[1:]
		fn()
	}
}

func (h *harness) apply(t *testing.T, fade time.Duration, ops ...models.Operation) error {
	t.Helper()
	return h.engine.ApplyBatch(models.NewBatch(fade, ops...))
}

func (h *harness) channel(t *testing.T, id string) models.Channel {
	t.Helper()
	ch, err := h.engine.Channel(id)
	if err != nil {
		t.Fatalf("channel %s: %v", id, err)
	}
	return ch
}

func load(id, file string) models.Operation {
	return models.Load{Channel: id, Source: models.SourceRef{Filename: file}}
}

func TestEngine_SFXNeverLoops(t *testing.T) {
	h := newHarness(t, false)
	err := h.apply(t, 0, load("sfx_1", "hit.wav"), models.SetLoop{Channel: "sfx_1", Looping: true})
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if h.channel(t, "sfx_1").Looping {
		t.Fatal("sfx channel must never loop")
	}
}

func TestEngine_SFXPauseIsNoop(t *testing.T) {
	h := newHarness(t, false)
	if err := h.apply(t, 0, load("sfx_1", "hit.wav"), models.Play{Channel: "sfx_1"}); err != nil {
		t.Fatalf("play: %v", err)
	}
	before := h.channel(t, "sfx_1")

	if err := h.apply(t, 0, models.Pause{Channel: "sfx_1"}); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	after := h.channel(t, "sfx_1")
	if after != before {
		t.Fatalf("pause changed sfx state: %+v -> %+v", before, after)
	}
}

func TestEngine_LoopingPositionWraps(t *testing.T) {
	h := newHarness(t, false)
	if err := h.apply(t, 0,
		load("bgm_A", "two.wav"),
		models.SetLoop{Channel: "bgm_A", Looping: true},
		models.Play{Channel: "bgm_A"},
	); err != nil {
		t.Fatalf("apply: %v", err)
	}

	d := 2 * time.Second
	for _, at := range []time.Duration{
		500 * time.Millisecond,
		1999 * time.Millisecond,
		2 * time.Second,
		2500 * time.Millisecond,
		4700 * time.Millisecond,
		6100 * time.Millisecond,
		7900 * time.Millisecond,
	} {
		h.sched.AdvanceTo(at)
		pos, ok := h.engine.Position("bgm_A")
		if !ok {
			t.Fatalf("at %s: channel stopped", at)
		}
		if want := at % d; pos != want {
			t.Fatalf("at %s: position %s, want %s", at, pos, want)
		}
	}
	if h.channel(t, "bgm_A").State != models.StatePlaying {
		t.Fatal("looping channel should keep playing")
	}

	// Frame-aligned registry time follows the same formula.
	h.sched.AdvanceTo(8000 * time.Millisecond)
	if ct := h.channel(t, "bgm_A").CurrentTime; ct != 0 {
		t.Fatalf("expected registry time 0 at 8s, got %s", ct)
	}
}

func TestEngine_NonLoopingEndsExactlyOnce(t *testing.T) {
	h := newHarness(t, false)
	ended := h.bus.Subscribe(events.EventChannelEnded)
	if err := h.apply(t, 0, load("bgm_A", "ten.wav"), models.Play{Channel: "bgm_A"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ch := h.channel(t, "bgm_A"); ch.State != models.StatePlaying || ch.Duration != 10*time.Second {
		t.Fatalf("expected playing 10s channel, got %+v", ch)
	}

	h.sched.Advance(5 * time.Second)
	if ct := h.channel(t, "bgm_A").CurrentTime; ct < 4900*time.Millisecond || ct > 5*time.Second {
		t.Fatalf("expected ~5s position, got %s", ct)
	}

	h.sched.AdvanceTo(10100 * time.Millisecond)
	ch := h.channel(t, "bgm_A")
	if ch.State != models.StateStopped || ch.CurrentTime != 0 {
		t.Fatalf("expected stopped at 0 after end, got %s at %s", ch.State, ch.CurrentTime)
	}
	if h.graph.Playing("bgm_A") {
		t.Fatal("voice should be released at end")
	}

	h.sched.Advance(20 * time.Second)
	stops := 0
	prev := models.StateStopped
	for _, c := range h.changes {
		if c.ID != "bgm_A" {
			continue
		}
		if prev == models.StatePlaying && c.State == models.StateStopped {
			stops++
		}
		prev = c.State
	}
	if stops != 1 {
		t.Fatalf("expected exactly one stop transition, got %d", stops)
	}
	if len(ended) != 1 {
		t.Fatalf("expected exactly one ended event, got %d", len(ended))
	}
	if h.sched.Pending() != 0 {
		t.Fatalf("expected no timers left, got %d", h.sched.Pending())
	}
}

func TestEngine_VolumeClamped(t *testing.T) {
	h := newHarness(t, false)
	_ = h.apply(t, 0, models.SetVolume{Channel: "bgm_A", Volume: 2.0})
	if v := h.channel(t, "bgm_A").Volume; v != models.MaxVolume {
		t.Fatalf("expected %v, got %v", models.MaxVolume, v)
	}
	if v := h.graph.Volume("bgm_A"); v != models.MaxVolume {
		t.Fatalf("expected graph gain %v, got %v", models.MaxVolume, v)
	}
	_ = h.apply(t, 0, models.SetVolume{Channel: "bgm_A", Volume: -1})
	if v := h.channel(t, "bgm_A").Volume; v != models.MinVolume {
		t.Fatalf("expected %v, got %v", models.MinVolume, v)
	}
}

func TestEngine_DecodeFailureLeavesStateAndContinuesBatch(t *testing.T) {
	h := newHarness(t, false)
	decodeFailed := h.bus.Subscribe(events.EventDecodeFailed)

	err := h.apply(t, 0,
		load("bgm_A", "missing.wav"),
		models.Play{Channel: "bgm_A"},
		models.SetVolume{Channel: "bgm_A", Volume: 0.4},
	)
	if err != nil {
		t.Fatalf("async decode failure should not fail the batch: %v", err)
	}
	ch := h.channel(t, "bgm_A")
	if ch.State != models.StateStopped {
		t.Fatalf("expected channel to stay stopped, got %s", ch.State)
	}
	if ch.Volume != 0.4 {
		t.Fatalf("expected later operation applied, got volume %v", ch.Volume)
	}
	if len(decodeFailed) != 1 {
		t.Fatalf("expected one decode failure event, got %d", len(decodeFailed))
	}
}

func TestEngine_FailingOperationDoesNotBlockBatch(t *testing.T) {
	h := newHarness(t, false)
	err := h.apply(t, 0,
		models.Play{Channel: "bgm_A"},
		models.Play{Channel: "nope"},
		models.SetVolume{Channel: "sfx_1", Volume: 0.5},
	)
	if !errors.Is(err, ErrNoSource) || !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected joined errors, got %v", err)
	}
	if v := h.channel(t, "sfx_1").Volume; v != 0.5 {
		t.Fatalf("expected volume applied after failures, got %v", v)
	}
}

func TestEngine_PendingPlayWhileDecoding(t *testing.T) {
	h := newHarness(t, true)
	_ = h.apply(t, 0, load("bgm_A", "ten.wav"))
	_ = h.apply(t, 0, models.Play{Channel: "bgm_A"})
	_ = h.apply(t, 0, models.Play{Channel: "bgm_A"})
	if h.channel(t, "bgm_A").State != models.StateStopped {
		t.Fatal("channel must not be playing before its buffer decodes")
	}

	h.runQueued()
	if h.channel(t, "bgm_A").State != models.StatePlaying {
		t.Fatal("expected channel playing after decode")
	}
	starts := 0
	for _, c := range h.changes {
		if c.ID == "bgm_A" && c.State == models.StatePlaying {
			starts++
		}
	}
	if starts != 1 {
		t.Fatalf("expected one start, got %d", starts)
	}
}

func TestEngine_StopDropsPendingPlay(t *testing.T) {
	h := newHarness(t, true)
	_ = h.apply(t, 0, load("bgm_A", "ten.wav"), models.Play{Channel: "bgm_A"}, models.Stop{Channel: "bgm_A"})
	h.runQueued()

	if ch := h.channel(t, "bgm_A"); ch.State != models.StateStopped {
		t.Fatalf("stop should win over pending play, got %s", ch.State)
	}
	if h.graph.Playing("bgm_A") {
		t.Fatal("no voice should start")
	}
}

func TestEngine_LoadDuringDecodeUsesNewSource(t *testing.T) {
	h := newHarness(t, true)
	_ = h.apply(t, 0, load("bgm_A", "ten.wav"), models.Play{Channel: "bgm_A"}, load("bgm_A", "two.wav"))
	h.runQueued()

	ch := h.channel(t, "bgm_A")
	if ch.State != models.StatePlaying || ch.Duration != 2*time.Second {
		t.Fatalf("expected two.wav playing, got %+v", ch)
	}
}

func TestEngine_PauseResumeKeepsOffset(t *testing.T) {
	h := newHarness(t, false)
	_ = h.apply(t, 0, load("bgm_A", "ten.wav"), models.Play{Channel: "bgm_A"})

	h.sched.Advance(3 * time.Second)
	if err := h.apply(t, 0, models.Pause{Channel: "bgm_A"}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	ch := h.channel(t, "bgm_A")
	if ch.State != models.StatePaused || ch.CurrentTime != 3*time.Second {
		t.Fatalf("expected paused at 3s, got %s at %s", ch.State, ch.CurrentTime)
	}
	if h.graph.Playing("bgm_A") {
		t.Fatal("pause must release the voice")
	}

	h.sched.Advance(5 * time.Second)
	if err := h.apply(t, 0, models.Play{Channel: "bgm_A"}); err != nil {
		t.Fatalf("play on paused: %v", err)
	}
	if pos, _ := h.engine.Position("bgm_A"); pos != 3*time.Second {
		t.Fatalf("expected resume from 3s, got %s", pos)
	}

	h.sched.Advance(6900 * time.Millisecond)
	if h.channel(t, "bgm_A").State != models.StatePlaying {
		t.Fatal("ended too early")
	}
	h.sched.Advance(200 * time.Millisecond)
	if h.channel(t, "bgm_A").State != models.StateStopped {
		t.Fatal("expected end 7s after resume")
	}
}

func TestEngine_ResumeRequiresPaused(t *testing.T) {
	h := newHarness(t, false)
	_ = h.apply(t, 0, load("bgm_A", "ten.wav"))
	if err := h.apply(t, 0, models.Resume{Channel: "bgm_A"}); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestEngine_StopClearsStaleEndTimer(t *testing.T) {
	h := newHarness(t, false)
	_ = h.apply(t, 0, load("bgm_A", "ten.wav"), models.Play{Channel: "bgm_A"})
	h.sched.Advance(5 * time.Second)
	_ = h.apply(t, 0, models.Stop{Channel: "bgm_A"})
	if ch := h.channel(t, "bgm_A"); ch.State != models.StateStopped || ch.CurrentTime != 0 {
		t.Fatalf("expected stopped at 0, got %+v", ch)
	}

	h.sched.Advance(time.Second)
	_ = h.apply(t, 0, models.Play{Channel: "bgm_A"})
	h.sched.AdvanceTo(10500 * time.Millisecond)
	if h.channel(t, "bgm_A").State != models.StatePlaying {
		t.Fatal("stale end timer stopped the new run")
	}
	h.sched.AdvanceTo(16100 * time.Millisecond)
	if h.channel(t, "bgm_A").State != models.StateStopped {
		t.Fatal("expected new run to end at 16s")
	}
}

func TestEngine_LoopToggleWhilePlaying(t *testing.T) {
	h := newHarness(t, false)
	_ = h.apply(t, 0, load("bgm_A", "ten.wav"), models.Play{Channel: "bgm_A"})

	h.sched.Advance(4 * time.Second)
	_ = h.apply(t, 0, models.SetLoop{Channel: "bgm_A", Looping: true})
	h.sched.AdvanceTo(12 * time.Second)
	if pos, ok := h.engine.Position("bgm_A"); !ok || pos != 2*time.Second {
		t.Fatalf("expected wrapped position 2s, got %s (playing=%v)", pos, ok)
	}

	_ = h.apply(t, 0, models.SetLoop{Channel: "bgm_A", Looping: false})
	h.sched.AdvanceTo(19900 * time.Millisecond)
	if h.channel(t, "bgm_A").State != models.StatePlaying {
		t.Fatal("ended too early after disabling loop")
	}
	h.sched.AdvanceTo(20 * time.Second)
	if h.channel(t, "bgm_A").State != models.StateStopped {
		t.Fatal("expected end once the remaining 8s elapsed")
	}
}

func TestEngine_FadeStopKeepsStateImmediate(t *testing.T) {
	h := newHarness(t, false)
	_ = h.apply(t, 0, load("bgm_A", "ten.wav"), models.Play{Channel: "bgm_A"})
	_ = h.apply(t, 2*time.Second, models.Stop{Channel: "bgm_A", Fade: true})

	if h.channel(t, "bgm_A").State != models.StateStopped {
		t.Fatal("state must change immediately even when fading")
	}
	if h.graph.Playing("bgm_A") {
		t.Fatal("active voice must be released at once")
	}
	if h.graph.Tails() != 1 {
		t.Fatalf("expected a fading tail, got %d", h.graph.Tails())
	}
}

func TestEngine_LoadKeepsPlaybackState(t *testing.T) {
	h := newHarness(t, false)
	_ = h.apply(t, 0, load("bgm_A", "ten.wav"), models.Play{Channel: "bgm_A"})
	_ = h.apply(t, 0, load("bgm_A", "two.wav"))
	ch := h.channel(t, "bgm_A")
	if ch.State != models.StatePlaying || ch.Source.Filename != "two.wav" {
		t.Fatalf("expected still playing with new source, got %+v", ch)
	}

	_ = h.apply(t, 0, load("bgm_B", "two.wav"))
	if d := h.channel(t, "bgm_B").Duration; d != 2*time.Second {
		t.Fatalf("expected prefetched duration, got %s", d)
	}
}

type fixedUnlocker bool

func (u fixedUnlocker) IsUnlocked() bool            { return false }
func (u fixedUnlocker) Unlock(context.Context) bool { return bool(u) }

func TestEngine_PlayWaitsForUnlock(t *testing.T) {
	h := newHarness(t, true)
	h.buffers.cached[audio.CacheKey("bgm_A", models.SourceRef{Filename: "ten.wav"})] = h.buffers.files["ten.wav"]
	h.engine.SetUnlocker(fixedUnlocker(false))
	_ = h.apply(t, 0, load("bgm_A", "ten.wav"), models.Play{Channel: "bgm_A"})
	h.runQueued()
	if h.channel(t, "bgm_A").State != models.StateStopped {
		t.Fatal("abandoned unlock must leave the channel stopped")
	}

	h.engine.SetUnlocker(fixedUnlocker(true))
	_ = h.apply(t, 0, models.Play{Channel: "bgm_A"})
	if h.channel(t, "bgm_A").State != models.StateStopped {
		t.Fatal("play must wait for unlock")
	}
	h.runQueued()
	if h.channel(t, "bgm_A").State != models.StatePlaying {
		t.Fatal("expected play after unlock")
	}
}

func TestEngine_RunAppliesInboundBatches(t *testing.T) {
	h := newHarness(t, false)
	in := make(chan models.Batch, 2)
	in <- models.NewBatch(0, load("bgm_A", "ten.wav"))
	in <- models.NewBatch(0, models.Play{Channel: "bgm_A"})
	close(in)

	if err := h.engine.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.channel(t, "bgm_A").State != models.StatePlaying {
		t.Fatal("expected inbound batches applied in order")
	}
}
