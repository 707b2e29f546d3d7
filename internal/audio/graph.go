/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"sync"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/friendsincode/tablemix/internal/models"
)

// Graph mixes every channel strip into a single master output.
//
// Each strip is a gain stage followed by a level meter. A strip owns at most
// one active voice; a voice stopped with a fade is detached into the tail list
// and rendered until its envelope reaches zero. Graph implements beep.Streamer,
// so it can be handed straight to speaker.Play.
type Graph struct {
	mu       sync.Mutex
	rate     beep.SampleRate
	master   float64
	strips   map[string]*strip
	tails    []*voice
	scratch  [][2]float64
	stripBuf [][2]float64
}

type strip struct {
	volume float64
	voice  *voice
	meter  *Meter
}

type voice struct {
	channelID string
	src       beep.StreamSeeker
	loop      bool
	env       ramp
}

// ramp is a linear envelope advanced once per frame.
type ramp struct {
	value  float64
	target float64
	step   float64
}

func (r *ramp) next() float64 {
	v := r.value
	if r.step != 0 {
		r.value += r.step
		if (r.step > 0 && r.value >= r.target) || (r.step < 0 && r.value <= r.target) {
			r.value = r.target
			r.step = 0
		}
	}
	return v
}

func (r *ramp) settled() bool {
	return r.step == 0
}

// NewGraph creates a graph rendering at rate with master gain 1.
func NewGraph(rate beep.SampleRate) *Graph {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	return &Graph{
		rate:   rate,
		master: models.DefaultVolume,
		strips: make(map[string]*strip),
	}
}

// SampleRate returns the output rate.
func (g *Graph) SampleRate() beep.SampleRate {
	return g.rate
}

// AddChannel registers a strip. Calling it again for the same id is a no-op.
func (g *Graph) AddChannel(id string, volume float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.strips[id]; ok {
		return
	}
	g.strips[id] = &strip{volume: models.ClampVolume(volume), meter: NewMeter(DefaultSmoothing)}
}

// stripFor must be called with g.mu held.
func (g *Graph) stripFor(id string) *strip {
	s, ok := g.strips[id]
	if !ok {
		s = &strip{volume: models.DefaultVolume, meter: NewMeter(DefaultSmoothing)}
		g.strips[id] = s
	}
	return s
}

// SetVolume changes strip gain immediately, regardless of any fade in progress.
func (g *Graph) SetVolume(id string, v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stripFor(id).volume = models.ClampVolume(v)
}

// Volume returns the strip gain.
func (g *Graph) Volume(id string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stripFor(id).volume
}

// SetMasterVolume changes the local output gain. It is never broadcast.
func (g *Graph) SetMasterVolume(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.master = models.ClampVolume(v)
}

// MasterVolume returns the local output gain.
func (g *Graph) MasterVolume() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.master
}

// Start plays buf on a strip from offset, replacing any active voice. A
// positive fade ramps the voice envelope up from silence.
func (g *Graph) Start(id string, buf *Buffer, offset time.Duration, loop bool, fade time.Duration) {
	src := buf.Streamer()
	if n := buf.Len(); n > 0 {
		pos := g.rate.N(offset)
		if loop {
			pos %= n
		}
		if pos > 0 && pos < n {
			_ = src.Seek(pos)
		}
	}

	v := &voice{channelID: id, src: src, loop: loop, env: ramp{value: 1, target: 1}}
	if frames := g.rate.N(fade); frames > 0 {
		v.env = ramp{value: 0, target: 1, step: 1 / float64(frames)}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stripFor(id)
	s.voice = v
}

// Stop detaches the active voice from a strip. With no fade the voice is
// dropped at once, along with any tails still fading on the strip. With a fade
// the voice keeps rendering as a tail until its envelope reaches zero.
func (g *Graph) Stop(id string, fade time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stripFor(id)
	v := s.voice
	s.voice = nil

	frames := g.rate.N(fade)
	if frames <= 0 {
		g.dropTails(id)
		return
	}
	if v == nil {
		return
	}
	v.env.target = 0
	v.env.step = -v.env.value / float64(frames)
	if v.env.step == 0 {
		return
	}
	g.tails = append(g.tails, v)
}

// dropTails must be called with g.mu held.
func (g *Graph) dropTails(id string) {
	kept := g.tails[:0]
	for _, t := range g.tails {
		if t.channelID != id {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(g.tails); i++ {
		g.tails[i] = nil
	}
	g.tails = kept
}

// SetLoop toggles wrap-around on the active voice.
func (g *Graph) SetLoop(id string, loop bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v := g.stripFor(id).voice; v != nil {
		v.loop = loop
	}
}

// Playing reports whether the strip has an active voice.
func (g *Graph) Playing(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.strips[id]
	return ok && s.voice != nil
}

// Tails returns the number of voices still fading out.
func (g *Graph) Tails() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tails)
}

// SampleLevel returns the smoothed post-fader level of a strip in [0,1].
func (g *Graph) SampleLevel(id string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.strips[id]
	if !ok {
		return 0
	}
	return s.meter.Level()
}

// Stream implements beep.Streamer. The graph never drains; silence is
// rendered when nothing is playing.
func (g *Graph) Stream(samples [][2]float64) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range samples {
		samples[i] = [2]float64{}
	}
	if cap(g.scratch) < len(samples) {
		g.scratch = make([][2]float64, len(samples))
		g.stripBuf = make([][2]float64, len(samples))
	}
	scratch := g.scratch[:len(samples)]
	stripBuf := g.stripBuf[:len(samples)]

	for id, s := range g.strips {
		for i := range stripBuf {
			stripBuf[i] = [2]float64{}
		}
		active := false
		if s.voice != nil {
			if !g.render(s.voice, scratch, stripBuf) {
				s.voice = nil
			}
			active = true
		}
		kept := g.tails[:0]
		for _, t := range g.tails {
			if t.channelID == id {
				active = true
				if !g.render(t, scratch, stripBuf) || (t.env.settled() && t.env.value == 0) {
					continue
				}
			}
			kept = append(kept, t)
		}
		g.tails = kept

		if !active {
			s.meter.Silence()
			continue
		}
		for i := range stripBuf {
			stripBuf[i][0] *= s.volume
			stripBuf[i][1] *= s.volume
			samples[i][0] += stripBuf[i][0] * g.master
			samples[i][1] += stripBuf[i][1] * g.master
		}
		s.meter.Observe(stripBuf)
	}
	return len(samples), true
}

// render adds one voice into out and reports whether it is still alive.
func (g *Graph) render(v *voice, scratch, out [][2]float64) bool {
	filled := 0
	for filled < len(out) {
		n, ok := v.src.Stream(scratch[filled:])
		for i := filled; i < filled+n; i++ {
			gain := v.env.next()
			out[i][0] += scratch[i][0] * gain
			out[i][1] += scratch[i][1] * gain
		}
		filled += n
		if n > 0 && ok {
			continue
		}
		if !v.loop || v.src.Len() == 0 {
			return false
		}
		if err := v.src.Seek(0); err != nil {
			return false
		}
	}
	return true
}

// Err implements beep.Streamer.
func (g *Graph) Err() error {
	return nil
}
