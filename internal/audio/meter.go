/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import "math"

// DefaultSmoothing is the weight given to each new block's RMS.
const DefaultSmoothing = 0.3

// Meter tracks a smoothed RMS level for one strip. It is fed post-fader
// samples from the render path and only read for display.
type Meter struct {
	smoothing float64
	level     float64
}

// NewMeter creates a meter. smoothing outside (0,1] falls back to DefaultSmoothing.
func NewMeter(smoothing float64) *Meter {
	if smoothing <= 0 || smoothing > 1 {
		smoothing = DefaultSmoothing
	}
	return &Meter{smoothing: smoothing}
}

// Observe folds one rendered block into the level.
func (m *Meter) Observe(samples [][2]float64) {
	m.fold(rms(samples))
}

// Silence folds an all-zero block into the level.
func (m *Meter) Silence() {
	m.fold(0)
}

func (m *Meter) fold(v float64) {
	m.level += m.smoothing * (v - m.level)
	if m.level < 1e-6 {
		m.level = 0
	}
}

// Level returns the smoothed level in [0,1].
func (m *Meter) Level() float64 {
	return math.Max(0, math.Min(1, m.level))
}

func rms(samples [][2]float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		mono := (s[0] + s[1]) / 2
		sum += mono * mono
	}
	return math.Sqrt(sum / float64(len(samples)))
}
