/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audio holds the decoded-buffer cache and the mixing graph that renders
// every channel into one master output.
package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/gopxl/beep/v2"
)

// DefaultSampleRate is the output rate used when none is configured.
const DefaultSampleRate = beep.SampleRate(44100)

// ErrDecode indicates an asset could not be fetched or decoded into a buffer.
var ErrDecode = errors.New("decode failed")

// Buffer is a fully decoded, seekable asset.
type Buffer struct {
	buf *beep.Buffer
}

// NewBuffer drains s into memory.
func NewBuffer(format beep.Format, s beep.Streamer) (*Buffer, error) {
	b := beep.NewBuffer(format)
	b.Append(s)
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return &Buffer{buf: b}, nil
}

// NewBufferFromSamples builds a stereo buffer from raw frames.
func NewBufferFromSamples(rate beep.SampleRate, frames [][2]float64) *Buffer {
	format := beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2}
	b := beep.NewBuffer(format)
	b.Append(&frameStreamer{frames: frames})
	return &Buffer{buf: b}
}

// Format returns the buffer's sample format.
func (b *Buffer) Format() beep.Format {
	return b.buf.Format()
}

// Len returns the buffer length in frames.
func (b *Buffer) Len() int {
	return b.buf.Len()
}

// Duration returns the playable length.
func (b *Buffer) Duration() time.Duration {
	return b.buf.Format().SampleRate.D(b.buf.Len())
}

// Streamer returns a new independent reader over the whole buffer.
func (b *Buffer) Streamer() beep.StreamSeeker {
	return b.buf.Streamer(0, b.buf.Len())
}

type frameStreamer struct {
	frames [][2]float64
	pos    int
}

func (f *frameStreamer) Stream(samples [][2]float64) (int, bool) {
	if f.pos >= len(f.frames) {
		return 0, false
	}
	n := copy(samples, f.frames[f.pos:])
	f.pos += n
	return n, true
}

func (f *frameStreamer) Err() error { return nil }
