/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import (
	"time"

	"github.com/friendsincode/tablemix/internal/scheduler"
)

// playbackClock tracks elapsed time for one playing channel against the
// scheduler's monotonic clock.
type playbackClock struct {
	startedAt time.Duration
	offset    time.Duration
	duration  time.Duration
	loop      bool

	// gen identifies this run; a finish for an older gen is ignored.
	gen      uint64
	endTimer scheduler.Handle
}

func (c *playbackClock) elapsed(now time.Duration) time.Duration {
	return now - c.startedAt + c.offset
}

// position returns the displayed time and whether a non-looping run has ended.
func (c *playbackClock) position(now time.Duration) (time.Duration, bool) {
	e := c.elapsed(now)
	if e < 0 {
		e = 0
	}
	if c.duration <= 0 {
		return e, false
	}
	if c.loop {
		return e % c.duration, false
	}
	if e >= c.duration {
		return c.duration, true
	}
	return e, false
}

// remaining returns the time until a non-looping run ends.
func (c *playbackClock) remaining(now time.Duration) time.Duration {
	if c.duration <= 0 {
		return 0
	}
	r := c.duration - c.elapsed(now)
	if r < 0 {
		return 0
	}
	return r
}

// rebase restarts the clock at the current position so loop can change
// without a jump in displayed time.
func (c *playbackClock) rebase(now time.Duration, loop bool) {
	pos, _ := c.position(now)
	c.startedAt = now
	c.offset = pos
	c.loop = loop
}
