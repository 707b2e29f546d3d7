/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"sort"
	"time"
)

// Virtual is a manually advanced Scheduler for tests. Time only moves inside
// Advance; due callbacks run synchronously in due-time order, ties broken by
// scheduling order. Post runs its callback immediately.
type Virtual struct {
	now    time.Duration
	next   Handle
	seq    uint64
	timers map[Handle]*virtualTimer
}

type virtualTimer struct {
	due      time.Duration
	interval time.Duration
	seq      uint64
	fn       func()
}

// NewVirtual creates a virtual clock at t=0.
func NewVirtual() *Virtual {
	return &Virtual{timers: make(map[Handle]*virtualTimer)}
}

// Now implements Scheduler.
func (v *Virtual) Now() time.Duration {
	return v.now
}

// ScheduleOnce implements Scheduler.
func (v *Virtual) ScheduleOnce(delay time.Duration, fn func()) Handle {
	return v.add(clampDelay(delay), 0, fn)
}

// ScheduleRepeating implements Scheduler.
func (v *Virtual) ScheduleRepeating(interval time.Duration, fn func()) Handle {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return v.add(interval, interval, fn)
}

func (v *Virtual) add(delay, interval time.Duration, fn func()) Handle {
	v.next++
	v.seq++
	v.timers[v.next] = &virtualTimer{due: v.now + delay, interval: interval, seq: v.seq, fn: fn}
	return v.next
}

// Cancel implements Scheduler.
func (v *Virtual) Cancel(h Handle) {
	delete(v.timers, h)
}

// Post implements Scheduler.
func (v *Virtual) Post(fn func()) {
	fn()
}

// Pending returns the number of live timers.
func (v *Virtual) Pending() int {
	return len(v.timers)
}

// Advance moves the clock forward by d, firing every callback that comes due.
func (v *Virtual) Advance(d time.Duration) {
	target := v.now + clampDelay(d)
	for {
		h, t, ok := v.earliest(target)
		if !ok {
			break
		}
		v.now = t.due
		if t.interval > 0 {
			v.seq++
			t.due += t.interval
			t.seq = v.seq
		} else {
			delete(v.timers, h)
		}
		t.fn()
	}
	v.now = target
}

// AdvanceTo moves the clock to the absolute time at, if it lies ahead.
func (v *Virtual) AdvanceTo(at time.Duration) {
	if at > v.now {
		v.Advance(at - v.now)
	}
}

func (v *Virtual) earliest(limit time.Duration) (Handle, *virtualTimer, bool) {
	type cand struct {
		h Handle
		t *virtualTimer
	}
	var due []cand
	for h, t := range v.timers {
		if t.due <= limit {
			due = append(due, cand{h, t})
		}
	}
	if len(due) == 0 {
		return 0, nil, false
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].t.due != due[j].t.due {
			return due[i].t.due < due[j].t.due
		}
		return due[i].t.seq < due[j].t.seq
	})
	return due[0].h, due[0].t, true
}
