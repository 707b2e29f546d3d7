/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler provides the timing capability the mixer runs on: a
// monotonic clock, one-shot and repeating callbacks, and a single event loop
// that serializes every callback.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Handle identifies a scheduled callback. The zero Handle is never issued.
type Handle uint64

// Scheduler runs callbacks on one logical thread.
//
// Callbacks passed to ScheduleOnce, ScheduleRepeating and Post never run
// concurrently with each other. Cancel guarantees a cancelled callback will not
// run afterwards, even if its timer already fired.
type Scheduler interface {
	// Now returns monotonic time since the scheduler was created.
	Now() time.Duration
	ScheduleOnce(delay time.Duration, fn func()) Handle
	ScheduleRepeating(interval time.Duration, fn func()) Handle
	Cancel(h Handle)
	// Post queues fn to run on the loop as soon as possible.
	Post(fn func())
}

// Loop is the wall-clock Scheduler. Timers fire on background goroutines and
// hand their callbacks to the loop; Run executes them one at a time.
type Loop struct {
	start time.Time

	mu      sync.Mutex
	next    Handle
	timers  map[Handle]*time.Timer
	pending []func()
	wake    chan struct{}
}

// NewLoop creates a realtime scheduler. Callbacks run only while Run is active.
func NewLoop() *Loop {
	return &Loop{
		start:  time.Now(),
		timers: make(map[Handle]*time.Timer),
		wake:   make(chan struct{}, 1),
	}
}

// Now implements Scheduler.
func (l *Loop) Now() time.Duration {
	return time.Since(l.start)
}

// ScheduleOnce implements Scheduler.
func (l *Loop) ScheduleOnce(delay time.Duration, fn func()) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	h := l.next
	l.timers[h] = time.AfterFunc(clampDelay(delay), func() {
		l.Post(func() {
			if l.take(h) {
				fn()
			}
		})
	})
	return h
}

// ScheduleRepeating implements Scheduler.
func (l *Loop) ScheduleRepeating(interval time.Duration, fn func()) Handle {
	if interval <= 0 {
		interval = time.Millisecond
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	h := l.next
	l.armRepeating(h, interval, fn)
	return h
}

// armRepeating must be called with l.mu held.
func (l *Loop) armRepeating(h Handle, interval time.Duration, fn func()) {
	l.timers[h] = time.AfterFunc(interval, func() {
		l.Post(func() {
			if !l.live(h) {
				return
			}
			fn()
			l.mu.Lock()
			if _, ok := l.timers[h]; ok {
				l.armRepeating(h, interval, fn)
			}
			l.mu.Unlock()
		})
	})
}

// Cancel implements Scheduler.
func (l *Loop) Cancel(h Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[h]; ok {
		t.Stop()
		delete(l.timers, h)
	}
}

// Post implements Scheduler.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes queued callbacks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			l.stopAll()
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// take removes a one-shot handle, reporting whether it was still live.
func (l *Loop) take(h Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.timers[h]; !ok {
		return false
	}
	delete(l.timers, h)
	return true
}

func (l *Loop) live(h Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.timers[h]
	return ok
}

func (l *Loop) stopAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for h, t := range l.timers {
		t.Stop()
		delete(l.timers, h)
	}
}

func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
