/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestVirtual_FiresInDueOrder(t *testing.T) {
	v := NewVirtual()
	var got []string
	v.ScheduleOnce(30*time.Millisecond, func() { got = append(got, "c") })
	v.ScheduleOnce(10*time.Millisecond, func() { got = append(got, "a") })
	v.ScheduleOnce(10*time.Millisecond, func() { got = append(got, "b") })

	v.Advance(20 * time.Millisecond)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected [a b], got %v", got)
	}
	if v.Now() != 20*time.Millisecond {
		t.Fatalf("expected now=20ms, got %s", v.Now())
	}

	v.Advance(10 * time.Millisecond)
	if len(got) != 3 || got[2] != "c" {
		t.Fatalf("expected c to fire, got %v", got)
	}
}

func TestVirtual_CancelPreventsCallback(t *testing.T) {
	v := NewVirtual()
	fired := false
	h := v.ScheduleOnce(time.Second, func() { fired = true })
	v.Cancel(h)
	v.Advance(2 * time.Second)
	if fired {
		t.Fatal("cancelled callback ran")
	}
	if v.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", v.Pending())
	}
}

func TestVirtual_Repeating(t *testing.T) {
	v := NewVirtual()
	var at []time.Duration
	var h Handle
	h = v.ScheduleRepeating(16*time.Millisecond, func() {
		at = append(at, v.Now())
		if len(at) == 3 {
			v.Cancel(h)
		}
	})

	v.Advance(time.Second)
	if len(at) != 3 {
		t.Fatalf("expected 3 ticks, got %d", len(at))
	}
	for i, d := range at {
		if want := time.Duration(i+1) * 16 * time.Millisecond; d != want {
			t.Fatalf("tick %d at %s, want %s", i, d, want)
		}
	}
}

func TestVirtual_CallbackCanScheduleWithinAdvance(t *testing.T) {
	v := NewVirtual()
	fired := time.Duration(-1)
	v.ScheduleOnce(10*time.Millisecond, func() {
		v.ScheduleOnce(5*time.Millisecond, func() { fired = v.Now() })
	})
	v.Advance(20 * time.Millisecond)
	if fired != 15*time.Millisecond {
		t.Fatalf("expected nested timer at 15ms, got %s", fired)
	}
}

func TestLoop_RunsPostedAndTimedCallbacks(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()

	order := make(chan string, 4)
	l.Post(func() { order <- "post" })
	l.ScheduleOnce(20*time.Millisecond, func() { order <- "timer" })
	cancelled := l.ScheduleOnce(10*time.Millisecond, func() { order <- "cancelled" })
	l.Cancel(cancelled)

	if got := <-order; got != "post" {
		t.Fatalf("expected post first, got %s", got)
	}
	select {
	case got := <-order:
		if got != "timer" {
			t.Fatalf("expected timer, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	cancel()
	<-done
	select {
	case got := <-order:
		t.Fatalf("unexpected callback %s", got)
	default:
	}
}
