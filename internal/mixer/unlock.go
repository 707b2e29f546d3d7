/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import (
	"context"
	"sync"
)

// Unlocker is the user-gesture gate in front of audio output.
type Unlocker interface {
	IsUnlocked() bool
	// Unlock blocks until the gate opens (true) or is abandoned (false).
	Unlock(ctx context.Context) bool
}

// Unlocked is an Unlocker that is always open.
type Unlocked struct{}

func (Unlocked) IsUnlocked() bool            { return true }
func (Unlocked) Unlock(context.Context) bool { return true }

// Gate is an Unlocker opened or abandoned by an outside gesture.
type Gate struct {
	mu       sync.Mutex
	unlocked bool
	waiters  []chan bool
}

// NewGate creates a closed gate.
func NewGate() *Gate {
	return &Gate{}
}

// IsUnlocked implements Unlocker.
func (g *Gate) IsUnlocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unlocked
}

// Unlock implements Unlocker.
func (g *Gate) Unlock(ctx context.Context) bool {
	g.mu.Lock()
	if g.unlocked {
		g.mu.Unlock()
		return true
	}
	ch := make(chan bool, 1)
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()

	select {
	case ok := <-ch:
		return ok
	case <-ctx.Done():
		return false
	}
}

// Open unlocks the gate and releases every waiter.
func (g *Gate) Open() {
	g.release(true)
}

// Abandon fails every current waiter. The gate stays closed.
func (g *Gate) Abandon() {
	g.release(false)
}

func (g *Gate) release(ok bool) {
	g.mu.Lock()
	if ok {
		g.unlocked = true
	}
	waiters := g.waiters
	g.waiters = nil
	g.mu.Unlock()
	for _, w := range waiters {
		w <- ok
	}
}
