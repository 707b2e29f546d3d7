/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import (
	"context"

	"github.com/friendsincode/tablemix/internal/models"
	"github.com/friendsincode/tablemix/internal/scheduler"
)

// Loopback is a Sender for a room with a single local client: batches are
// posted straight onto the engine's scheduler loop.
type Loopback struct {
	engine *Engine
	sched  scheduler.Scheduler
	// Sent receives a copy of every batch when non-nil. Sends to it never block.
	Sent chan models.Batch
}

// NewLoopback creates a loopback sender.
func NewLoopback(engine *Engine, sched scheduler.Scheduler) *Loopback {
	return &Loopback{engine: engine, sched: sched}
}

// Send implements Sender.
func (l *Loopback) Send(ctx context.Context, b models.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.Sent != nil {
		select {
		case l.Sent <- b:
		default:
		}
	}
	l.sched.Post(func() { _ = l.engine.ApplyBatch(b) })
	return nil
}
