/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import (
	"time"

	"github.com/friendsincode/tablemix/internal/models"
)

// EngineState is everything one engine instance owns. Nothing lives in
// package-level variables, so engines in the same process are isolated.
type EngineState struct {
	Registry *Registry

	clocks  map[string]*playbackClock
	pending map[string]*pendingStart
	gen     uint64
}

// pendingStart is the single queued PLAY for a channel waiting on unlock or decode.
type pendingStart struct {
	token  uint64
	source models.SourceRef
	offset time.Duration
	fade   time.Duration
}

// NewEngineState creates state for the given channels.
func NewEngineState(channels []models.Channel) *EngineState {
	return &EngineState{
		Registry: NewRegistry(channels),
		clocks:   make(map[string]*playbackClock),
		pending:  make(map[string]*pendingStart),
	}
}

func (s *EngineState) nextGen() uint64 {
	s.gen++
	return s.gen
}
