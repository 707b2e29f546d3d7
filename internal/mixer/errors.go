/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mixer is the channel engine: the registry of channel state, the
// playback clocks, the operation and batch appliers, the transition engine
// and the pending-operation tracker.
package mixer

import "errors"

var (
	// ErrUnknownChannel indicates an operation addressed a channel outside the layout.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrInvariantViolation indicates an operation that would break a channel
	// invariant, such as LOOP or PAUSE on an SFX channel. It is rejected as a no-op.
	ErrInvariantViolation = errors.New("channel invariant violation")

	// ErrPrecondition indicates an operation whose playback-state precondition
	// does not hold, such as RESUME on a channel that is not paused.
	ErrPrecondition = errors.New("operation precondition not met")

	// ErrNoSource indicates PLAY on a channel with no asset loaded.
	ErrNoSource = errors.New("no source loaded")

	// ErrUnlockRequired indicates PLAY was abandoned because audio output was
	// never unlocked.
	ErrUnlockRequired = errors.New("audio unlock required")

	// ErrStalePendingOperation indicates a pending operator action was released
	// by timeout rather than by the expected state change.
	ErrStalePendingOperation = errors.New("stale pending operation")

	// ErrAlreadyPending indicates an operator action of the same kind is
	// already in flight for the channel.
	ErrAlreadyPending = errors.New("operation already pending")
)
