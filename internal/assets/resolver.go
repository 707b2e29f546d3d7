/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package assets resolves channel source references to raw audio bytes from
// the asset catalog: local media roots, HTTP URLs and S3 buckets.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/friendsincode/tablemix/internal/models"
)

// DefaultMaxBytes caps a single asset download.
const DefaultMaxBytes = 64 << 20

var (
	// ErrUnsupported is returned by a resolver that cannot handle a reference.
	ErrUnsupported = errors.New("asset reference not supported by resolver")

	// ErrNotFound indicates the catalog has no object for the reference.
	ErrNotFound = errors.New("asset not found")

	// ErrTooLarge indicates the asset exceeds the configured size limit.
	ErrTooLarge = errors.New("asset too large")
)

// Resolver fetches the bytes behind a source reference.
type Resolver interface {
	Fetch(ctx context.Context, ref models.SourceRef) ([]byte, error)
}

// Chain tries resolvers in order, skipping those that return ErrUnsupported.
type Chain struct {
	resolvers []Resolver
	logger    zerolog.Logger
}

// NewChain creates a resolver chain. Nil resolvers are ignored.
func NewChain(logger zerolog.Logger, resolvers ...Resolver) *Chain {
	c := &Chain{logger: logger.With().Str("component", "assets").Logger()}
	for _, r := range resolvers {
		if r != nil {
			c.resolvers = append(c.resolvers, r)
		}
	}
	return c
}

// Fetch implements Resolver.
func (c *Chain) Fetch(ctx context.Context, ref models.SourceRef) ([]byte, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: empty reference", ErrUnsupported)
	}
	var lastErr error
	for _, r := range c.resolvers {
		data, err := r.Fetch(ctx, ref)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		c.logger.Debug().Err(err).Str("source", ref.String()).Msg("resolver failed")
		lastErr = err
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, ref)
}

// readLimited reads r fully, failing once more than limit bytes arrive.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
