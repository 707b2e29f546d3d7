/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/tablemix/internal/models"
)

// Fetcher resolves an asset reference to its raw bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref models.SourceRef) ([]byte, error)
}

// Key identifies a cached buffer. The same file loaded into two channels is
// decoded and held separately.
type Key struct {
	ChannelID string
	Source    string
}

// CacheKey builds the cache key for a channel and asset.
func CacheKey(channelID string, ref models.SourceRef) Key {
	return Key{ChannelID: channelID, Source: ref.Key()}
}

// Cache decodes each (channel, asset) pair once and keeps it for the session.
// There is no eviction.
type Cache struct {
	fetcher Fetcher
	decoder Decoder
	logger  zerolog.Logger

	mu      sync.RWMutex
	entries map[Key]*Buffer
	group   singleflight.Group
}

// NewCache creates an empty buffer cache.
func NewCache(fetcher Fetcher, decoder Decoder, logger zerolog.Logger) *Cache {
	return &Cache{
		fetcher: fetcher,
		decoder: decoder,
		logger:  logger.With().Str("component", "buffer-cache").Logger(),
		entries: make(map[Key]*Buffer),
	}
}

// Lookup returns an already decoded buffer without blocking.
func (c *Cache) Lookup(channelID string, ref models.SourceRef) (*Buffer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.entries[CacheKey(channelID, ref)]
	return b, ok
}

// Put stores a buffer directly.
func (c *Cache) Put(channelID string, ref models.SourceRef, b *Buffer) {
	c.mu.Lock()
	c.entries[CacheKey(channelID, ref)] = b
	c.mu.Unlock()
}

// Len returns the number of cached buffers.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Resolve returns the buffer for ref, fetching and decoding it on first use.
// Concurrent calls for the same key share one decode. Failures wrap ErrDecode
// and are not cached, so a later PLAY retries.
func (c *Cache) Resolve(ctx context.Context, channelID string, ref models.SourceRef) (*Buffer, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: %s: no source loaded", ErrDecode, channelID)
	}
	if b, ok := c.Lookup(channelID, ref); ok {
		return b, nil
	}

	key := CacheKey(channelID, ref)
	v, err, _ := c.group.Do(key.ChannelID+"\x00"+key.Source, func() (any, error) {
		if b, ok := c.Lookup(channelID, ref); ok {
			return b, nil
		}
		data, err := c.fetcher.Fetch(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch %s: %w", ErrDecode, ref, err)
		}
		b, err := c.decoder.Decode(ref.String(), data)
		if err != nil {
			return nil, err
		}
		c.Put(channelID, ref, b)
		c.logger.Debug().
			Str("channel_id", channelID).
			Str("source", ref.String()).
			Dur("duration", b.Duration()).
			Msg("buffer decoded")
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Buffer), nil
}
