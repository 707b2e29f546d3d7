/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/tablemix/internal/models"
)

// RedisFanout relays room batches over Redis pub/sub, one channel per room.
type RedisFanout struct {
	client *redis.Client
	prefix string
	nodeID string
	logger zerolog.Logger
	recv   *receiver

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool

	// Circuit breaker state
	useFallback bool
	failCount   int
	maxFails    int
	lastCheck   time.Time
	retryAfter  time.Duration

	wg sync.WaitGroup
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// ChannelPrefix is prepended to the room id to form the pub/sub channel.
	ChannelPrefix string

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		ChannelPrefix: "tablemix.room.",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// NewRedisFanout connects to Redis. If the initial ping fails the fanout
// starts in local-only mode and retries on later publishes.
func NewRedisFanout(ctx context.Context, cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisFanout {
	logger = logger.With().Str("component", "redis_fanout").Logger()
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = DefaultRedisConfig().ChannelPrefix
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultRedisConfig().MaxFailures
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultRedisConfig().CheckInterval
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	rf := &RedisFanout{
		client:     client,
		prefix:     cfg.ChannelPrefix,
		nodeID:     nodeID,
		logger:     logger,
		recv:       newReceiver(nodeID, logger),
		maxFails:   cfg.MaxFailures,
		retryAfter: cfg.CheckInterval,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unavailable, relaying locally only")
		rf.useFallback = true
		rf.lastCheck = time.Now()
		return rf
	}

	logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("Redis fanout initialized")
	return rf
}

// Subscribe starts delivering peer batches for every room to h.
func (rf *RedisFanout) Subscribe(ctx context.Context, h Handler) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.closed {
		return ErrClosed
	}
	rf.recv.setHandler(h)
	if rf.pubsub != nil {
		return nil
	}

	pubsub := rf.client.PSubscribe(ctx, rf.prefix+"*")
	rf.pubsub = pubsub
	rf.wg.Add(1)
	go rf.receiveMessages(ctx, pubsub)
	return nil
}

func (rf *RedisFanout) receiveMessages(ctx context.Context, pubsub *redis.PubSub) {
	defer rf.wg.Done()
	ch := pubsub.Channel()
	rf.logger.Debug().Str("pattern", rf.prefix+"*").Msg("started Redis message receiver")

	for {
		select {
		case <-ctx.Done():
			rf.logger.Debug().Msg("stopping Redis message receiver")
			return
		case msg, ok := <-ch:
			if !ok {
				rf.logger.Warn().Msg("Redis channel closed")
				return
			}
			rf.recv.deliver([]byte(msg.Payload))
		}
	}
}

// Publish sends b to peer nodes. Failures trip the circuit breaker; while it
// is open batches reach local clients only.
func (rf *RedisFanout) Publish(ctx context.Context, roomID string, b models.Batch) error {
	rf.mu.Lock()
	if rf.closed {
		rf.mu.Unlock()
		return ErrClosed
	}
	fallback := rf.useFallback
	rf.mu.Unlock()

	if fallback && !rf.tryReconnect(ctx) {
		return nil
	}

	data, err := marshalMessage(roomID, rf.nodeID, b)
	if err != nil {
		return fmt.Errorf("marshal fanout message: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rf.client.Publish(pubCtx, rf.prefix+roomID, data).Err(); err != nil {
		rf.handleFailure()
		return fmt.Errorf("publish to redis: %w", err)
	}

	rf.mu.Lock()
	rf.failCount = 0
	rf.mu.Unlock()
	return nil
}

// handleFailure implements circuit breaker logic.
func (rf *RedisFanout) handleFailure() {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	rf.failCount++
	if rf.failCount >= rf.maxFails && !rf.useFallback {
		rf.logger.Warn().
			Int("fail_count", rf.failCount).
			Msg("Redis failure threshold reached, relaying locally only")
		rf.useFallback = true
		rf.lastCheck = time.Now()
	}
}

// tryReconnect pings Redis at most once per check interval while the breaker is open.
func (rf *RedisFanout) tryReconnect(ctx context.Context) bool {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if !rf.useFallback {
		return true
	}
	if time.Since(rf.lastCheck) < rf.retryAfter {
		return false
	}
	rf.lastCheck = time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rf.client.Ping(pingCtx).Err(); err != nil {
		rf.logger.Debug().Err(err).Msg("Redis still unavailable")
		return false
	}

	rf.useFallback = false
	rf.failCount = 0
	rf.logger.Info().Msg("reconnected to Redis")
	return true
}

// Close stops the receiver and closes the client.
func (rf *RedisFanout) Close() error {
	rf.mu.Lock()
	if rf.closed {
		rf.mu.Unlock()
		return nil
	}
	rf.closed = true
	pubsub := rf.pubsub
	rf.pubsub = nil
	rf.mu.Unlock()

	if pubsub != nil {
		if err := pubsub.Close(); err != nil {
			rf.logger.Debug().Err(err).Msg("close Redis pub/sub")
		}
	}
	rf.wg.Wait()

	if err := rf.client.Close(); err != nil {
		rf.logger.Error().Err(err).Msg("failed to close Redis client")
		return err
	}
	rf.logger.Info().Msg("Redis fanout closed")
	return nil
}
