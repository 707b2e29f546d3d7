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

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/tablemix/internal/models"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	// SubjectPrefix is prepended to the room id to form the subject.
	SubjectPrefix string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "tablemix.rooms.",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSFanout relays room batches over core NATS subjects. A single
// subscription on the wildcard subject preserves per-publisher order.
type NATSFanout struct {
	conn   *nats.Conn
	prefix string
	nodeID string
	logger zerolog.Logger
	recv   *receiver

	mu     sync.Mutex
	sub    *nats.Subscription
	closed bool
}

// NewNATSFanout connects to NATS.
func NewNATSFanout(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSFanout, error) {
	logger = logger.With().Str("component", "nats_fanout").Logger()
	if cfg.URL == "" {
		cfg.URL = DefaultNATSConfig().URL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultNATSConfig().SubjectPrefix
	}

	opts := []nats.Option{
		nats.Name("tablemix-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	logger.Info().Str("url", cfg.URL).Str("node_id", nodeID).Msg("NATS fanout initialized")
	return &NATSFanout{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		nodeID: nodeID,
		logger: logger,
		recv:   newReceiver(nodeID, logger),
	}, nil
}

// Subscribe starts delivering peer batches for every room to h.
func (nf *NATSFanout) Subscribe(ctx context.Context, h Handler) error {
	nf.mu.Lock()
	defer nf.mu.Unlock()
	if nf.closed {
		return ErrClosed
	}
	nf.recv.setHandler(h)
	if nf.sub != nil {
		return nil
	}

	sub, err := nf.conn.Subscribe(nf.prefix+"*", func(m *nats.Msg) {
		nf.recv.deliver(m.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe nats: %w", err)
	}
	nf.sub = sub

	go func() {
		<-ctx.Done()
		nf.mu.Lock()
		defer nf.mu.Unlock()
		if nf.sub == sub {
			_ = sub.Unsubscribe()
			nf.sub = nil
		}
	}()
	return nil
}

// Publish sends b to peer nodes.
func (nf *NATSFanout) Publish(ctx context.Context, roomID string, b models.Batch) error {
	nf.mu.Lock()
	closed := nf.closed
	nf.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := marshalMessage(roomID, nf.nodeID, b)
	if err != nil {
		return fmt.Errorf("marshal fanout message: %w", err)
	}
	if err := nf.conn.Publish(nf.prefix+roomID, data); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}
	return nil
}

// Close drains the subscription and closes the connection.
func (nf *NATSFanout) Close() error {
	nf.mu.Lock()
	if nf.closed {
		nf.mu.Unlock()
		return nil
	}
	nf.closed = true
	nf.sub = nil
	nf.mu.Unlock()

	if err := nf.conn.Drain(); err != nil {
		nf.logger.Debug().Err(err).Msg("NATS drain failed, closing")
		nf.conn.Close()
	}
	nf.logger.Info().Msg("NATS fanout closed")
	return nil
}
