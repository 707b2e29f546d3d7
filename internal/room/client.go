/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/tablemix/internal/models"
)

// ErrRemote wraps error messages sent back by the relay.
var ErrRemote = errors.New("relay error")

// Client is one participant's connection to a room relay. Inbound batches,
// starting with the room snapshot, arrive on Batches in relay order.
type Client struct {
	conn   *ws.Conn
	roomID string
	logger zerolog.Logger

	in     chan models.Batch
	errs   chan error
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

// SocketURL turns a relay base URL (http, https, ws or wss) into the room socket URL.
func SocketURL(base, roomID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	u.Path = u.Path + "/rooms/" + url.PathEscape(roomID) + "/ws"
	return u.String(), nil
}

// Dial connects to a room. token is sent as a Bearer credential.
func Dial(ctx context.Context, base, roomID, token string, logger zerolog.Logger) (*Client, error) {
	if !ValidRoomID(roomID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoom, roomID)
	}
	target, err := SocketURL(base, roomID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := ws.Dial(ctx, target, &ws.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial room %s: %s: %w", roomID, resp.Status, err)
		}
		return nil, fmt.Errorf("dial room %s: %w", roomID, err)
	}
	conn.SetReadLimit(maxMessageBytes)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:   conn,
		roomID: roomID,
		logger: logger.With().Str("component", "room_client").Str("room_id", roomID).Logger(),
		in:     make(chan models.Batch, DefaultMemberBuffer),
		errs:   make(chan error, 8),
		cancel: cancel,
	}
	c.wg.Add(1)
	go c.readLoop(readCtx)
	return c, nil
}

// Batches delivers the snapshot and every relayed batch. It is closed when
// the connection ends; Err then reports why.
func (c *Client) Batches() <-chan models.Batch {
	return c.in
}

// Errors delivers error messages returned by the relay, such as rejected batches.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send publishes a batch to the room. The batch is applied locally only when
// the relay echoes it back on Batches.
func (c *Client) Send(ctx context.Context, b models.Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	msg, err := json.Marshal(wsMessage{Type: MessageBatch, RoomID: c.roomID, Timestamp: time.Now(), Data: data})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Close ends the connection and waits for the reader to stop.
func (c *Client) Close() error {
	err := c.conn.Close(ws.StatusNormalClosure, "client closing")
	c.cancel()
	c.wg.Wait()
	if ws.CloseStatus(err) == ws.StatusNormalClosure || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.in)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ws.CloseStatus(err) != ws.StatusNormalClosure && ctx.Err() == nil {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
				c.logger.Warn().Err(err).Msg("room connection lost")
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("invalid relay message")
			continue
		}

		switch msg.Type {
		case MessageSnapshot, MessageBatch:
			var b models.Batch
			if err := json.Unmarshal(msg.Data, &b); err != nil {
				c.logger.Warn().Err(err).Str("type", msg.Type).Msg("undecodable batch dropped")
				continue
			}
			select {
			case c.in <- b:
			case <-ctx.Done():
				return
			}

		case MessagePing:
			pong, _ := json.Marshal(wsMessage{Type: MessagePong, Timestamp: time.Now()})
			if err := c.conn.Write(ctx, ws.MessageText, pong); err != nil {
				c.logger.Debug().Err(err).Msg("pong failed")
			}

		case MessageError:
			var e wsError
			_ = json.Unmarshal(msg.Data, &e)
			err := fmt.Errorf("%w: %s", ErrRemote, e.Message)
			c.logger.Warn().Err(err).Msg("relay rejected message")
			select {
			case c.errs <- err:
			default:
			}
		}
	}
}
