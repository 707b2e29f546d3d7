/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/tablemix/internal/auth"
	"github.com/friendsincode/tablemix/internal/logbuffer"
	"github.com/friendsincode/tablemix/internal/models"
)

// Message types carried over the room socket.
const (
	MessageSnapshot = "snapshot"
	MessageBatch    = "batch"
	MessagePing     = "ping"
	MessagePong     = "pong"
	MessageError    = "error"
)

// DefaultPingInterval is how often the relay pings idle clients.
const DefaultPingInterval = 15 * time.Second

// maxMessageBytes bounds one inbound socket frame or HTTP body.
const maxMessageBytes = 1 << 20

// wsMessage is the envelope of every socket frame. Data holds a Batch for
// snapshot and batch messages.
type wsMessage struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type wsError struct {
	Message string `json:"message"`
}

// Handler serves the room relay over HTTP and WebSocket. Requests must carry
// claims placed by auth.Middleware.
type Handler struct {
	hub          *Hub
	logger       zerolog.Logger
	pingInterval time.Duration
	logs         *logbuffer.Buffer
}

// NewHandler creates the room HTTP handler.
func NewHandler(hub *Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:          hub,
		logger:       logger.With().Str("component", "room_ws").Logger(),
		pingInterval: DefaultPingInterval,
	}
}

// Routes registers the room endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/{id}/ws", h.HandleWebSocket)
	r.Post("/{id}/batches", h.HandleBatch)
	r.Get("/{id}/channels", h.HandleChannels)
	r.Get("/{id}/logs", h.HandleLogs)
}

// SetLogs installs the buffer served by HandleLogs.
func (h *Handler) SetLogs(buf *logbuffer.Buffer) {
	h.logs = buf
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// roomFromRequest checks the room id and the caller's right to join it.
func (h *Handler) roomFromRequest(w http.ResponseWriter, r *http.Request) (string, *auth.Claims, bool) {
	roomID := chi.URLParam(r, "id")
	if !ValidRoomID(roomID) {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return "", nil, false
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", nil, false
	}
	if !claims.CanJoin(roomID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return "", nil, false
	}
	return roomID, claims, true
}

// HandleChannels returns the tracked channel records of a room.
func (h *Handler) HandleChannels(w http.ResponseWriter, r *http.Request) {
	roomID, _, ok := h.roomFromRequest(w, r)
	if !ok {
		return
	}
	channels, err := h.hub.Channels(r.Context(), roomID)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("load room channels failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room_id": roomID, "channels": channels})
}

// HandleBatch relays a batch posted over HTTP. Operator only.
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	roomID, claims, ok := h.roomFromRequest(w, r)
	if !ok {
		return
	}
	if !claims.CanOperate(roomID) {
		writeError(w, http.StatusForbidden, "operator role required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	var batch models.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.hub.Publish(r.Context(), roomID, batch); err != nil {
		if errors.Is(err, ErrEmptyBatch) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("publish batch failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"room_id": roomID, "operations": batch.Len()})
}

// HandleLogs returns recent relay log entries tagged with the room. Operator only.
// Optional query parameters: level, component, q, since (RFC 3339) and limit.
func (h *Handler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	roomID, claims, ok := h.roomFromRequest(w, r)
	if !ok {
		return
	}
	if !claims.CanOperate(roomID) {
		writeError(w, http.StatusForbidden, "operator role required")
		return
	}
	if h.logs == nil {
		writeError(w, http.StatusNotFound, "log capture disabled")
		return
	}

	q := logbuffer.Query{
		RoomID:    roomID,
		Level:     r.URL.Query().Get("level"),
		Component: r.URL.Query().Get("component"),
		Search:    r.URL.Query().Get("q"),
		Limit:     200,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		q.Since = since
	}

	writeJSON(w, http.StatusOK, map[string]any{"room_id": roomID, "entries": h.logs.Query(q)})
}

// HandleWebSocket serves one client of a room. The client first receives the
// room snapshot, then every relayed batch in order. Operators may send
// batch messages; everyone else is answered with an error message.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID, claims, ok := h.roomFromRequest(w, r)
	if !ok {
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")
	conn.SetReadLimit(maxMessageBytes)

	ctx := r.Context()
	member, snapshot, err := h.hub.Join(ctx, roomID)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("join room failed")
		conn.Close(ws.StatusInternalError, "join failed")
		return
	}
	defer h.hub.Leave(member)

	log := h.logger.With().Str("room_id", roomID).Str("client_id", member.ID).Str("user_id", claims.UserID).Logger()
	log.Debug().Msg("room websocket connected")

	if err := h.sendBatch(ctx, conn, MessageSnapshot, roomID, snapshot); err != nil {
		log.Error().Err(err).Msg("failed to send snapshot")
		conn.Close(ws.StatusInternalError, "send failed")
		return
	}

	// Read client messages
	done := make(chan struct{})
	inbound := make(chan wsMessage)
	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ws.CloseStatus(err) != ws.StatusNormalClosure {
					log.Debug().Err(err).Msg("websocket read error")
				}
				return
			}

			var msg wsMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Warn().Err(err).Msg("invalid websocket message")
				continue
			}
			select {
			case inbound <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return

		case <-done:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return

		case <-pingTicker.C:
			if err := h.send(ctx, conn, wsMessage{Type: MessagePing, Timestamp: time.Now()}); err != nil {
				log.Debug().Err(err).Msg("ping failed")
				conn.Close(ws.StatusInternalError, "ping failed")
				return
			}

		case b, ok := <-member.Batches():
			if !ok {
				conn.Close(ws.StatusPolicyViolation, "client too slow")
				return
			}
			if err := h.sendBatch(ctx, conn, MessageBatch, roomID, b); err != nil {
				log.Debug().Err(err).Msg("send batch failed")
				conn.Close(ws.StatusInternalError, "send failed")
				return
			}

		case msg := <-inbound:
			if err := h.handleMessage(ctx, roomID, claims, msg); err != nil {
				log.Warn().Err(err).Str("type", msg.Type).Msg("client message rejected")
				h.sendError(ctx, conn, err.Error())
			}
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, roomID string, claims *auth.Claims, msg wsMessage) error {
	switch msg.Type {
	case MessageBatch:
		if !claims.CanOperate(roomID) {
			return auth.ErrForbidden
		}
		var b models.Batch
		if err := json.Unmarshal(msg.Data, &b); err != nil {
			return err
		}
		return h.hub.Publish(ctx, roomID, b)
	case MessagePong, MessagePing:
		return nil
	default:
		h.logger.Debug().Str("type", msg.Type).Msg("unknown message type")
		return nil
	}
}

func (h *Handler) sendBatch(ctx context.Context, conn *ws.Conn, typ, roomID string, b models.Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return h.send(ctx, conn, wsMessage{Type: typ, RoomID: roomID, Timestamp: time.Now(), Data: data})
}

func (h *Handler) sendError(ctx context.Context, conn *ws.Conn, errMsg string) {
	data, _ := json.Marshal(wsError{Message: errMsg})
	_ = h.send(ctx, conn, wsMessage{Type: MessageError, Timestamp: time.Now(), Data: data})
}

func (h *Handler) send(ctx context.Context, conn *ws.Conn, msg wsMessage) error {
	bytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}
