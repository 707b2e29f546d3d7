/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/tablemix/internal/auth"
	"github.com/friendsincode/tablemix/internal/config"
	"github.com/friendsincode/tablemix/internal/db"
	"github.com/friendsincode/tablemix/internal/eventbus"
	"github.com/friendsincode/tablemix/internal/events"
	"github.com/friendsincode/tablemix/internal/layout"
	"github.com/friendsincode/tablemix/internal/logbuffer"
	"github.com/friendsincode/tablemix/internal/room"
	"github.com/friendsincode/tablemix/internal/telemetry"
	"github.com/friendsincode/tablemix/internal/version"
)

// Server bundles the room relay HTTP surface and its supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db     *gorm.DB
	bus    *events.Bus
	fanout eventbus.Fanout
	nodeID string
	hub    *room.Hub
	rooms  *room.Handler

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}
	if cfg.JWTSigningKey == "" {
		logger.Warn().Msg("TABLEMIX_JWT_SIGNING_KEY is empty; every room endpoint will reject requests")
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("tablemix-relay"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(timeoutMiddleware(30 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}
	srv.DeferClose(func() error { srv.bus.Close(); return nil })

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	if err := srv.startBackgroundWorkers(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Room sockets are long lived; handlers manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

// timeoutMiddleware bounds plain HTTP requests. WebSocket upgrades are exempt.
func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(d)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	slots, err := layout.Load(s.cfg.LayoutFile)
	if err != nil {
		return err
	}

	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database

	s.nodeID = eventbus.NewNodeID(s.cfg.InstanceID)
	fanout, err := s.newFanout()
	if err != nil {
		return err
	}
	s.fanout = fanout
	s.DeferClose(fanout.Close)

	s.hub = room.NewHub(slots.Channels(), room.NewStore(database), fanout, s.bus, s.logger)
	s.DeferClose(func() error { s.hub.Close(); return nil })
	s.rooms = room.NewHandler(s.hub, s.logger)

	s.logger.Info().
		Str("node_id", s.nodeID).
		Str("fanout", string(s.cfg.Fanout)).
		Int("channels", len(slots.Slots)).
		Msg("room relay ready")
	return nil
}

func (s *Server) newFanout() (eventbus.Fanout, error) {
	switch s.cfg.Fanout {
	case config.FanoutRedis:
		rc := eventbus.DefaultRedisConfig()
		rc.Addr = s.cfg.RedisAddr
		rc.Password = s.cfg.RedisPassword
		rc.DB = s.cfg.RedisDB
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return eventbus.NewRedisFanout(ctx, rc, s.nodeID, s.logger), nil
	case config.FanoutNATS:
		nc := eventbus.DefaultNATSConfig()
		nc.URL = s.cfg.NATSURL
		fanout, err := eventbus.NewNATSFanout(nc, s.nodeID, s.logger)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		return fanout, nil
	default:
		return eventbus.Local{}, nil
	}
}

// AttachLogs serves buf's room-tagged entries under /rooms/{id}/logs.
func (s *Server) AttachLogs(buf *logbuffer.Buffer) {
	s.rooms.SetLogs(buf)
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if err := s.hub.Start(ctx); err != nil {
		return err
	}

	// Database pool metrics
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	sub := s.bus.Subscribe(events.EventClientJoined, events.EventClientLeft)
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runPresenceLog(ctx, sub)
	}()
	return nil
}

// runPresenceLog reports room membership changes at info level.
func (s *Server) runPresenceLog(ctx context.Context, sub events.Subscriber) {
	defer s.bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			roomID, _ := ev.Payload["room_id"].(string)
			s.logger.Info().
				Str("event", string(ev.Type)).
				Str("room_id", roomID).
				Int("members", s.hub.Members(roomID)).
				Msg("room presence changed")
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": version.Version,
			"node_id": s.nodeID,
			"fanout":  string(s.cfg.Fanout),
		})
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Route("/rooms", func(r chi.Router) {
		r.Use(auth.Middleware([]byte(s.cfg.JWTSigningKey)))
		s.rooms.Routes(r)
	})
}
