/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/ripple/internal/api"
	"github.com/friendsincode/ripple/internal/auth"
	"github.com/friendsincode/ripple/internal/broadcast"
	"github.com/friendsincode/ripple/internal/cache"
	"github.com/friendsincode/ripple/internal/config"
	"github.com/friendsincode/ripple/internal/db"
	"github.com/friendsincode/ripple/internal/eventbus"
	"github.com/friendsincode/ripple/internal/events"
	"github.com/friendsincode/ripple/internal/history"
	"github.com/friendsincode/ripple/internal/playback"
	"github.com/friendsincode/ripple/internal/provider"
	"github.com/friendsincode/ripple/internal/queue"
	"github.com/friendsincode/ripple/internal/roomlock"
	"github.com/friendsincode/ripple/internal/rooms"
	"github.com/friendsincode/ripple/internal/scheduler"
	"github.com/friendsincode/ripple/internal/store"
	"github.com/friendsincode/ripple/internal/telemetry"
)

const dbMetricsInterval = 30 * time.Second

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db          *gorm.DB
	redis       *redis.Client
	bus         *events.Bus
	scheduler   *scheduler.Service
	broadcaster *broadcast.Broadcaster
	playback    *playback.Controller
	api         *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID()
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("ripple-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Room sockets are long lived.
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(logger),
	}
	// Registered first so it is closed last, after listeners stop emitting.
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

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WebSocket handlers manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info().
		Str("instance_id", cfg.InstanceID).
		Str("relay", string(cfg.RelayBackend)).
		Msg("server initialized")

	return srv, nil
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "ripple"
	}
	return host + "-" + uuid.NewString()[:8]
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database

	s.redis = redis.NewClient(&redis.Options{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPassword,
		DB:       s.cfg.RedisDB,
	})
	s.DeferClose(s.redis.Close)

	pingCtx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()
	if err := s.redis.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("connect redis %s: %w", s.cfg.RedisAddr, err)
	}

	keys := store.NewKeyspace(s.cfg.KeyPrefix)
	st := store.NewRedisStore(s.redis, s.cfg.StoreTimeout, s.logger)

	locks := roomlock.New(s.redis, keys.Lock, roomlock.Config{
		Lease:          s.cfg.LockLease,
		AcquireTimeout: s.cfg.LockAcquireTimeout,
	}, s.logger)

	s.scheduler = scheduler.New(s.redis, scheduler.Config{
		Prefix:       keys.Timers(),
		InstanceID:   s.cfg.InstanceID,
		PollInterval: s.cfg.TimerPollInterval,
		Lease:        s.cfg.TimerLease,
		MaxAttempts:  s.cfg.TimerMaxAttempts,
		BackoffCap:   s.cfg.TimerBackoffCap,
		Timeout:      s.cfg.StoreTimeout,
	}, s.logger)

	queues := queue.New(st, keys, s.bus, s.logger)
	recorder := history.New(st, keys, s.bus, s.cfg.HistoryLimit, s.logger)

	s.playback = playback.New(playback.Deps{
		Store:   st,
		Keys:    keys,
		Queue:   queues,
		History: recorder,
		Timers:  s.scheduler,
		Locks:   locks,
		Bus:     s.bus,
		Logger:  s.logger,
	})
	s.scheduler.Handle(s.playback.OnTimerFired)

	relay, err := s.newRelay(keys)
	if err != nil {
		return err
	}
	s.broadcaster = broadcast.New(broadcast.NewHub(0, s.logger), relay, s.logger)
	s.DeferClose(s.broadcaster.Close)
	broadcast.RegisterListeners(s.bus, s.broadcaster, s.playback)

	cacheCfg := cache.DefaultConfig()
	cacheCfg.Prefix = keys.Prefix() + ":cache"
	roomCache := cache.New(s.redis, cacheCfg, s.logger)

	resolver := provider.NewResolver(provider.Config{
		YouTubeAPIKey:    s.cfg.YouTubeAPIKey,
		SoundCloudAPIKey: s.cfg.SoundCloudAPIKey,
	}, s.logger)

	s.api = api.New(api.Deps{
		Playback: s.playback,
		Rooms:    rooms.NewRepository(database).WithCache(roomCache),
		Metadata: resolver,
		Verifier: auth.NewVerifier([]byte(s.cfg.JWTSigningKey)),
		Hub:      s.broadcaster.Hub(),
		Logger:   s.logger,
	})

	return nil
}

// newRelay builds the configured fleet relay. It returns nil for a single
// instance deployment.
func (s *Server) newRelay(keys store.Keyspace) (eventbus.Relay, error) {
	switch s.cfg.RelayBackend {
	case config.RelayRedis:
		relayCfg := eventbus.DefaultRedisConfig()
		relayCfg.ChannelPrefix = keys.Relay()
		relayCfg.PublishTimeout = s.cfg.StoreTimeout
		return eventbus.NewRedisRelay(s.redis, relayCfg, s.cfg.InstanceID, s.logger), nil
	case config.RelayNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.SubjectPrefix = keys.Prefix() + ".rooms."
		relay, err := eventbus.NewNATSRelay(natsCfg, s.cfg.InstanceID, s.logger)
		if err != nil {
			return nil, fmt.Errorf("connect nats relay: %w", err)
		}
		return relay, nil
	default:
		s.logger.Warn().Msg("realtime relay disabled, events reach local clients only")
		return nil, nil
	}
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
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

	if err := s.broadcaster.Start(ctx); err != nil {
		return fmt.Errorf("start realtime relay: %w", err)
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("timer scheduler exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(dbMetricsInterval)
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

	return nil
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
	s.router.Handle("/metrics", telemetry.Handler())
	s.api.Routes(s.router)
}
