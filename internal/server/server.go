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
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/catchup/internal/api"
	"github.com/friendsincode/catchup/internal/audit"
	"github.com/friendsincode/catchup/internal/config"
	"github.com/friendsincode/catchup/internal/db"
	"github.com/friendsincode/catchup/internal/events"
	"github.com/friendsincode/catchup/internal/leadership"
	"github.com/friendsincode/catchup/internal/schedule"
	"github.com/friendsincode/catchup/internal/scheduler"
	"github.com/friendsincode/catchup/internal/storage"
	"github.com/friendsincode/catchup/internal/store"
	"github.com/friendsincode/catchup/internal/sweeper"
	"github.com/friendsincode/catchup/internal/telemetry"
)

// PruneHook is the timer hook that applies history retention.
const PruneHook = "catchup_history_prune"

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db                   *gorm.DB
	redis                *redis.Client
	bus                  *events.Bus
	source               sweeper.Source
	sweeper              *sweeper.Sweeper
	registry             *schedule.Registry
	scheduler            *scheduler.Service
	leaderAwareScheduler *scheduler.LeaderAwareScheduler
	auditSvc             *audit.Service
	archive              storage.ObjectStore
	api                  *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New wires every component from cfg and starts the background workers.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("catchup-api")) // Add OpenTelemetry tracing
	router.Use(telemetry.MetricsMiddleware)                // Add Prometheus metrics
	// Skip timeout for WebSocket connections
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
		bus:    events.NewBus(),
	}

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
		// WriteTimeout set to 0 for the event stream; the middleware timeout covers other routes
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
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
	database, err := db.Connect(s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}

	if s.cfg.NeedsRedis() {
		client, err := ConnectRedis(s.cfg)
		if err != nil {
			return err
		}
		s.redis = client
		s.DeferClose(client.Close)
		s.logger.Info().Str("addr", s.cfg.RedisAddr).Msg("redis connected")
	}

	nodeID := s.cfg.InstanceID
	if nodeID == "" {
		nodeID = nodeIdentity()
	}

	source, redisSource, err := buildSource(s.cfg, database, s.redis, s.logger)
	if err != nil {
		return err
	}
	s.source = source
	executor := buildExecutor(s.cfg, database, redisSource, s.logger)

	eventLog := buildEventLoggers(s.cfg, s.bus, s.redis, nodeID, s.logger, s.DeferClose)

	s.sweeper = sweeper.New(source, executor, sweeper.Options{
		Hook:          s.cfg.HookName,
		Concurrency:   s.cfg.Concurrency,
		OverlapPolicy: sweeper.OverlapPolicy(s.cfg.OverlapPolicy),
		Events:        eventLog,
	}, s.logger)

	s.registry = schedule.NewRegistry(s.logger)
	s.DeferClose(s.stopRegistry)

	s.scheduler = scheduler.New(s.registry, s.sweeper, schedule.TimerConfig{
		HookName: s.cfg.HookName,
		Interval: s.cfg.Interval,
		Spec:     s.cfg.CronSpec,
	}, s.logger)

	// Setup leader-aware scheduler if leader election is enabled
	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.DefaultConfig(s.cfg.HookName)
		electionConfig.InstanceID = nodeID

		election, err := leadership.NewElection(s.redis, electionConfig, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}

		s.leaderAwareScheduler = scheduler.NewLeaderAware(s.scheduler, election, s.logger)
		s.leaderAwareScheduler.SetBus(s.bus)
		s.DeferClose(func() error { return s.leaderAwareScheduler.Stop() })

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", electionConfig.InstanceID).
			Msg("leader election enabled for catch-up sweeps")
	}

	deps := api.Deps{
		Runner: s.scheduler,
		Source: source,
		Bus:    s.bus,
	}
	if s.cfg.Source == config.SourceDB {
		deps.Items = store.NewItemStore(database)
	}

	if s.cfg.HistoryEnabled {
		s.auditSvc = audit.NewService(database, s.bus, nodeID, s.logger)
		deps.History = s.auditSvc

		archive, err := buildArchive(s.cfg, s.logger)
		if err != nil {
			return err
		}
		s.archive = archive
	}

	var secret []byte
	if s.cfg.APIJWTSecret != "" {
		secret = []byte(s.cfg.APIJWTSecret)
	} else {
		s.logger.Warn().Msg("CATCHUP_API_JWT_SECRET not set, ops API is unauthenticated")
	}
	s.api = api.New(deps, secret, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Sweeper returns the wired sweeper.
func (s *Server) Sweeper() *sweeper.Sweeper {
	return s.sweeper
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

func (s *Server) stopRegistry() error {
	select {
	case <-s.registry.Stop().Done():
		return nil
	case <-time.After(30 * time.Second):
		return errors.New("timed out waiting for running sweep to finish")
	}
}

// startBackgroundWorkers fails when the sweep timer cannot be registered; a
// server that can never sweep must not start.
func (s *Server) startBackgroundWorkers() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// The audit service subscribes before the first sweep can fire.
	if s.auditSvc != nil {
		done := s.auditSvc.Start(ctx)
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			<-done
		}()

		if s.cfg.HistoryRetention > 0 {
			s.registry.Bind(PruneHook, func() { s.retainHistory(ctx) })
			if err := s.registry.EnsureCron(PruneHook, "@daily"); err != nil {
				return fmt.Errorf("schedule history retention: %w", err)
			}
		}
	}

	s.registry.Start()

	// Start sweeps (leader-aware if configured, otherwise direct)
	if s.leaderAwareScheduler != nil {
		if err := s.leaderAwareScheduler.Start(ctx); err != nil {
			return fmt.Errorf("start leader-aware scheduler: %w", err)
		}
	} else if err := s.scheduler.Activate(ctx); err != nil {
		return fmt.Errorf("activate catch-up sweeps: %w", err)
	}

	// Start database metrics updater
	if s.db != nil {
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
	}
	return nil
}

func (s *Server) retainHistory(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	cutoff := time.Now().UTC().Add(-s.cfg.HistoryRetention)
	if _, err := s.auditSvc.Retain(ctx, s.archive, cutoff); err != nil {
		s.logger.Error().Err(err).Msg("history retention failed")
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
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok"`

		if s.sweeper.Running() {
			response += `,"sweeping":true`
		} else {
			response += `,"sweeping":false`
		}

		// Add leader status if leader election is enabled
		if s.leaderAwareScheduler != nil {
			if s.leaderAwareScheduler.IsLeader() {
				response += `,"leader":true`
			} else {
				response += `,"leader":false`
			}
		}

		response += `}`
		_, _ = w.Write([]byte(response))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
