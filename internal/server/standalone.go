/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/catchup/internal/audit"
	"github.com/friendsincode/catchup/internal/config"
	"github.com/friendsincode/catchup/internal/db"
	"github.com/friendsincode/catchup/internal/events"
	"github.com/friendsincode/catchup/internal/sweeper"
)

// Standalone is a sweeper wired without HTTP or timers, for one-off runs
// from the command line. Events still reach every configured sink and, when
// enabled, the sweep history.
type Standalone struct {
	sweeper *sweeper.Sweeper
	closers []func() error
}

// NewStandalone connects the stores and sinks configured in cfg. Leader
// election is ignored; it only guards the long-running timer.
func NewStandalone(cfg *config.Config, logger zerolog.Logger) (*Standalone, error) {
	s := &Standalone{}
	if err := s.init(cfg, logger); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Standalone) init(cfg *config.Config, logger zerolog.Logger) error {
	database, err := db.Connect(cfg, logger)
	if err != nil {
		return err
	}
	s.deferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Source == config.SourceRedis || cfg.EventsRedis {
		if rdb, err = ConnectRedis(cfg); err != nil {
			return err
		}
		s.deferClose(rdb.Close)
	}

	source, redisSource, err := buildSource(cfg, database, rdb, logger)
	if err != nil {
		return err
	}
	executor := buildExecutor(cfg, database, redisSource, logger)

	nodeID := cfg.InstanceID
	if nodeID == "" {
		nodeID = nodeIdentity()
	}
	bus := events.NewBus()

	if cfg.HistoryEnabled {
		ctx, cancel := context.WithCancel(context.Background())
		done := audit.NewService(database, bus, nodeID, logger).Start(ctx)
		// Stopping drains the events a sweep already published.
		s.deferClose(func() error {
			cancel()
			<-done
			return nil
		})
	}

	s.sweeper = sweeper.New(source, executor, sweeper.Options{
		Hook:          cfg.HookName,
		Concurrency:   cfg.Concurrency,
		OverlapPolicy: sweeper.OverlapPolicy(cfg.OverlapPolicy),
		Events:        buildEventLoggers(cfg, bus, rdb, nodeID, logger, s.deferClose),
	}, logger)
	return nil
}

// Sweep runs one sweep.
func (s *Standalone) Sweep(ctx context.Context) (*sweeper.Report, error) {
	return s.sweeper.Sweep(ctx)
}

// Close releases owned resources in reverse order.
func (s *Standalone) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

func (s *Standalone) deferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}
