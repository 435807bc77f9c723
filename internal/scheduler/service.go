/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler ties the sweeper to the process lifecycle: activation
// registers the recurring timer, deactivation clears it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/catchup/internal/schedule"
	"github.com/friendsincode/catchup/internal/sweeper"
)

// Registry is the subset of schedule.Registry the service drives.
type Registry interface {
	Bind(hookName string, job func())
	Ensure(cfg schedule.TimerConfig) error
	Cancel(hookName string) bool
	IsScheduled(hookName string) bool
}

// Sweeper runs one catch-up pass.
type Sweeper interface {
	Sweep(ctx context.Context) (*sweeper.Report, error)
}

// Service owns the timer for one hook.
type Service struct {
	registry Registry
	sweeper  Sweeper
	timer    schedule.TimerConfig
	logger   zerolog.Logger

	mu     sync.Mutex
	active bool
}

// New constructs the scheduler service.
func New(registry Registry, sw Sweeper, timer schedule.TimerConfig, logger zerolog.Logger) *Service {
	return &Service{
		registry: registry,
		sweeper:  sw,
		timer:    timer,
		logger:   logger.With().Str("component", "scheduler").Str("hook", timer.HookName).Logger(),
	}
}

// Hook returns the hook name.
func (s *Service) Hook() string {
	return s.timer.HookName
}

// Activate binds the sweep to the hook and makes sure its timer exists.
// Sweeps fired by the timer run with ctx. Activating twice is a no-op.
func (s *Service) Activate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.Bind(s.timer.HookName, func() { s.fire(ctx) })
	if err := s.registry.Ensure(s.timer); err != nil {
		return fmt.Errorf("activate %s: %w", s.timer.HookName, err)
	}
	if !s.active {
		s.logger.Info().
			Dur("interval", s.timer.Interval).
			Str("cron", s.timer.Spec).
			Msg("catch-up sweeps activated")
	}
	s.active = true
	return nil
}

// Deactivate removes the hook's timer. A sweep already running finishes.
func (s *Service) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registry.Cancel(s.timer.HookName) {
		s.logger.Info().Msg("catch-up sweeps deactivated")
	}
	s.active = false
}

// Active reports whether the timer is registered.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && s.registry.IsScheduled(s.timer.HookName)
}

// RunOnce runs a sweep immediately, outside the timer.
func (s *Service) RunOnce(ctx context.Context) (*sweeper.Report, error) {
	return s.sweeper.Sweep(ctx)
}

func (s *Service) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := s.sweeper.Sweep(ctx)
	switch {
	case errors.Is(err, sweeper.ErrSweepInProgress):
		// Already logged by the sweeper.
	case err != nil:
		s.logger.Error().Err(err).Msg("catch-up sweep failed")
	default:
		s.logger.Debug().
			Str("sweep_id", report.SweepID).
			Int("delivered", report.Delivered).
			Int("failed", report.Failed).
			Int("skipped", report.Skipped).
			Msg("catch-up sweep finished")
	}
}
