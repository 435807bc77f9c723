/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule keeps at most one recurring timer per hook name.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	// ErrUnboundHook is returned when a timer is requested for a hook with no job.
	ErrUnboundHook = errors.New("hook has no bound job")

	// ErrInvalidInterval is returned for non-positive intervals.
	ErrInvalidInterval = errors.New("interval must be positive")
)

// TimerConfig describes the recurring timer for one hook. When Spec is set it
// takes precedence over Interval.
type TimerConfig struct {
	HookName string
	Interval time.Duration
	Spec     string
}

// Registry maps hook names to cron entries.
type Registry struct {
	mu      sync.Mutex
	cron    *cron.Cron
	parser  cron.Parser
	jobs    map[string]func()
	entries map[string]cron.EntryID
	logger  zerolog.Logger
}

// NewRegistry creates a registry. Jobs run in UTC and a panicking job is
// recovered and logged.
func NewRegistry(logger zerolog.Logger) *Registry {
	logger = logger.With().Str("component", "schedule").Logger()
	cl := cronLogger{logger: logger}
	return &Registry{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:    make(map[string]func()),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// Bind associates job with hookName. Rebinding replaces the job for future
// registrations; an existing timer keeps the job it was created with.
func (r *Registry) Bind(hookName string, job func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[hookName] = job
}

// Ensure registers the timer described by cfg.
func (r *Registry) Ensure(cfg TimerConfig) error {
	if cfg.Spec != "" {
		return r.EnsureCron(cfg.HookName, cfg.Spec)
	}
	return r.EnsureScheduled(cfg.HookName, cfg.Interval)
}

// EnsureScheduled registers a timer firing every interval, first firing
// immediately. It is a no-op if hookName already has a timer, even when the
// interval differs.
func (r *Registry) EnsureScheduled(hookName string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: %w", hookName, ErrInvalidInterval)
	}
	return r.ensure(hookName, &everyFromNow{interval: interval}, interval.String())
}

// EnsureCron registers a timer following a standard five-field cron expression
// or descriptor such as "@every 5m". It is a no-op if hookName already has a timer.
func (r *Registry) EnsureCron(hookName, spec string) error {
	sched, err := r.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("schedule %s: parse %q: %w", hookName, spec, err)
	}
	return r.ensure(hookName, sched, spec)
}

func (r *Registry) ensure(hookName string, sched cron.Schedule, desc string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[hookName]; ok {
		r.logger.Debug().Str("hook", hookName).Msg("hook already scheduled")
		return nil
	}
	job, ok := r.jobs[hookName]
	if !ok || job == nil {
		return fmt.Errorf("schedule %s: %w", hookName, ErrUnboundHook)
	}

	r.entries[hookName] = r.cron.Schedule(sched, cron.FuncJob(job))
	r.logger.Info().Str("hook", hookName).Str("every", desc).Msg("hook scheduled")
	return nil
}

// Cancel removes the timer for hookName. It reports whether one existed.
func (r *Registry) Cancel(hookName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.entries[hookName]
	if !ok {
		return false
	}
	r.cron.Remove(id)
	delete(r.entries, hookName)
	r.logger.Info().Str("hook", hookName).Msg("hook unscheduled")
	return true
}

// IsScheduled reports whether hookName has an active timer.
func (r *Registry) IsScheduled(hookName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[hookName]
	return ok
}

// Next returns the next firing time for hookName. The time is zero until the
// registry has been started.
func (r *Registry) Next(hookName string) (time.Time, bool) {
	r.mu.Lock()
	id, ok := r.entries[hookName]
	r.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return r.cron.Entry(id).Next, true
}

// Hooks lists the scheduled hook names in sorted order.
func (r *Registry) Hooks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start begins firing timers in a background goroutine.
func (r *Registry) Start() {
	r.cron.Start()
}

// Stop halts the timers. The returned context is done once running jobs finish.
func (r *Registry) Stop() context.Context {
	return r.cron.Stop()
}

// everyFromNow fires at the first time it is asked about, then every interval.
type everyFromNow struct {
	mu       sync.Mutex
	interval time.Duration
	fired    bool
}

func (s *everyFromNow) Next(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fired {
		s.fired = true
		return t
	}
	return t.Add(s.interval)
}

// cronLogger routes cron's logging to zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
