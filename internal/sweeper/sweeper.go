/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sweeper implements the catch-up loop that delivers items whose
// scheduled time passed without them being delivered.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/catchup/internal/clock"
	"github.com/friendsincode/catchup/internal/models"
	"github.com/friendsincode/catchup/internal/telemetry"
)

// Options tunes a Sweeper. Zero values select the defaults.
type Options struct {
	Hook          string
	Concurrency   int           // per-item deliveries in flight, default 1 (sequential)
	OverlapPolicy OverlapPolicy // default OverlapSkip
	Clock         clock.Clock   // default clock.Real
	Events        EventLogger   // default NopLogger
}

// Sweeper runs one sweep per trigger and never lets two sweeps overlap.
type Sweeper struct {
	source      Source
	executor    Executor
	clock       clock.Clock
	events      EventLogger
	logger      zerolog.Logger
	hook        string
	concurrency int
	policy      OverlapPolicy

	slot    chan struct{}
	running atomic.Bool
	newID   func() string
}

// New constructs a Sweeper.
func New(source Source, executor Executor, opts Options, logger zerolog.Logger) *Sweeper {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.OverlapPolicy != OverlapQueue {
		opts.OverlapPolicy = OverlapSkip
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Events == nil {
		opts.Events = NopLogger{}
	}
	return &Sweeper{
		source:      source,
		executor:    executor,
		clock:       opts.Clock,
		events:      opts.Events,
		logger:      logger.With().Str("component", "sweeper").Str("hook", opts.Hook).Logger(),
		hook:        opts.Hook,
		concurrency: opts.Concurrency,
		policy:      opts.OverlapPolicy,
		slot:        make(chan struct{}, 1),
		newID:       uuid.NewString,
	}
}

// Hook returns the hook name this sweeper reports under.
func (s *Sweeper) Hook() string {
	return s.hook
}

// Running reports whether a sweep is currently in progress.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Sweep finds every overdue item and attempts to deliver each once.
// A store failure aborts the sweep and is returned; per-item failures are
// reported in the Report and through the event logger only.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	if err := s.acquire(ctx); err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			s.logger.Warn().Msg("previous sweep still running, skipping trigger")
			s.record(MsgSweepSkipped, map[string]any{"hook": s.hook})
			telemetry.SweepsTotal.WithLabelValues(s.hook, "skipped").Inc()
		}
		return nil, err
	}
	defer s.release()

	ctx, span := telemetry.StartSpan(ctx, "sweeper", "Sweep")
	defer span.End()

	started := time.Now()
	report := &Report{
		SweepID: s.newID(),
		Hook:    s.hook,
		AsOf:    s.clock.Now(),
	}
	telemetry.AddSpanAttributes(span, map[string]any{
		"hook":     s.hook,
		"sweep_id": report.SweepID,
		"as_of":    report.AsOf,
	})

	items, err := s.source.FindOverdue(ctx, report.AsOf)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.SweepsTotal.WithLabelValues(s.hook, "aborted").Inc()
		s.record(MsgSweepFailed, map[string]any{
			"hook":     s.hook,
			"sweep_id": report.SweepID,
			"as_of":    report.AsOf,
			"error":    err.Error(),
		})
		return nil, fmt.Errorf("find overdue items: %w", err)
	}

	items = uniqueByID(items)
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	s.record(MsgSweepStarted, map[string]any{
		"hook":     s.hook,
		"sweep_id": report.SweepID,
		"as_of":    report.AsOf,
		"count":    len(items),
		"item_ids": ids,
	})
	telemetry.SweepOverdueItems.WithLabelValues(s.hook).Set(float64(len(items)))
	telemetry.AddSpanAttributes(span, map[string]any{"count": len(items)})

	report.Results = s.attemptAll(ctx, report.SweepID, items)
	report.tally()
	report.Duration = time.Since(started)

	s.record(MsgSweepCompleted, map[string]any{
		"hook":      s.hook,
		"sweep_id":  report.SweepID,
		"as_of":     report.AsOf,
		"count":     len(items),
		"delivered": report.Delivered,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
		"duration":  report.Duration,
	})
	telemetry.SweepsTotal.WithLabelValues(s.hook, "completed").Inc()
	telemetry.SweepDuration.WithLabelValues(s.hook).Observe(report.Duration.Seconds())

	return report, nil
}

// uniqueByID drops repeated ids, keeping the first occurrence. Each item is
// attempted at most once per sweep whatever the source returns.
func uniqueByID(items []models.ScheduledItem) []models.ScheduledItem {
	seen := make(map[string]struct{}, len(items))
	out := items[:0:0]
	for _, item := range items {
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}

func (s *Sweeper) attemptAll(ctx context.Context, sweepID string, items []models.ScheduledItem) []Result {
	results := make([]Result, len(items))
	if s.concurrency == 1 || len(items) < 2 {
		for i, item := range items {
			results[i] = s.attempt(ctx, sweepID, item)
		}
		return results
	}

	// attempt never returns an error, so the group only bounds concurrency.
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, item := range items {
		g.Go(func() error {
			results[i] = s.attempt(ctx, sweepID, item)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Sweeper) attempt(ctx context.Context, sweepID string, item models.ScheduledItem) Result {
	s.record(MsgDeliveryAttempt, map[string]any{
		"hook":     s.hook,
		"sweep_id": sweepID,
		"id":       item.ID,
	})

	err := s.deliver(ctx, item.ID)

	res := Result{
		SweepID:   sweepID,
		ItemID:    item.ID,
		Timestamp: s.clock.Now(),
	}
	switch {
	case err == nil:
		res.Outcome = OutcomeDelivered
	case errors.Is(err, ErrSkipped):
		res.Outcome = OutcomeSkipped
		res.Err = err
	default:
		res.Outcome = OutcomeFailed
		res.Err = err
	}

	s.record(res.Message(), res.Fields(s.hook))
	telemetry.ItemOutcomesTotal.WithLabelValues(s.hook, string(res.Outcome)).Inc()
	return res
}

func (s *Sweeper) deliver(ctx context.Context, itemID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrExecutorPanic, r)
		}
	}()
	return s.executor.Deliver(ctx, itemID)
}

// record forwards to the event logger; a misbehaving logger cannot fail the sweep.
func (s *Sweeper) record(message string, data map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("event", message).Msg("event logger panicked")
		}
	}()
	s.events.Record(message, data)
}

func (s *Sweeper) acquire(ctx context.Context) error {
	if s.policy == OverlapQueue {
		select {
		case s.slot <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		select {
		case s.slot <- struct{}{}:
		default:
			return ErrSweepInProgress
		}
	}
	s.running.Store(true)
	telemetry.SweepInProgress.WithLabelValues(s.hook).Set(1)
	return nil
}

func (s *Sweeper) release() {
	s.running.Store(false)
	telemetry.SweepInProgress.WithLabelValues(s.hook).Set(0)
	<-s.slot
}
