/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audit persists sweep history from bus events.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/catchup/internal/events"
	"github.com/friendsincode/catchup/internal/models"
)

// subscriberBuffer is large enough to absorb one sweep's burst of item events.
const subscriberBuffer = 1024

// ErrRunNotFound is returned when a sweep run does not exist.
var ErrRunNotFound = errors.New("sweep run not found")

// Service records sweep runs and per-item outcomes by subscribing to events.
type Service struct {
	db         *gorm.DB
	bus        *events.Bus
	instanceID string
	logger     zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, instanceID string, logger zerolog.Logger) *Service {
	return &Service{
		db:         db,
		bus:        bus,
		instanceID: instanceID,
		logger:     logger.With().Str("component", "audit").Logger(),
	}
}

// Start subscribes before returning, then records sweep events in the
// background until ctx is done. The returned channel closes when it stops.
func (s *Service) Start(ctx context.Context) <-chan struct{} {
	sub := s.subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(ctx, sub)
	}()
	return done
}

func (s *Service) subscribe() events.Subscriber {
	return s.bus.SubscribeMany(subscriberBuffer,
		events.EventSweepStarted,
		events.EventSweepCompleted,
		events.EventSweepFailed,
		events.EventItemDelivered,
		events.EventItemFailed,
		events.EventItemSkipped,
	)
}

func (s *Service) run(ctx context.Context, sub events.Subscriber) {
	defer s.bus.Remove(sub)
	s.logger.Info().Msg("audit service started")

	// Events already received are recorded even while stopping.
	recordCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			s.drain(recordCtx, sub)
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if err := s.Handle(recordCtx, payload); err != nil {
				s.logger.Error().Err(err).Interface("event", payload["event"]).Msg("failed to record sweep history")
			}
		}
	}
}

// drain records events that were already buffered when the consumer stopped.
func (s *Service) drain(ctx context.Context, sub events.Subscriber) {
	for {
		select {
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if err := s.Handle(ctx, payload); err != nil {
				s.logger.Error().Err(err).Interface("event", payload["event"]).Msg("failed to record sweep history")
			}
		default:
			return
		}
	}
}

// Handle records a single event payload.
func (s *Service) Handle(ctx context.Context, p events.Payload) error {
	switch events.EventType(str(p, "event")) {
	case events.EventSweepStarted:
		return s.runStarted(ctx, p)
	case events.EventSweepCompleted:
		return s.runCompleted(ctx, p)
	case events.EventSweepFailed:
		return s.runAborted(ctx, p)
	case events.EventItemDelivered, events.EventItemFailed, events.EventItemSkipped:
		return s.outcome(ctx, p)
	}
	return nil
}

func (s *Service) runStarted(ctx context.Context, p events.Payload) error {
	run := &models.SweepRun{
		ID:         str(p, "sweep_id"),
		Hook:       str(p, "hook"),
		InstanceID: s.instanceID,
		AsOf:       timeOf(p, "as_of"),
		Status:     models.SweepRunRunning,
		Overdue:    intOf(p, "count"),
		StartedAt:  time.Now().UTC(),
	}
	if run.ID == "" {
		return errors.New("sweep started event without sweep_id")
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(run).Error; err != nil {
		return fmt.Errorf("create sweep run: %w", err)
	}
	return nil
}

func (s *Service) runCompleted(ctx context.Context, p events.Payload) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&models.SweepRun{}).
		Where("id = ?", str(p, "sweep_id")).
		Updates(map[string]any{
			"status":      models.SweepRunCompleted,
			"delivered":   intOf(p, "delivered"),
			"failed":      intOf(p, "failed"),
			"skipped":     intOf(p, "skipped"),
			"finished_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("complete sweep run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("complete sweep run %s: %w", str(p, "sweep_id"), ErrRunNotFound)
	}
	return nil
}

// runAborted stores a failed sweep. No started event precedes it.
func (s *Service) runAborted(ctx context.Context, p events.Payload) error {
	now := time.Now().UTC()
	run := &models.SweepRun{
		ID:         str(p, "sweep_id"),
		Hook:       str(p, "hook"),
		InstanceID: s.instanceID,
		AsOf:       timeOf(p, "as_of"),
		Status:     models.SweepRunAborted,
		Error:      str(p, "error"),
		StartedAt:  now,
		FinishedAt: &now,
	}
	if run.ID == "" {
		return errors.New("sweep failed event without sweep_id")
	}
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("save aborted sweep run: %w", err)
	}
	return nil
}

func (s *Service) outcome(ctx context.Context, p events.Payload) error {
	rec := &models.SweepOutcome{
		SweepID:    str(p, "sweep_id"),
		ItemID:     str(p, "id"),
		Outcome:    str(p, "outcome"),
		Error:      str(p, "error"),
		RecordedAt: timeOf(p, "timestamp"),
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create sweep outcome: %w", err)
	}
	return nil
}

// RunFilter selects sweep runs.
type RunFilter struct {
	Hook   string
	Status models.SweepRunStatus
	Limit  int
	Offset int
}

// Runs returns sweep runs, most recent first, and the total matching count.
func (s *Service) Runs(ctx context.Context, f RunFilter) ([]models.SweepRun, int64, error) {
	var runs []models.SweepRun
	var total int64

	query := s.db.WithContext(ctx).Model(&models.SweepRun{})
	if f.Hook != "" {
		query = query.Where("hook = ?", f.Hook)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	} else {
		query = query.Limit(100) // Default limit
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	if err := query.Order("started_at DESC").Find(&runs).Error; err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// Run loads one sweep run with its outcomes.
func (s *Service) Run(ctx context.Context, id string) (*models.SweepRun, []models.SweepOutcome, error) {
	var run models.SweepRun
	err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrRunNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var outcomes []models.SweepOutcome
	if err := s.db.WithContext(ctx).Where("sweep_id = ?", id).Order("recorded_at ASC, id ASC").Find(&outcomes).Error; err != nil {
		return nil, nil, err
	}
	return &run, outcomes, nil
}

// Prune deletes runs and outcomes that started before cutoff.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&models.SweepRun{}).Select("id").Where("started_at < ?", cutoff)
		if err := tx.Where("sweep_id IN (?)", old).Delete(&models.SweepOutcome{}).Error; err != nil {
			return err
		}
		res := tx.Where("started_at < ?", cutoff).Delete(&models.SweepRun{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("prune sweep history: %w", err)
	}
	return deleted, nil
}

func str(p events.Payload, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func intOf(p events.Payload, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func timeOf(p events.Payload, key string) time.Time {
	switch v := p[key].(type) {
	case time.Time:
		return v.UTC()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
