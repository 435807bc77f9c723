/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package publish performs the state transition that delivers an overdue item.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/catchup/internal/clock"
	"github.com/friendsincode/catchup/internal/models"
	"github.com/friendsincode/catchup/internal/store"
	"github.com/friendsincode/catchup/internal/sweeper"
	"github.com/friendsincode/catchup/internal/telemetry"
)

var (
	// ErrNotFound is returned when the item no longer exists.
	ErrNotFound = store.ErrNotFound

	// ErrNotDue is returned when the item's target time is still in the future.
	ErrNotDue = fmt.Errorf("item not due: %w", sweeper.ErrSkipped)

	// ErrNotPending is returned when the item has left the pending state
	// other than by being delivered.
	ErrNotPending = fmt.Errorf("item not pending: %w", sweeper.ErrSkipped)
)

// GormOptions configures a GormPublisher.
type GormOptions struct {
	Clock       clock.Clock
	MaxAttempts int // 0 means unlimited
}

// GormPublisher delivers an item by moving it from pending to delivered.
type GormPublisher struct {
	db          *gorm.DB
	clock       clock.Clock
	maxAttempts int
	logger      zerolog.Logger
}

// NewGormPublisher creates a publisher over db.
func NewGormPublisher(db *gorm.DB, opts GormOptions, logger zerolog.Logger) *GormPublisher {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &GormPublisher{
		db:          db,
		clock:       opts.Clock,
		maxAttempts: opts.MaxAttempts,
		logger:      logger.With().Str("component", "gorm_publisher").Logger(),
	}
}

// Deliver marks the item delivered if it is pending and due. Delivering an
// item that is already delivered returns nil without touching it.
func (p *GormPublisher) Deliver(ctx context.Context, itemID string) error {
	now := p.clock.Now()

	res := p.db.WithContext(ctx).
		Model(&models.ScheduledItem{}).
		Where("id = ? AND status = ? AND target_time <= ?", itemID, models.ItemStatusPending, now).
		Updates(map[string]any{
			"status":       models.ItemStatusDelivered,
			"delivered_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return fmt.Errorf("deliver item %s: %w", itemID, res.Error)
	}
	if res.RowsAffected > 0 {
		p.logger.Debug().Str("item_id", itemID).Msg("item delivered")
		return nil
	}

	// Nothing changed: find out why.
	var item models.ScheduledItem
	err := p.db.WithContext(ctx).
		Select("id", "status", "target_time").
		First(&item, "id = ?", itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("deliver item %s: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("reload item %s: %w", itemID, err)
	}

	switch item.Status {
	case models.ItemStatusDelivered:
		return nil
	case models.ItemStatusPending:
		if item.TargetTime.After(now) {
			return fmt.Errorf("deliver item %s: %w", itemID, ErrNotDue)
		}
		return fmt.Errorf("deliver item %s: concurrent update", itemID)
	default:
		return fmt.Errorf("deliver item %s (status %s): %w", itemID, item.Status, ErrNotPending)
	}
}

// Check reports whether itemID still needs delivering, without changing it.
// It returns ErrAlreadyDelivered for delivered items and the same errors as
// Deliver for items that are missing, not due or no longer pending. Use it
// ahead of executors whose side effect cannot be repeated.
func (p *GormPublisher) Check(ctx context.Context, itemID string) error {
	var item models.ScheduledItem
	err := p.db.WithContext(ctx).
		Select("id", "status", "target_time").
		First(&item, "id = ?", itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("check item %s: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check item %s: %w", itemID, err)
	}

	switch item.Status {
	case models.ItemStatusDelivered:
		return ErrAlreadyDelivered
	case models.ItemStatusPending:
		if item.TargetTime.After(p.clock.Now()) {
			return fmt.Errorf("check item %s: %w", itemID, ErrNotDue)
		}
		return nil
	default:
		return fmt.Errorf("check item %s (status %s): %w", itemID, item.Status, ErrNotPending)
	}
}

// RecordFailure notes a failed attempt on a pending item. When MaxAttempts is
// set and reached the item moves to failed so later sweeps ignore it.
func (p *GormPublisher) RecordFailure(ctx context.Context, itemID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := p.clock.Now()

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ScheduledItem{}).
			Where("id = ? AND status = ?", itemID, models.ItemStatusPending).
			Updates(map[string]any{
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": msg,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 || p.maxAttempts <= 0 {
			return nil
		}

		res = tx.Model(&models.ScheduledItem{}).
			Where("id = ? AND status = ? AND attempts >= ?", itemID, models.ItemStatusPending, p.maxAttempts).
			Updates(map[string]any{"status": models.ItemStatusFailed, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			p.logger.Warn().Str("item_id", itemID).Int("max_attempts", p.maxAttempts).Msg("item gave up after max attempts")
			telemetry.ItemsAbandonedTotal.Inc()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record failure for %s: %w", itemID, err)
	}
	return nil
}
