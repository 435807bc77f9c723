/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store finds overdue items in the backing stores.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/catchup/internal/models"
	"github.com/friendsincode/catchup/internal/telemetry"
)

// ErrNotFound is returned when an item does not exist.
var ErrNotFound = errors.New("item not found")

// SourceOptions narrows the overdue query.
type SourceOptions struct {
	Kinds []string // empty matches every kind
	Limit int      // 0 means unbounded
}

// GormSource queries scheduled_items through gorm.
type GormSource struct {
	db     *gorm.DB
	opts   SourceOptions
	logger zerolog.Logger
}

// NewGormSource creates a source over db.
func NewGormSource(db *gorm.DB, opts SourceOptions, logger zerolog.Logger) *GormSource {
	return &GormSource{
		db:     db,
		opts:   opts,
		logger: logger.With().Str("component", "gorm_source").Logger(),
	}
}

// FindOverdue returns pending items whose target time is strictly before asOf.
// Only the scheduling columns are loaded.
func (s *GormSource) FindOverdue(ctx context.Context, asOf time.Time) ([]models.ScheduledItem, error) {
	ctx, span := telemetry.StartSpan(ctx, "store", "FindOverdue")
	defer span.End()

	q := s.db.WithContext(ctx).
		Model(&models.ScheduledItem{}).
		Select("id", "kind", "target_time", "status").
		Where("status = ? AND target_time < ?", models.ItemStatusPending, asOf.UTC())
	if len(s.opts.Kinds) > 0 {
		q = q.Where("kind IN ?", s.opts.Kinds)
	}
	if s.opts.Limit > 0 {
		q = q.Limit(s.opts.Limit)
	}

	var items []models.ScheduledItem
	if err := q.Find(&items).Error; err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("query overdue items: %w", err)
	}

	s.logger.Debug().Int("count", len(items)).Time("as_of", asOf).Msg("overdue query")
	return items, nil
}

// ItemStore is a thin CRUD layer over scheduled_items for the CLI and HTTP surface.
type ItemStore struct {
	db *gorm.DB
}

// NewItemStore creates an ItemStore.
func NewItemStore(db *gorm.DB) *ItemStore {
	return &ItemStore{db: db}
}

// Create inserts item.
func (s *ItemStore) Create(ctx context.Context, item *models.ScheduledItem) error {
	if item.ID == "" {
		return errors.New("item id required")
	}
	if !item.Status.Valid() {
		return fmt.Errorf("invalid status %q", item.Status)
	}
	item.TargetTime = item.TargetTime.UTC()
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("create item: %w", err)
	}
	return nil
}

// Get loads one item by id.
func (s *ItemStore) Get(ctx context.Context, id string) (*models.ScheduledItem, error) {
	var item models.ScheduledItem
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &item, nil
}

// ListFilter selects items for List.
type ListFilter struct {
	Status models.ItemStatus
	Kind   string
	Limit  int
}

// List returns items ordered by target time.
func (s *ItemStore) List(ctx context.Context, f ListFilter) ([]models.ScheduledItem, error) {
	q := s.db.WithContext(ctx).Order("target_time ASC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var items []models.ScheduledItem
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}
