/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/catchup/internal/models"
	"github.com/friendsincode/catchup/internal/telemetry"
)

// PendingKeyPrefix prefixes the per-hook sorted set of pending items.
const PendingKeyPrefix = "catchup:pending:"

// PendingKey returns the sorted set key for hook.
func PendingKey(hook string) string {
	return PendingKeyPrefix + hook
}

// RedisSource keeps pending items in a sorted set scored by target time in
// unix milliseconds. Members are item ids; delivered items must be removed
// by whoever delivers them.
type RedisSource struct {
	client *redis.Client
	key    string
	limit  int
	logger zerolog.Logger
}

// NewRedisSource creates a source over the sorted set for hook.
func NewRedisSource(client *redis.Client, hook string, limit int, logger zerolog.Logger) *RedisSource {
	return &RedisSource{
		client: client,
		key:    PendingKey(hook),
		limit:  limit,
		logger: logger.With().Str("component", "redis_source").Str("key", PendingKey(hook)).Logger(),
	}
}

// Add indexes a pending item. Re-adding updates its target time.
func (s *RedisSource) Add(ctx context.Context, itemID string, target time.Time) error {
	if err := s.client.ZAdd(ctx, s.key, redis.Z{Score: scoreOf(target), Member: itemID}).Err(); err != nil {
		return fmt.Errorf("index pending item: %w", err)
	}
	return nil
}

// Remove drops an item from the index.
func (s *RedisSource) Remove(ctx context.Context, itemID string) error {
	if err := s.client.ZRem(ctx, s.key, itemID).Err(); err != nil {
		return fmt.Errorf("remove pending item: %w", err)
	}
	return nil
}

// Target returns the indexed target time of itemID. ok is false when the item
// is not in the pending set.
func (s *RedisSource) Target(ctx context.Context, itemID string) (target time.Time, ok bool, err error) {
	score, err := s.client.ZScore(ctx, s.key, itemID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("look up pending item: %w", err)
	}
	return timeOf(score), true, nil
}

// FindOverdue returns every indexed item with a target time strictly before asOf.
func (s *RedisSource) FindOverdue(ctx context.Context, asOf time.Time) ([]models.ScheduledItem, error) {
	ctx, span := telemetry.StartSpan(ctx, "store", "RedisFindOverdue")
	defer span.End()

	zs, err := s.client.ZRangeByScoreWithScores(ctx, s.key, overdueRange(asOf, s.limit)).Result()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("query pending index: %w", err)
	}

	items := make([]models.ScheduledItem, 0, len(zs))
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		items = append(items, models.ScheduledItem{
			ID:         id,
			TargetTime: timeOf(z.Score),
			Status:     models.ItemStatusPending,
		})
	}
	s.logger.Debug().Int("count", len(items)).Time("as_of", asOf).Msg("overdue query")
	return items, nil
}

func overdueRange(asOf time.Time, limit int) *redis.ZRangeBy {
	by := &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(asOf.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	return by
}

func scoreOf(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func timeOf(score float64) time.Time {
	return time.UnixMilli(int64(score)).UTC()
}
