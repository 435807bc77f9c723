/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/catchup/internal/sweeper"
)

// FailureRecorder notes failed delivery attempts.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, itemID string, cause error) error
}

// ErrAlreadyDelivered is returned by a CheckFunc when the item needs no
// delivery. Tracked reports it as a success without calling the executor.
var ErrAlreadyDelivered = errors.New("item already delivered")

// CheckFunc runs before delivery. Any error other than ErrAlreadyDelivered
// becomes the outcome of the attempt.
type CheckFunc func(ctx context.Context, itemID string) error

// AfterFunc runs once an item has been delivered.
type AfterFunc func(ctx context.Context, itemID string) error

// Tracked wraps an executor with failure bookkeeping and follow-up steps.
type Tracked struct {
	next     sweeper.Executor
	failures FailureRecorder
	before   []CheckFunc
	after    []AfterFunc
	logger   zerolog.Logger
}

// NewTracked wraps next. failures may be nil.
func NewTracked(next sweeper.Executor, failures FailureRecorder, logger zerolog.Logger, after ...AfterFunc) *Tracked {
	return &Tracked{
		next:     next,
		failures: failures,
		after:    after,
		logger:   logger.With().Str("component", "tracked_executor").Logger(),
	}
}

// Before adds checks run ahead of the wrapped executor.
func (t *Tracked) Before(checks ...CheckFunc) *Tracked {
	t.before = append(t.before, checks...)
	return t
}

// Deliver runs the checks, then the wrapped executor. Skips pass through
// untouched; other errors are recorded before being returned. Follow-up
// errors fail the attempt.
func (t *Tracked) Deliver(ctx context.Context, itemID string) error {
	err := t.check(ctx, itemID)
	if errors.Is(err, ErrAlreadyDelivered) {
		t.logger.Debug().Str("item_id", itemID).Msg("item already delivered, not calling executor")
		return nil
	}
	if err == nil {
		err = t.next.Deliver(ctx, itemID)
	}
	if err == nil {
		for _, fn := range t.after {
			if err = fn(ctx, itemID); err != nil {
				err = fmt.Errorf("after delivery: %w", err)
				break
			}
		}
	}
	if err == nil || errors.Is(err, sweeper.ErrSkipped) {
		return err
	}

	if t.failures != nil {
		if rerr := t.failures.RecordFailure(ctx, itemID, err); rerr != nil {
			t.logger.Error().Err(rerr).Str("item_id", itemID).Msg("failed to record delivery failure")
		}
	}
	return err
}

func (t *Tracked) check(ctx context.Context, itemID string) error {
	for _, fn := range t.before {
		if err := fn(ctx, itemID); err != nil {
			return err
		}
	}
	return nil
}
