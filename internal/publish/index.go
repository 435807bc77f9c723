/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/friendsincode/catchup/internal/clock"
)

// PendingIndex looks up an item in a pending set. store.RedisSource
// implements it.
type PendingIndex interface {
	Target(ctx context.Context, itemID string) (target time.Time, ok bool, err error)
}

// IndexCheck guards delivery on membership of the pending set. Items that
// have left the set were delivered by an earlier attempt.
func IndexCheck(index PendingIndex, clk clock.Clock) CheckFunc {
	if clk == nil {
		clk = clock.Real{}
	}
	return func(ctx context.Context, itemID string) error {
		target, ok, err := index.Target(ctx, itemID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyDelivered
		}
		if target.After(clk.Now()) {
			return fmt.Errorf("check item %s: %w", itemID, ErrNotDue)
		}
		return nil
	}
}
