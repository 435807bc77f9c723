/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/catchup/internal/models"
)

var (
	// ErrSkipped marks a delivery the executor declined without failing,
	// e.g. the item is no longer due or no longer pending.
	ErrSkipped = errors.New("delivery skipped")

	// ErrSweepInProgress is returned when a sweep for the same hook is still running
	// and the overlap policy is OverlapSkip.
	ErrSweepInProgress = errors.New("sweep already in progress")

	// ErrExecutorPanic wraps a panic recovered from an executor.
	ErrExecutorPanic = errors.New("executor panicked")
)

// Source finds items whose target time has passed while still pending.
// Implementations return identifiers and scheduling columns only. The result
// is an unordered set; an empty slice is not an error.
type Source interface {
	FindOverdue(ctx context.Context, asOf time.Time) ([]models.ScheduledItem, error)
}

// Executor performs the state transition for one item. Delivering an item that
// has already been delivered must succeed without repeating the side effect.
type Executor interface {
	Deliver(ctx context.Context, itemID string) error
}

// EventLogger observes sweep activity. Record must not block.
type EventLogger interface {
	Record(message string, data map[string]any)
}

// Outcome is the result of one delivery attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// OverlapPolicy decides what happens when a sweep is triggered while another
// sweep for the same hook is still running.
type OverlapPolicy string

const (
	OverlapSkip  OverlapPolicy = "skip"
	OverlapQueue OverlapPolicy = "queue"
)

// Result is produced once per item per sweep and never modified afterwards.
type Result struct {
	SweepID   string
	ItemID    string
	Outcome   Outcome
	Timestamp time.Time
	Err       error
}

// Message returns the event message describing r.
func (r Result) Message() string {
	switch r.Outcome {
	case OutcomeDelivered:
		return MsgItemDelivered
	case OutcomeSkipped:
		return MsgItemSkipped
	default:
		return MsgItemFailed
	}
}

// Fields returns the structured event data for r.
func (r Result) Fields(hook string) map[string]any {
	data := map[string]any{
		"hook":      hook,
		"sweep_id":  r.SweepID,
		"id":        r.ItemID,
		"outcome":   string(r.Outcome),
		"timestamp": r.Timestamp,
	}
	if r.Err != nil {
		data["error"] = r.Err.Error()
	}
	return data
}

// Report summarises a completed sweep.
type Report struct {
	SweepID   string        `json:"sweep_id"`
	Hook      string        `json:"hook"`
	AsOf      time.Time     `json:"as_of"`
	Results   []Result      `json:"-"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// Attempted returns how many items the sweep tried to deliver.
func (r *Report) Attempted() int {
	return len(r.Results)
}

func (r *Report) tally() {
	r.Delivered, r.Failed, r.Skipped = 0, 0, 0
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomeDelivered:
			r.Delivered++
		case OutcomeSkipped:
			r.Skipped++
		default:
			r.Failed++
		}
	}
}
