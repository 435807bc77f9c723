/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"testing"
	"time"
)

func TestScheduledItemOverdue(t *testing.T) {
	asOf := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		target time.Time
		status ItemStatus
		want   bool
	}{
		{"pending in the past", asOf.Add(-time.Minute), ItemStatusPending, true},
		{"pending exactly at asOf", asOf, ItemStatusPending, false},
		{"pending in the future", asOf.Add(time.Minute), ItemStatusPending, false},
		{"delivered in the past", asOf.Add(-time.Minute), ItemStatusDelivered, false},
		{"failed in the past", asOf.Add(-time.Minute), ItemStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := ScheduledItem{TargetTime: tt.target, Status: tt.status}
			if got := item.Overdue(asOf); got != tt.want {
				t.Errorf("Overdue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewScheduledItem(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	target := time.Date(2026, 5, 1, 12, 0, 0, 0, loc)

	item := NewScheduledItem("post", "Morning edition", target)
	if item.ID == "" {
		t.Fatal("expected generated ID")
	}
	if item.Status != ItemStatusPending {
		t.Errorf("status = %q, want pending", item.Status)
	}
	if item.TargetTime.Location() != time.UTC || !item.TargetTime.Equal(target) {
		t.Errorf("target = %v, want %v in UTC", item.TargetTime, target)
	}
}

func TestItemStatusValid(t *testing.T) {
	for _, s := range []ItemStatus{ItemStatusPending, ItemStatusDelivered, ItemStatusFailed} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if ItemStatus("future").Valid() {
		t.Error("unknown status reported valid")
	}
}
