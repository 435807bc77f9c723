/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package models defines the persisted scheduling and sweep history records.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ItemStatus enumerates the lifecycle of a scheduled item.
type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusDelivered ItemStatus = "delivered"
	ItemStatusFailed    ItemStatus = "failed"
)

// Valid reports whether s is a known status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusPending, ItemStatusDelivered, ItemStatusFailed:
		return true
	}
	return false
}

// ScheduledItem is any piece of content waiting for its target time.
// The sweeper only reads ID, Kind, TargetTime and Status.
type ScheduledItem struct {
	ID          string     `gorm:"type:uuid;primaryKey" json:"id"`
	Kind        string     `gorm:"type:varchar(64);index" json:"kind"`
	Title       string     `gorm:"type:varchar(255)" json:"title,omitempty"`
	TargetTime  time.Time  `gorm:"index:idx_scheduled_items_due,priority:2;not null" json:"target_time"`
	Status      ItemStatus `gorm:"type:varchar(16);index:idx_scheduled_items_due,priority:1;not null;default:pending" json:"status"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (ScheduledItem) TableName() string {
	return "scheduled_items"
}

// NewScheduledItem creates a pending item due at target.
func NewScheduledItem(kind, title string, target time.Time) *ScheduledItem {
	return &ScheduledItem{
		ID:         uuid.NewString(),
		Kind:       kind,
		Title:      title,
		TargetTime: target.UTC(),
		Status:     ItemStatusPending,
	}
}

// Overdue reports whether the item is pending and its target time is strictly before asOf.
func (i ScheduledItem) Overdue(asOf time.Time) bool {
	return i.Status == ItemStatusPending && i.TargetTime.Before(asOf)
}
