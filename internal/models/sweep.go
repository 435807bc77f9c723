/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// SweepRunStatus describes how a sweep ended.
type SweepRunStatus string

const (
	SweepRunRunning   SweepRunStatus = "running"
	SweepRunCompleted SweepRunStatus = "completed"
	SweepRunAborted   SweepRunStatus = "aborted"
)

// SweepRun records one execution of the catch-up loop.
type SweepRun struct {
	ID         string         `gorm:"type:uuid;primaryKey" json:"id"`
	Hook       string         `gorm:"type:varchar(128);index;not null" json:"hook"`
	InstanceID string         `gorm:"type:varchar(64)" json:"instance_id,omitempty"`
	AsOf       time.Time      `gorm:"index" json:"as_of"`
	Status     SweepRunStatus `gorm:"type:varchar(16);not null" json:"status"`
	Overdue    int            `json:"overdue"`
	Delivered  int            `json:"delivered"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Error      string         `gorm:"type:text" json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// TableName returns the table name for GORM.
func (SweepRun) TableName() string {
	return "sweep_runs"
}

// SweepOutcome records the result of one delivery attempt within a sweep.
type SweepOutcome struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SweepID    string    `gorm:"type:uuid;index;not null" json:"sweep_id"`
	ItemID     string    `gorm:"type:uuid;index;not null" json:"item_id"`
	Outcome    string    `gorm:"type:varchar(16);not null" json:"outcome"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	RecordedAt time.Time `gorm:"index" json:"recorded_at"`
}

// TableName returns the table name for GORM.
func (SweepOutcome) TableName() string {
	return "sweep_outcomes"
}
