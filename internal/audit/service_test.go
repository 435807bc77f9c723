package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/catchup/internal/events"
	"github.com/friendsincode/catchup/internal/models"
)

var asOf = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&models.SweepRun{}, &models.SweepOutcome{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func sweepEvents(sweepID string) []events.Payload {
	return []events.Payload{
		{"event": string(events.EventSweepStarted), "sweep_id": sweepID, "hook": "h", "as_of": asOf, "count": 3},
		{"event": string(events.EventItemDelivered), "sweep_id": sweepID, "id": "a", "outcome": "delivered", "timestamp": asOf},
		{"event": string(events.EventItemFailed), "sweep_id": sweepID, "id": "b", "outcome": "failed", "error": "boom", "timestamp": asOf},
		{"event": string(events.EventItemSkipped), "sweep_id": sweepID, "id": "c", "outcome": "skipped", "timestamp": asOf},
		{"event": string(events.EventSweepCompleted), "sweep_id": sweepID, "hook": "h", "delivered": 1, "failed": 1, "skipped": 1},
	}
}

func TestHandleRecordsSweep(t *testing.T) {
	db := setupTestDB(t)
	s := NewService(db, events.NewBus(), "instance-1", zerolog.Nop())
	ctx := context.Background()

	for _, p := range sweepEvents("sweep-1") {
		if err := s.Handle(ctx, p); err != nil {
			t.Fatalf("Handle(%v): %v", p["event"], err)
		}
	}

	run, outcomes, err := s.Run(ctx, "sweep-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != models.SweepRunCompleted || run.Overdue != 3 || run.Delivered != 1 || run.Failed != 1 || run.Skipped != 1 {
		t.Errorf("run = %+v", run)
	}
	if run.InstanceID != "instance-1" || run.Hook != "h" || !run.AsOf.Equal(asOf) {
		t.Errorf("run metadata = %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("finished_at not set")
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}
	if outcomes[1].ItemID != "b" || outcomes[1].Error != "boom" {
		t.Errorf("failed outcome = %+v", outcomes[1])
	}
}

func TestHandleAbortedSweep(t *testing.T) {
	db := setupTestDB(t)
	s := NewService(db, events.NewBus(), "", zerolog.Nop())
	ctx := context.Background()

	err := s.Handle(ctx, events.Payload{
		"event": string(events.EventSweepFailed), "sweep_id": "sweep-x", "hook": "h", "as_of": asOf, "error": "db down",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	run, outcomes, err := s.Run(ctx, "sweep-x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != models.SweepRunAborted || run.Error != "db down" {
		t.Errorf("run = %+v", run)
	}
	if len(outcomes) != 0 {
		t.Errorf("outcomes = %d, want 0", len(outcomes))
	}
}

func TestHandleCompletedWithoutStart(t *testing.T) {
	s := NewService(setupTestDB(t), events.NewBus(), "", zerolog.Nop())
	err := s.Handle(context.Background(), events.Payload{"event": string(events.EventSweepCompleted), "sweep_id": "nope"})
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestStartConsumesBusInOrder(t *testing.T) {
	db := setupTestDB(t)
	bus := events.NewBus()
	s := NewService(db, bus, "", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := s.Start(ctx)

	for _, p := range sweepEvents("sweep-2") {
		bus.Publish(events.EventType(p["event"].(string)), p)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		run, _, err := s.Run(context.Background(), "sweep-2")
		if err == nil && run.Status == models.SweepRunCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweep run not completed: run=%+v err=%v", run, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestRunsAndPrune(t *testing.T) {
	db := setupTestDB(t)
	s := NewService(db, events.NewBus(), "", zerolog.Nop())
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	for i, id := range []string{"old-1", "old-2"} {
		run := models.SweepRun{ID: id, Hook: "h", Status: models.SweepRunCompleted, StartedAt: old.Add(time.Duration(i) * time.Minute)}
		if err := db.Create(&run).Error; err != nil {
			t.Fatal(err)
		}
		if err := db.Create(&models.SweepOutcome{SweepID: id, ItemID: "x", Outcome: "delivered", RecordedAt: old}).Error; err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range sweepEvents("fresh") {
		if err := s.Handle(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	runs, total, err := s.Runs(ctx, RunFilter{Hook: "h"})
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if total != 3 || len(runs) != 3 || runs[0].ID != "fresh" {
		t.Errorf("runs = %d/%d first=%s", len(runs), total, runs[0].ID)
	}

	completed, _, err := s.Runs(ctx, RunFilter{Status: models.SweepRunCompleted, Limit: 1})
	if err != nil || len(completed) != 1 {
		t.Fatalf("limited runs = %d, err %v", len(completed), err)
	}

	deleted, err := s.Prune(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	var outcomes int64
	db.Model(&models.SweepOutcome{}).Count(&outcomes)
	if outcomes != 3 {
		t.Errorf("remaining outcomes = %d, want 3", outcomes)
	}
	if _, _, err := s.Run(ctx, "old-1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("old run still present: %v", err)
	}
}

func TestStopDrainsBufferedEvents(t *testing.T) {
	db := setupTestDB(t)
	bus := events.NewBus()
	s := NewService(db, bus, "", zerolog.Nop())

	sub := s.subscribe()
	for _, p := range sweepEvents("sweep-3") {
		bus.Publish(events.EventType(p["event"].(string)), p)
	}
	s.drain(context.Background(), sub)

	run, outcomes, err := s.Run(context.Background(), "sweep-3")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != models.SweepRunCompleted || len(outcomes) != 3 {
		t.Errorf("run = %+v, outcomes = %d", run, len(outcomes))
	}
}
