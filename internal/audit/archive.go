/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/friendsincode/catchup/internal/models"
	"github.com/friendsincode/catchup/internal/storage"
)

const archiveBatch = 200

// ArchivedRun is the stored form of one sweep run and its outcomes.
type ArchivedRun struct {
	Run        models.SweepRun       `json:"run"`
	Outcomes   []models.SweepOutcome `json:"outcomes"`
	ArchivedAt time.Time             `json:"archived_at"`
}

// ArchiveKey returns the object key a run is archived under.
func ArchiveKey(run models.SweepRun) string {
	return fmt.Sprintf("sweeps/%s/%s/%s.json", run.Hook, run.StartedAt.UTC().Format("2006/01/02"), run.ID)
}

// Archive writes every run started before cutoff to store. Runs are written
// one object each, so a partial failure can be retried safely.
func (s *Service) Archive(ctx context.Context, store storage.ObjectStore, cutoff time.Time) (int, error) {
	archived := 0
	for offset := 0; ; offset += archiveBatch {
		var runs []models.SweepRun
		err := s.db.WithContext(ctx).
			Where("started_at < ?", cutoff).
			Order("started_at ASC").Order("id ASC").
			Offset(offset).Limit(archiveBatch).
			Find(&runs).Error
		if err != nil {
			return archived, fmt.Errorf("load runs to archive: %w", err)
		}
		if len(runs) == 0 {
			return archived, nil
		}

		ids := make([]string, len(runs))
		for i, run := range runs {
			ids[i] = run.ID
		}
		var outcomes []models.SweepOutcome
		if err := s.db.WithContext(ctx).Where("sweep_id IN ?", ids).Order("id ASC").Find(&outcomes).Error; err != nil {
			return archived, fmt.Errorf("load outcomes to archive: %w", err)
		}
		bySweep := make(map[string][]models.SweepOutcome, len(runs))
		for _, o := range outcomes {
			bySweep[o.SweepID] = append(bySweep[o.SweepID], o)
		}

		now := time.Now().UTC()
		for _, run := range runs {
			doc := ArchivedRun{Run: run, Outcomes: bySweep[run.ID], ArchivedAt: now}
			if doc.Outcomes == nil {
				doc.Outcomes = []models.SweepOutcome{}
			}
			data, err := json.Marshal(doc)
			if err != nil {
				return archived, fmt.Errorf("encode run %s: %w", run.ID, err)
			}
			if err := store.Put(ctx, ArchiveKey(run), data); err != nil {
				return archived, fmt.Errorf("archive run %s: %w", run.ID, err)
			}
			archived++
		}
	}
}

// Retain archives history older than cutoff when store is set, then prunes it.
// Nothing is pruned if archiving fails.
func (s *Service) Retain(ctx context.Context, store storage.ObjectStore, cutoff time.Time) (int64, error) {
	if store != nil {
		archived, err := s.Archive(ctx, store, cutoff)
		if err != nil {
			s.logger.Error().Err(err).Int("archived", archived).Msg("history archive failed, skipping prune")
			return 0, err
		}
		if archived > 0 {
			s.logger.Info().Int("archived", archived).Time("cutoff", cutoff).Msg("sweep history archived")
		}
	}

	pruned, err := s.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		s.logger.Info().Int64("pruned", pruned).Time("cutoff", cutoff).Msg("sweep history pruned")
	}
	return pruned, nil
}
