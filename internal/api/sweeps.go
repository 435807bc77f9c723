/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/catchup/internal/audit"
	"github.com/friendsincode/catchup/internal/auth"
	"github.com/friendsincode/catchup/internal/models"
	"github.com/friendsincode/catchup/internal/sweeper"
)

type resultResponse struct {
	ItemID    string    `json:"item_id"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type sweepResponse struct {
	*sweeper.Report
	Attempted int              `json:"attempted"`
	Results   []resultResponse `json:"results"`
}

func newSweepResponse(report *sweeper.Report) sweepResponse {
	resp := sweepResponse{
		Report:    report,
		Attempted: report.Attempted(),
		Results:   make([]resultResponse, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		rr := resultResponse{
			ItemID:    res.ItemID,
			Outcome:   string(res.Outcome),
			Timestamp: res.Timestamp,
		}
		if res.Err != nil {
			rr.Error = res.Err.Error()
		}
		resp.Results = append(resp.Results, rr)
	}
	return resp
}

func (a *API) handleSweepTrigger(w http.ResponseWriter, r *http.Request) {
	if a.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeper_unavailable")
		return
	}

	// A client disconnect must not abandon a sweep halfway through.
	ctx := context.WithoutCancel(r.Context())
	report, err := a.runner.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, sweeper.ErrSweepInProgress) {
			writeError(w, http.StatusConflict, "sweep_in_progress")
			return
		}
		a.logger.Error().Err(err).
			Str("hook", a.runner.Hook()).
			Str("operator", auth.Operator(r.Context())).
			Msg("manual sweep aborted")
		writeError(w, http.StatusServiceUnavailable, "sweep_aborted")
		return
	}

	a.logger.Info().
		Str("hook", report.Hook).
		Str("sweep_id", report.SweepID).
		Str("operator", auth.Operator(r.Context())).
		Int("delivered", report.Delivered).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Msg("manual sweep completed")
	writeJSON(w, http.StatusOK, newSweepResponse(report))
}

func (a *API) handleSweepsList(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotFound, "history_disabled")
		return
	}

	filter := audit.RunFilter{
		Hook:   r.URL.Query().Get("hook"),
		Status: models.SweepRunStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}

	runs, total, err := a.history.Runs(r.Context(), filter)
	if err != nil {
		a.logger.Error().Err(err).Msg("list sweep runs failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":   runs,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (a *API) handleSweepGet(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotFound, "history_disabled")
		return
	}

	run, outcomes, err := a.history.Run(r.Context(), chi.URLParam(r, "sweepID"))
	if errors.Is(err, audit.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "sweep_not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("load sweep run failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":      run,
		"outcomes": outcomes,
	})
}
