/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/friendsincode/catchup/internal/models"
	"github.com/friendsincode/catchup/internal/store"
)

func (a *API) handleItemsOverdue(w http.ResponseWriter, r *http.Request) {
	if a.source == nil {
		writeError(w, http.StatusServiceUnavailable, "source_unavailable")
		return
	}
	asOf, ok, err := queryTime(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_as_of")
		return
	}
	if !ok {
		asOf = a.clock.Now()
	}

	items, err := a.source.FindOverdue(r.Context(), asOf)
	if err != nil {
		a.logger.Error().Err(err).Msg("find overdue items failed")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable")
		return
	}
	if items == nil {
		items = []models.ScheduledItem{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"as_of": asOf,
		"count": len(items),
		"items": items,
	})
}

func (a *API) handleItemsList(w http.ResponseWriter, r *http.Request) {
	if a.items == nil {
		writeError(w, http.StatusNotFound, "items_unavailable")
		return
	}

	filter := store.ListFilter{
		Status: models.ItemStatus(r.URL.Query().Get("status")),
		Kind:   r.URL.Query().Get("kind"),
		Limit:  queryInt(r, "limit", 100),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}

	items, err := a.items.List(r.Context(), filter)
	if err != nil {
		a.logger.Error().Err(err).Msg("list items failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type createItemRequest struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	TargetTime time.Time `json:"target_time"`
}

func (a *API) handleItemsCreate(w http.ResponseWriter, r *http.Request) {
	if a.items == nil {
		writeError(w, http.StatusNotFound, "items_unavailable")
		return
	}

	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.Kind = strings.TrimSpace(req.Kind)
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind_required")
		return
	}
	if req.TargetTime.IsZero() {
		writeError(w, http.StatusBadRequest, "target_time_required")
		return
	}

	item := models.NewScheduledItem(req.Kind, req.Title, req.TargetTime)
	if req.ID != "" {
		if _, err := uuid.Parse(req.ID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_id")
			return
		}
		item.ID = req.ID
	}

	if err := a.items.Create(r.Context(), item); err != nil {
		a.logger.Error().Err(err).Str("item_id", item.ID).Msg("create item failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleItemsGet(w http.ResponseWriter, r *http.Request) {
	if a.items == nil {
		writeError(w, http.StatusNotFound, "items_unavailable")
		return
	}

	item, err := a.items.Get(r.Context(), chi.URLParam(r, "itemID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "item_not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("get item failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, item)
}
