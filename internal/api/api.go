/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the ops HTTP endpoints for triggering and inspecting sweeps.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/catchup/internal/audit"
	"github.com/friendsincode/catchup/internal/auth"
	"github.com/friendsincode/catchup/internal/clock"
	"github.com/friendsincode/catchup/internal/events"
	"github.com/friendsincode/catchup/internal/models"
	"github.com/friendsincode/catchup/internal/store"
	"github.com/friendsincode/catchup/internal/sweeper"
)

// SweepRunner triggers a sweep outside the timer.
type SweepRunner interface {
	Hook() string
	RunOnce(ctx context.Context) (*sweeper.Report, error)
}

// History reads recorded sweep runs.
type History interface {
	Runs(ctx context.Context, f audit.RunFilter) ([]models.SweepRun, int64, error)
	Run(ctx context.Context, id string) (*models.SweepRun, []models.SweepOutcome, error)
}

// Deps collects what the API serves. History and Items may be nil when
// the corresponding feature is disabled.
type Deps struct {
	Runner  SweepRunner
	Source  sweeper.Source
	History History
	Items   *store.ItemStore
	Bus     *events.Bus
	Clock   clock.Clock
}

// API exposes HTTP handlers.
type API struct {
	runner    SweepRunner
	source    sweeper.Source
	history   History
	items     *store.ItemStore
	bus       *events.Bus
	clock     clock.Clock
	jwtSecret []byte
	logger    zerolog.Logger
}

// New constructs the API. A nil jwtSecret leaves the endpoints open.
func New(deps Deps, jwtSecret []byte, logger zerolog.Logger) *API {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	return &API{
		runner:    deps.Runner,
		source:    deps.Source,
		history:   deps.History,
		items:     deps.Items,
		bus:       deps.Bus,
		clock:     deps.Clock,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts the ops API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(a.jwtSecret))

		r.Route("/sweeps", func(r chi.Router) {
			r.With(auth.RequireScope(auth.ScopeOperate)).Post("/", a.handleSweepTrigger)
			r.With(auth.RequireScope(auth.ScopeRead)).Get("/", a.handleSweepsList)
			r.With(auth.RequireScope(auth.ScopeRead)).Get("/{sweepID}", a.handleSweepGet)
		})

		r.Route("/items", func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeRead))
			r.Get("/overdue", a.handleItemsOverdue)
			r.Get("/", a.handleItemsList)
			r.With(auth.RequireScope(auth.ScopeOperate)).Post("/", a.handleItemsCreate)
			r.Get("/{itemID}", a.handleItemsGet)
		})

		r.With(auth.RequireScope(auth.ScopeRead)).Get("/events", a.handleEvents)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func queryInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func queryTime(r *http.Request, key string) (time.Time, bool, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), true, nil
}
