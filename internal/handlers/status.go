package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/stravadash/internal/handlers/render"
	"github.com/nkiryanov/stravadash/internal/logger"
	"github.com/nkiryanov/stravadash/internal/models"
)

const defaultSyncRunsLimit = 20

type syncRunResponse struct {
	ID         uuid.UUID `json:"id"`
	Kind       string    `json:"kind"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Pages      int       `json:"pages"`
	Fetched    int       `json:"fetched"`
	Added      int       `json:"added"`
	Total      int       `json:"total"`
	Error      string    `json:"error,omitempty"`
}

func newSyncRunResponse(run models.SyncRun) syncRunResponse {
	return syncRunResponse{
		ID:         run.ID,
		Kind:       run.Kind,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Pages:      run.Pages,
		Fetched:    run.Fetched,
		Added:      run.Added,
		Total:      run.Total,
		Error:      run.Error,
	}
}

func handleStatus(engine syncEngine) http.Handler {
	type response struct {
		State          string           `json:"state"`
		Activities     int              `json:"activities"`
		TokenExpiresAt *time.Time       `json:"tokenExpiresAt"`
		LastRun        *syncRunResponse `json:"lastRun"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := engine.Status()

		resp := response{
			State:      string(s.State),
			Activities: s.Activities,
		}
		if !s.TokenExpiresAt.IsZero() {
			resp.TokenExpiresAt = &s.TokenExpiresAt
		}
		if s.LastRun != nil {
			run := newSyncRunResponse(*s.LastRun)
			resp.LastRun = &run
		}

		render.JSON(w, resp)
	})
}

func handleSyncRuns(journal syncJournal, l logger.Logger) http.Handler {
	type request struct {
		Limit int `json:"limit" validate:"min=1,max=100"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := request{Limit: defaultSyncRunsLimit}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				render.DecodeError(w, "limit", err)
				return
			}
			req.Limit = limit
		}

		if err := render.Validate(w, req); err != nil {
			return
		}

		runs, err := journal.List(r.Context(), req.Limit)
		if err != nil {
			l.Error("Failed to list sync runs", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]syncRunResponse, 0, len(runs))
		for _, run := range runs {
			resp = append(resp, newSyncRunResponse(run))
		}
		render.JSON(w, resp)
	})
}

func handleHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, map[string]string{"status": "ok"})
	})
}
