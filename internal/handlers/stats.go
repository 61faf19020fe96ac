package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/stravadash/internal/apperrors"
	"github.com/nkiryanov/stravadash/internal/handlers/render"
	"github.com/nkiryanov/stravadash/internal/logger"
	"github.com/nkiryanov/stravadash/internal/polyline"
	"github.com/nkiryanov/stravadash/internal/stats"
)

type recordResponse struct {
	SpeedKmh    float64 `json:"speedKmh"`
	TimeSeconds float64 `json:"timeSeconds"`
}

func newRecordResponse(r *stats.Record) *recordResponse {
	if r == nil {
		return nil
	}
	return &recordResponse{
		SpeedKmh:    toFloat(r.SpeedKmh),
		TimeSeconds: toFloat(r.TimeSeconds),
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func handleStats(engine syncEngine) http.Handler {
	type request struct {
		Year string `json:"year" validate:"required,year"`
		Mode string `json:"mode" validate:"required,oneof=run bike all"`
	}

	type response struct {
		Count       int             `json:"count"`
		TimeSeconds float64         `json:"timeSeconds"`
		DistanceKm  float64         `json:"distanceKm"`
		SpeedKmh    float64         `json:"speedKmh"`
		Fastest     *recordResponse `json:"fastest"`
		Longest     *recordResponse `json:"longest"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		req := request{Year: query.Get("year"), Mode: query.Get("mode")}
		if req.Year == "" {
			req.Year = stats.YearAll
		}
		if req.Mode == "" {
			req.Mode = string(stats.ModeAll)
		}

		if err := render.Validate(w, req); err != nil {
			return
		}

		s := stats.Calculate(engine.Activities(), req.Year, stats.Mode(req.Mode))

		render.JSON(w, response{
			Count:       s.Count,
			TimeSeconds: toFloat(s.TimeSeconds),
			DistanceKm:  toFloat(s.DistanceKm),
			SpeedKmh:    toFloat(s.SpeedKmh),
			Fastest:     newRecordResponse(s.Fastest),
			Longest:     newRecordResponse(s.Longest),
		})
	})
}

func handleActivityRoute(engine syncEngine, l logger.Logger) http.Handler {
	type activityMap struct {
		Map struct {
			SummaryPolyline string `json:"summary_polyline"`
		} `json:"map"`
	}

	type response struct {
		ID     int64       `json:"id"`
		Points [][]float64 `json:"points"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			render.DecodeError(w, "id", err)
			return
		}

		activity, err := engine.Find(id)
		switch {
		case errors.Is(err, apperrors.ErrActivityNotFound):
			render.ServiceError(w, "Activity not found", http.StatusNotFound)
			return
		case err != nil:
			l.Error("Failed to find activity", "id", id, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		var m activityMap
		if err := activity.Decode(&m); err != nil {
			l.Error("Failed to decode activity map", "id", id, "error", err)
			render.ServiceError(w, "Activity route is malformed", http.StatusUnprocessableEntity)
			return
		}

		points, err := polyline.Decode(m.Map.SummaryPolyline)
		if err != nil {
			l.Error("Failed to decode activity polyline", "id", id, "error", err)
			render.ServiceError(w, "Activity route is malformed", http.StatusUnprocessableEntity)
			return
		}

		render.JSON(w, response{ID: id, Points: points})
	})
}
