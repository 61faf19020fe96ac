package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/nkiryanov/stravadash/internal/apperrors"
	"github.com/nkiryanov/stravadash/internal/handlers/render"
	"github.com/nkiryanov/stravadash/internal/logger"
	"github.com/nkiryanov/stravadash/internal/strava"
)

const defaultRedirectURI = "http://localhost/exchange_token"

func handleGetActivities(engine syncEngine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, engine.Activities())
	})
}

func handleRefetchActivities(engine syncEngine, l logger.Logger) http.Handler {
	type response struct {
		Success         bool   `json:"success"`
		TotalActivities int    `json:"totalActivities"`
		Message         string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Client disconnect must not leave cache half-filled
		res, err := engine.RefreshAll(context.WithoutCancel(r.Context()))

		switch {
		case err == nil:
			render.JSON(w, response{
				Success:         true,
				TotalActivities: res.TotalActivities,
				Message:         "Activities cache cleared and fully refetched.",
			})
			return
		case errors.Is(err, apperrors.ErrConfiguration):
			l.Error("Refetch failed: strava is not configured", "error", err)
			render.ServiceError(w, "Missing Strava configuration", http.StatusInternalServerError)
		case errors.Is(err, apperrors.ErrReauthorization):
			l.Error("Refetch failed: reauthorization", "error", err)
			render.ServiceError(w, "Failed to refresh Strava access token", http.StatusInternalServerError)
		case errors.Is(err, apperrors.ErrTooManyPages):
			l.Error("Refetch failed: page limit", "error", err)
			render.ServiceError(w, "Activity history exceeds page limit", http.StatusInternalServerError)
		case errors.Is(err, apperrors.ErrUpstreamFetch):
			l.Error("Refetch failed: upstream", "error", err)
			render.ServiceError(w, "Failed to fetch Strava activities", http.StatusInternalServerError)
		default:
			l.Error("Error resetting and refetching Strava activities", "error", err)
			render.ServiceError(w, "Failed to clear and refetch Strava activities", http.StatusInternalServerError)
		}
	})
}

func handleAuthURL(cfg Config, client oauthClient, states stateManager, l logger.Logger) http.Handler {
	type response struct {
		AuthorizeURL string `json:"authorizeUrl"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.ClientID == "" {
			render.ServiceError(w, "Missing STRAVA_CLIENT_ID", http.StatusInternalServerError)
			return
		}

		query := r.URL.Query()
		redirectURI := query.Get("redirect_uri")
		if redirectURI == "" {
			redirectURI = defaultRedirectURI
		}

		state := query.Get("state")
		if states != nil {
			issued, err := states.Issue(redirectURI)
			if err != nil {
				l.Error("Failed to issue oauth state", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			state = issued
		}

		render.JSON(w, response{AuthorizeURL: client.AuthorizeURL(cfg.ClientID, redirectURI, state)})
	})
}

func handleExchangeToken(cfg Config, client oauthClient, tokens tokenSeeder, states stateManager, l logger.Logger) http.Handler {
	type response struct {
		Scope        string `json:"scope"`
		AccessToken  string `json:"access_token"`
		ExpiresAt    int64  `json:"expires_at"`
		RefreshToken string `json:"refresh_token"`
		Message      string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		code := query.Get("code")
		redirectURI := query.Get("redirect_uri")
		if redirectURI == "" {
			redirectURI = defaultRedirectURI
		}

		if code == "" {
			render.ServiceError(w, "Missing query parameter: code", http.StatusBadRequest)
			return
		}

		if states != nil {
			if err := states.Verify(query.Get("state"), redirectURI); err != nil {
				l.Warn("Rejected authorization code with invalid state", "error", err)
				render.ServiceError(w, "Invalid OAuth state", http.StatusBadRequest)
				return
			}
		}

		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			render.ServiceError(w, "Missing STRAVA_CLIENT_ID or STRAVA_CLIENT_SECRET", http.StatusInternalServerError)
			return
		}

		token, err := client.ExchangeCode(r.Context(), cfg.ClientID, cfg.ClientSecret, code, redirectURI)
		if err != nil {
			status := http.StatusInternalServerError
			var se *strava.Error
			if errors.As(err, &se) && se.Status >= http.StatusBadRequest {
				status = se.Status
			}

			l.Error("Failed to exchange Strava auth code", "status", status, "error", err)
			render.ServiceError(w, "Failed to exchange Strava auth code", status)
			return
		}

		// Token store expects milliseconds
		tokens.Set(token.AccessToken, token.ExpiresAt*1000, token.RefreshToken)
		l.Info("Strava authorized by code exchange", "scope", token.Scope)

		render.JSON(w, response{
			Scope:        token.Scope,
			AccessToken:  token.AccessToken,
			ExpiresAt:    token.ExpiresAt,
			RefreshToken: token.RefreshToken,
			Message:      "Set STRAVA_REFRESH_TOKEN to refresh_token and restart the server.",
		})
	})
}
