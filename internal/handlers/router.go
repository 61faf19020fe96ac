package handlers

import (
	"context"
	"net/http"

	"github.com/nkiryanov/stravadash/internal/handlers/middleware"
	"github.com/nkiryanov/stravadash/internal/logger"
	"github.com/nkiryanov/stravadash/internal/metrics"
	"github.com/nkiryanov/stravadash/internal/models"
	"github.com/nkiryanov/stravadash/internal/service/syncer"
	"github.com/nkiryanov/stravadash/internal/strava"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

// Strava application credentials
type Config struct {
	ClientID     string
	ClientSecret string
}

type Services struct {
	Engine syncEngine
	OAuth  oauthClient
	Tokens tokenSeeder

	// Optional: signed OAuth state is disabled when nil
	States stateManager

	// Optional: refetch is not protected when nil
	Guard operatorGuard

	// Optional: sync runs endpoint is not registered when nil
	Journal syncJournal
}

func NewRouter(cfg Config, s Services, logger logger.Logger) http.Handler {
	fresh := middleware.Freshness(s.Engine, logger)
	withOperator := func(h http.Handler) http.Handler { return h }
	if s.Guard != nil {
		withOperator = middleware.OperatorAuth(s.Guard)
	}

	mux := http.NewServeMux()

	mux.Handle("GET /api/strava/getActivities", fresh(handleGetActivities(s.Engine)))
	mux.Handle("POST /api/strava/refetchActivities", withOperator(handleRefetchActivities(s.Engine, logger)))
	mux.Handle("GET /api/strava/auth-url", handleAuthURL(cfg, s.OAuth, s.States, logger))
	mux.Handle("GET /api/strava/exchange-token", handleExchangeToken(cfg, s.OAuth, s.Tokens, s.States, logger))
	mux.Handle("GET /api/strava/stats", fresh(handleStats(s.Engine)))
	mux.Handle("GET /api/strava/activities/{id}/route", fresh(handleActivityRoute(s.Engine, logger)))
	mux.Handle("GET /api/strava/status", handleStatus(s.Engine))
	if s.Journal != nil {
		mux.Handle("GET /api/strava/syncRuns", handleSyncRuns(s.Journal, logger))
	}

	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /healthz", handleHealth())

	handler := chain(mux,
		middleware.LoggerMiddleware(logger),
		middleware.Metrics(),
	)

	return handler
}

type syncEngine interface {
	// Snapshot of cached activities, never nil
	Activities() []models.Activity

	// Has to return apperrors.ErrActivityNotFound for unknown id
	Find(id int64) (models.Activity, error)

	// Reset cache and run full resync
	RefreshAll(ctx context.Context) (syncer.RefreshResult, error)

	// Refresh token and warm cache before a read
	EnsureFresh(ctx context.Context) error

	Status() syncer.Status
}

type oauthClient interface {
	AuthorizeURL(clientID string, redirectURI string, state string) string
	ExchangeCode(ctx context.Context, clientID string, clientSecret string, code string, redirectURI string) (strava.TokenResponse, error)
}

type tokenSeeder interface {
	Set(access string, expiresAt int64, refresh string)
}

type stateManager interface {
	Issue(redirectURI string) (string, error)

	// Has to return apperrors.ErrStateInvalid if state is not issued for redirect uri
	Verify(state string, redirectURI string) error
}

type operatorGuard interface {
	Check(key string) error
}

type syncJournal interface {
	List(ctx context.Context, limit int) ([]models.SyncRun, error)
}
