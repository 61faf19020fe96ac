package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/stravadash/internal/apperrors"
	"github.com/nkiryanov/stravadash/internal/cache"
	"github.com/nkiryanov/stravadash/internal/db"
	"github.com/nkiryanov/stravadash/internal/handlers"
	"github.com/nkiryanov/stravadash/internal/logger"
	"github.com/nkiryanov/stravadash/internal/models"
	"github.com/nkiryanov/stravadash/internal/repository"
	"github.com/nkiryanov/stravadash/internal/repository/postgres"
	"github.com/nkiryanov/stravadash/internal/service/authority"
	"github.com/nkiryanov/stravadash/internal/service/fetcher"
	"github.com/nkiryanov/stravadash/internal/service/oauthstate"
	"github.com/nkiryanov/stravadash/internal/service/operator"
	"github.com/nkiryanov/stravadash/internal/service/syncer"
	"github.com/nkiryanov/stravadash/internal/strava"
)

const (
	shutdownTimeout = 5 * time.Second
	drainTimeout    = 10 * time.Second
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	engine    *syncer.Engine
	scheduler *syncer.Scheduler
	pool      *pgxpool.Pool
	logger    logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	services := handlers.Services{}

	// Sync run journal is optional, cache works without database
	var (
		pool     *pgxpool.Pool
		recorder syncer.Recorder
	)
	if c.DatabaseDSN != "" {
		pool, err = db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}

		journal := repository.NewJournal(postgres.NewStorage(pool), repository.DefaultJournalKeep)
		recorder = journal
		services.Journal = journal

		logLastFullSync(ctx, journal, logger)
	} else {
		logger.Warn("Database is not configured, sync runs are not journaled")
	}

	// In-memory state
	tokens := cache.NewTokenStore()
	activities := cache.NewActivityStore()

	// Upstream and services
	client := strava.NewClient(strava.Config{
		APIURL:   c.StravaAPIURL,
		OAuthURL: c.StravaOAuthURL,
	}, logger)

	auth := authority.New(authority.Config{
		ClientID:     c.StravaClientID,
		ClientSecret: c.StravaClientSecret,
		RefreshToken: c.StravaRefreshToken,
	}, client, tokens, logger)

	engine := syncer.New(
		syncer.DefaultConfig(),
		fetcher.New(client, tokens, auth, logger),
		auth,
		tokens,
		activities,
		recorder,
		logger,
	)

	services.Engine = engine
	services.OAuth = client
	services.Tokens = tokens

	services.Guard = operator.NewGuard(c.OperatorKeyHash, logger)

	if c.SecretKey != "" {
		states, err := oauthstate.New(oauthstate.Config{SecretKey: c.SecretKey})
		if err != nil {
			closePool(pool)
			return nil, fmt.Errorf("error while creating oauth state manager. Err: %w", err)
		}
		services.States = states
	}

	mux := handlers.NewRouter(
		handlers.Config{
			ClientID:     c.StravaClientID,
			ClientSecret: c.StravaClientSecret,
		},
		services,
		logger,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		engine:     engine,
		scheduler:  syncer.NewScheduler(c.SyncInterval, engine, logger),
		pool:       pool,
		logger:     logger,
	}, nil
}

// Run starts http server and background sync, closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	schedulerStopped := s.scheduler.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-schedulerStopped
	s.drain()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close releases database connections
func (s *ServerApp) Close() {
	closePool(s.pool)
}

// Wait for background resync started by requests, give up after timeout
func (s *ServerApp) drain() {
	done := make(chan struct{})
	go func() {
		s.engine.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		s.logger.Warn("Background resync still running, leaving it behind")
	}
}

func logLastFullSync(ctx context.Context, journal *repository.Journal, l logger.Logger) {
	run, err := journal.LastSucceeded(ctx, models.SyncKindFull)
	switch {
	case errors.Is(err, apperrors.ErrSyncRunNotFound):
		l.Info("No full sync journaled yet")
	case err != nil:
		l.Warn("Failed to read sync journal", "error", err)
	default:
		l.Info("Last full sync", "finished_at", run.FinishedAt, "total", run.Total)
	}
}

func closePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
