package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/stravadash/internal/apperrors"
	"github.com/nkiryanov/stravadash/internal/logger"
	"github.com/nkiryanov/stravadash/internal/metrics"
	"github.com/nkiryanov/stravadash/internal/models"
	"github.com/nkiryanov/stravadash/internal/strava"
)

const (
	defaultPerPage      = 100
	defaultMaxPages     = 1000
	defaultPageAttempts = 3
	defaultRetryDelay   = 500 * time.Millisecond

	maxRetryWait = time.Minute // upper bound for upstream Retry-After
)

type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateAuthorizing   State = "AUTHORIZING"
	StateReadyEmpty    State = "READY_EMPTY"
	StateReady         State = "READY"
	StateStale         State = "STALE"
)

type pageFetcher interface {
	FetchPage(ctx context.Context, page int, perPage int) ([]models.Activity, error)
}

type authority interface {
	Reauthorize(ctx context.Context) (models.Token, error)
	InFlight() bool
}

type tokenStore interface {
	Get() models.Token
	IsExpired() bool
}

type activityStore interface {
	Get() []models.Activity
	Set(activities []models.Activity)
	Merge(page []models.Activity) int
	Len() int
	Find(id int64) (models.Activity, bool)
}

// Recorder journals finished runs
type Recorder interface {
	Save(ctx context.Context, run models.SyncRun) error
}

type Config struct {
	PerPage      int           // page size for every activities request
	MaxPages     int           // full resync fails when exceeded
	PageAttempts int           // attempts per page on transient failures
	RetryDelay   time.Duration // first retry delay, doubled every next attempt
}

func DefaultConfig() Config {
	return Config{
		PerPage:      defaultPerPage,
		MaxPages:     defaultMaxPages,
		PageAttempts: defaultPageAttempts,
		RetryDelay:   defaultRetryDelay,
	}
}

type SyncResult struct {
	Pages   int
	Fetched int
	Added   int
	Total   int
}

type RefreshResult struct {
	Success         bool
	TotalActivities int
}

type Status struct {
	State          State
	Activities     int
	TokenExpiresAt time.Time
	LastRun        *models.SyncRun
}

// Engine keeps in-memory activity cache in sync with strava
type Engine struct {
	cfg Config

	fetcher    pageFetcher
	authority  authority
	tokens     tokenStore
	activities activityStore
	journal    Recorder
	logger     logger.Logger

	// Held for the whole run: reset never interleaves with a merge
	mu sync.Mutex

	resyncing  atomic.Int32 // full resyncs requested or running
	background atomic.Bool  // background resync in flight
	wg         sync.WaitGroup
	lastRun    atomic.Pointer[models.SyncRun]

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates engine. Journal may be nil
func New(cfg Config, f pageFetcher, a authority, tokens tokenStore, activities activityStore, journal Recorder, l logger.Logger) *Engine {
	def := DefaultConfig()
	if cfg.PerPage <= 0 {
		cfg.PerPage = def.PerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.PageAttempts <= 0 {
		cfg.PageAttempts = def.PageAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = def.RetryDelay
	}

	return &Engine{
		cfg:        cfg,
		fetcher:    f,
		authority:  a,
		tokens:     tokens,
		activities: activities,
		journal:    journal,
		logger:     l,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// Activities returns snapshot of cached activities
func (e *Engine) Activities() []models.Activity {
	return e.activities.Get()
}

func (e *Engine) Find(id int64) (models.Activity, error) {
	a, ok := e.activities.Find(id)
	if !ok {
		return models.Activity{}, fmt.Errorf("%w: id=%d", apperrors.ErrActivityNotFound, id)
	}
	return a, nil
}

func (e *Engine) State() State {
	if e.authority.InFlight() {
		return StateAuthorizing
	}

	token := e.tokens.Get()
	count := e.activities.Len()

	switch {
	case token.AccessToken == "" || e.tokens.IsExpired():
		if count > 0 {
			return StateStale
		}
		return StateUninitialized
	case count == 0:
		return StateReadyEmpty
	default:
		return StateReady
	}
}

func (e *Engine) Status() Status {
	s := Status{
		State:      e.State(),
		Activities: e.activities.Len(),
		LastRun:    e.lastRun.Load(),
	}
	if token := e.tokens.Get(); token.ExpiresAt > 0 {
		s.TokenExpiresAt = token.ExpiresTime()
	}
	return s
}

// Resync clears the cache and reloads whole activity history
func (e *Engine) Resync(ctx context.Context) (SyncResult, error) {
	e.resyncing.Add(1)
	defer e.resyncing.Add(-1)

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.record(ctx, models.SyncKindFull, e.resync)
}

// SyncRecent merges the newest page into populated cache
// Skipped while the cache is empty, token is missing or full resync is running
func (e *Engine) SyncRecent(ctx context.Context) (SyncResult, error) {
	if e.resyncing.Load() > 0 {
		e.logger.Debug("Full resync in flight, incremental sync skipped")
		return SyncResult{Total: e.activities.Len()}, nil
	}
	if e.activities.Len() == 0 || e.tokens.Get().AccessToken == "" {
		return SyncResult{Total: e.activities.Len()}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Cache could be reset while waiting for the lock
	if e.activities.Len() == 0 {
		return SyncResult{}, nil
	}

	return e.record(ctx, models.SyncKindIncremental, func(ctx context.Context) (SyncResult, error) {
		page, err := e.fetcher.FetchPage(ctx, 1, e.cfg.PerPage)
		if err != nil {
			return SyncResult{Pages: 1}, err
		}
		return SyncResult{
			Pages:   1,
			Fetched: len(page),
			Added:   e.activities.Merge(page),
		}, nil
	})
}

// RefreshAll resets the cache, reauthorizes if needed and runs full resync
func (e *Engine) RefreshAll(ctx context.Context) (RefreshResult, error) {
	e.resyncing.Add(1)
	defer e.resyncing.Add(-1)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.activities.Set(nil)
	metrics.SetCachedActivities(0)

	res, err := e.record(ctx, models.SyncKindFull, func(ctx context.Context) (SyncResult, error) {
		if _, err := e.authority.Reauthorize(ctx); err != nil {
			return SyncResult{}, err
		}
		return e.resync(ctx)
	})
	if err != nil {
		return RefreshResult{TotalActivities: res.Total}, err
	}

	return RefreshResult{Success: true, TotalActivities: res.Total}, nil
}

// EnsureFresh prepares the cache for a read request.
// Expired token is reauthorized and recent activities merged right after;
// empty cache gets background full resync. Otherwise it is a no-op
func (e *Engine) EnsureFresh(ctx context.Context) error {
	if e.tokens.IsExpired() {
		if _, err := e.authority.Reauthorize(ctx); err != nil {
			return fmt.Errorf("ensure fresh: %w", err)
		}

		if _, err := e.SyncRecent(ctx); err != nil {
			return fmt.Errorf("ensure fresh: %w", err)
		}
	}

	if e.activities.Len() == 0 {
		e.startBackgroundResync(ctx)
	}

	return nil
}

// Poll is a scheduled freshness pass: EnsureFresh, then incremental sync
// unless EnsureFresh has already merged the recent page after reauthorization
func (e *Engine) Poll(ctx context.Context) error {
	expired := e.tokens.IsExpired()

	if err := e.EnsureFresh(ctx); err != nil {
		return err
	}
	if expired {
		return nil
	}

	if _, err := e.SyncRecent(ctx); err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	return nil
}

// Wait blocks until background runs are finished
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) startBackgroundResync(ctx context.Context) {
	// Cache is empty because a full resync has reset it, that run fills it
	if e.resyncing.Load() > 0 {
		e.logger.Debug("Full resync in flight, background resync skipped")
		return
	}
	if !e.background.CompareAndSwap(false, true) {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.background.Store(false)

		e.logger.Info("Cache is empty, starting background resync")
		if _, err := e.Resync(context.WithoutCancel(ctx)); err != nil {
			e.logger.Error("Background resync failed", "error", err)
		}
	}()
}

// Must be called with e.mu held
func (e *Engine) resync(ctx context.Context) (SyncResult, error) {
	var res SyncResult

	e.activities.Set(nil)

	// Page MaxPages+1 is fetched to see the history ended, it has to be empty
	for page := 1; ; page++ {
		items, err := e.fetchPage(ctx, page)
		res.Pages++
		if err != nil {
			return res, fmt.Errorf("resync page %d: %w", page, err)
		}

		if len(items) == 0 {
			return res, nil
		}
		if page > e.cfg.MaxPages {
			return res, fmt.Errorf("%w: more than %d pages", apperrors.ErrTooManyPages, e.cfg.MaxPages)
		}

		res.Fetched += len(items)
		res.Added += e.activities.Merge(items)
	}
}

// Fetch page retrying transient failures with doubling delay
func (e *Engine) fetchPage(ctx context.Context, page int) ([]models.Activity, error) {
	delay := e.cfg.RetryDelay

	for attempt := 1; ; attempt++ {
		items, err := e.fetcher.FetchPage(ctx, page, e.cfg.PerPage)
		if err == nil {
			return items, nil
		}

		if attempt >= e.cfg.PageAttempts || !strava.IsRetryable(err) {
			return nil, err
		}

		wait := delay
		var se *strava.Error
		if errors.As(err, &se) && se.RetryAfter > wait {
			wait = min(se.RetryAfter, maxRetryWait)
		}

		e.logger.Warn("Transient page failure, retrying", "page", page, "attempt", attempt, "wait", wait, "error", err)
		if err := e.sleep(ctx, wait); err != nil {
			return nil, err
		}
		delay *= 2
	}
}

// Run fn, then publish the run into metrics, logs and journal
func (e *Engine) record(ctx context.Context, kind string, fn func(context.Context) (SyncResult, error)) (SyncResult, error) {
	started := e.now()
	res, err := fn(ctx)
	res.Total = e.activities.Len()

	run := models.SyncRun{
		ID:         uuid.New(),
		Kind:       kind,
		StartedAt:  started,
		FinishedAt: e.now(),
		Pages:      res.Pages,
		Fetched:    res.Fetched,
		Added:      res.Added,
		Total:      res.Total,
	}
	if err != nil {
		run.Error = err.Error()
	}

	e.lastRun.Store(&run)
	metrics.RecordSyncRun(run)

	l := e.logger.With("kind", kind, "pages", run.Pages, "fetched", run.Fetched, "added", run.Added, "total", run.Total)
	if err != nil {
		l.Error("Sync run failed", "error", err)
	} else {
		l.Info("Sync run finished", "duration", run.FinishedAt.Sub(run.StartedAt))
	}

	if e.journal != nil {
		if jErr := e.journal.Save(context.WithoutCancel(ctx), run); jErr != nil {
			e.logger.Warn("Failed to save sync run", "id", run.ID, "error", jErr)
		}
	}

	return res, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
