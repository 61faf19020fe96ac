package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/stravadash/internal/apperrors"
	"github.com/nkiryanov/stravadash/internal/cache"
	"github.com/nkiryanov/stravadash/internal/logger"
	"github.com/nkiryanov/stravadash/internal/models"
	"github.com/nkiryanov/stravadash/internal/strava"
)

type fetchCall struct {
	page    int
	perPage int
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []fetchCall
	fn    func(call int, page int) ([]models.Activity, error)
}

func (f *fakeFetcher) FetchPage(_ context.Context, page int, perPage int) ([]models.Activity, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{page, perPage})
	n := len(f.calls)
	f.mu.Unlock()
	return f.fn(n, page)
}

func (f *fakeFetcher) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

type fakeAuthority struct {
	mu     sync.Mutex
	calls  int
	err    error
	tokens *cache.TokenStore
}

func (a *fakeAuthority) Reauthorize(context.Context) (models.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return models.Token{}, a.err
	}
	a.tokens.Set("fresh-access", time.Now().Add(time.Hour).UnixMilli(), "")
	return a.tokens.Get(), nil
}

func (a *fakeAuthority) InFlight() bool { return false }

func (a *fakeAuthority) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeJournal struct {
	mu   sync.Mutex
	runs []models.SyncRun
}

func (j *fakeJournal) Save(_ context.Context, run models.SyncRun) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, run)
	return nil
}

func activities(from int64, n int) []models.Activity {
	page := make([]models.Activity, 0, n)
	for i := range n {
		id := from + int64(i)
		page = append(page, models.Activity{ID: id, Raw: []byte(fmt.Sprintf(`{"id":%d}`, id))})
	}
	return page
}

// Serves total activities with ids 1..total by pages of perPage
func history(total int, perPage int) func(int, int) ([]models.Activity, error) {
	return func(_ int, page int) ([]models.Activity, error) {
		start := (page - 1) * perPage
		if start >= total {
			return nil, nil
		}
		return activities(int64(start+1), min(perPage, total-start)), nil
	}
}

func ids(list []models.Activity) []int64 {
	out := make([]int64, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}

type testEngine struct {
	*Engine
	fetcher    *fakeFetcher
	authority  *fakeAuthority
	tokens     *cache.TokenStore
	activities *cache.ActivityStore
	journal    *fakeJournal
	sleeps     []time.Duration
}

func newTestEngine(t *testing.T, cfg Config, fn func(int, int) ([]models.Activity, error)) *testEngine {
	t.Helper()

	tokens := cache.NewTokenStore()
	tokens.Set("access", time.Now().Add(time.Hour).UnixMilli(), "refresh")

	te := &testEngine{
		fetcher:    &fakeFetcher{fn: fn},
		tokens:     tokens,
		activities: cache.NewActivityStore(),
		journal:    &fakeJournal{},
	}
	te.authority = &fakeAuthority{tokens: tokens}
	te.Engine = New(cfg, te.fetcher, te.authority, te.tokens, te.activities, te.journal, logger.NewNoOpLogger())
	te.Engine.sleep = func(_ context.Context, d time.Duration) error {
		te.sleeps = append(te.sleeps, d)
		return nil
	}

	return te
}

func TestEngine_Resync(t *testing.T) {
	t.Run("paginates until empty page", func(t *testing.T) {
		cases := []struct {
			total     int
			wantCalls int
		}{
			{0, 1},
			{1, 2},
			{100, 2},
			{200, 3},
			{237, 4},
		}

		for _, tc := range cases {
			t.Run(fmt.Sprintf("%d activities", tc.total), func(t *testing.T) {
				e := newTestEngine(t, DefaultConfig(), history(tc.total, 100))

				res, err := e.Resync(t.Context())

				require.NoError(t, err)
				require.Equal(t, tc.total, res.Total)
				require.Equal(t, tc.total, res.Fetched)
				require.Equal(t, tc.wantCalls, res.Pages)

				calls := e.fetcher.Calls()
				require.Len(t, calls, tc.wantCalls)
				for i, c := range calls {
					require.Equal(t, fetchCall{page: i + 1, perPage: 100}, c)
				}
			})
		}
	})

	t.Run("clears cache before fetching", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), history(3, 100))
		e.activities.Set(activities(1000, 5))

		res, err := e.Resync(t.Context())

		require.NoError(t, err)
		require.Equal(t, 3, res.Total)
		require.Equal(t, []int64{1, 2, 3}, ids(e.Activities()))
	})

	t.Run("duplicates across pages collapse", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), func(_ int, page int) ([]models.Activity, error) {
			switch page {
			case 1:
				return activities(1, 3), nil
			case 2:
				return append(activities(3, 2), activities(4, 1)...), nil
			default:
				return nil, nil
			}
		})

		res, err := e.Resync(t.Context())

		require.NoError(t, err)
		require.Equal(t, 6, res.Fetched)
		require.Equal(t, 4, res.Added)
		require.Equal(t, []int64{1, 2, 3, 4}, ids(e.Activities()))
	})

	t.Run("too many pages", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxPages = 2
		e := newTestEngine(t, cfg, func(_ int, page int) ([]models.Activity, error) {
			return activities(int64(page*10), 1), nil
		})

		_, err := e.Resync(t.Context())

		require.ErrorIs(t, err, apperrors.ErrTooManyPages)
		require.Len(t, e.fetcher.Calls(), 3, "page after the limit is fetched to check history ended")
		require.Equal(t, 2, e.activities.Len(), "page over the limit is not merged")
	})

	t.Run("history filling exactly max pages", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxPages = 2
		e := newTestEngine(t, cfg, history(200, 100))

		res, err := e.Resync(t.Context())

		require.NoError(t, err)
		require.Equal(t, 200, res.Total)
		require.Len(t, e.fetcher.Calls(), 3)
	})

	t.Run("transient failure retried with doubling delay", func(t *testing.T) {
		serverErr := fmt.Errorf("%w: %w", apperrors.ErrUpstreamFetch, &strava.Error{Code: strava.CodeServerError, Status: http.StatusBadGateway, Err: errors.New("bad gateway")})
		base := history(150, 100)

		cfg := DefaultConfig()
		cfg.RetryDelay = 10 * time.Millisecond
		e := newTestEngine(t, cfg, func(call int, page int) ([]models.Activity, error) {
			if page == 2 && call <= 3 {
				return nil, serverErr
			}
			return base(call, page)
		})

		res, err := e.Resync(t.Context())

		require.NoError(t, err)
		require.Equal(t, 150, res.Total)
		require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, e.sleeps)
		require.Len(t, e.fetcher.Calls(), 5) // 1, 2, 2, 2, 3
	})

	t.Run("transient failures exhaust attempts", func(t *testing.T) {
		serverErr := &strava.Error{Code: strava.CodeServerError, Status: http.StatusServiceUnavailable, Err: errors.New("unavailable")}
		e := newTestEngine(t, DefaultConfig(), func(_ int, page int) ([]models.Activity, error) {
			if page == 1 {
				return activities(1, 100), nil
			}
			return nil, serverErr
		})

		_, err := e.Resync(t.Context())

		require.Error(t, err)
		require.True(t, strava.IsRetryable(err))
		require.Len(t, e.fetcher.Calls(), 1+3)
		require.Equal(t, 100, e.activities.Len(), "merged pages stay")
	})

	t.Run("permanent failure aborts without retry", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), func(_ int, page int) ([]models.Activity, error) {
			if page == 1 {
				return activities(1, 100), nil
			}
			return nil, fmt.Errorf("%w: %w", apperrors.ErrUpstreamFetch, apperrors.ErrAuthMissing)
		})

		_, err := e.Resync(t.Context())

		require.ErrorIs(t, err, apperrors.ErrUpstreamFetch)
		require.ErrorIs(t, err, apperrors.ErrAuthMissing)
		require.Len(t, e.fetcher.Calls(), 2)
		require.Empty(t, e.sleeps)
		require.Equal(t, 100, e.activities.Len())
	})

	t.Run("retry after from rate limit", func(t *testing.T) {
		limited := &strava.Error{Code: strava.CodeRateLimited, Status: http.StatusTooManyRequests, RetryAfter: 5 * time.Second}
		base := history(10, 100)
		e := newTestEngine(t, DefaultConfig(), func(call int, page int) ([]models.Activity, error) {
			if call == 1 {
				return nil, limited
			}
			return base(call, page)
		})

		_, err := e.Resync(t.Context())

		require.NoError(t, err)
		require.Equal(t, []time.Duration{5 * time.Second}, e.sleeps)
	})

	t.Run("journaled", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), history(5, 100))

		_, err := e.Resync(t.Context())
		require.NoError(t, err)

		require.Len(t, e.journal.runs, 1)
		run := e.journal.runs[0]
		assert.Equal(t, models.SyncKindFull, run.Kind)
		assert.Equal(t, 2, run.Pages)
		assert.Equal(t, 5, run.Total)
		assert.True(t, run.Succeeded())
		assert.NotEqual(t, uuid.Nil, run.ID)
		assert.Equal(t, &run, e.Status().LastRun)
	})
}

func TestEngine_SyncRecent(t *testing.T) {
	t.Run("full then incremental", func(t *testing.T) {
		var recent bool
		base := history(237, 100)
		e := newTestEngine(t, DefaultConfig(), func(call int, page int) ([]models.Activity, error) {
			if recent {
				// 5 new and 2 already seen
				return append(activities(1001, 5), activities(1, 2)...), nil
			}
			return base(call, page)
		})

		res, err := e.Resync(t.Context())
		require.NoError(t, err)
		require.Equal(t, 237, res.Total)
		require.Len(t, e.fetcher.Calls(), 4)

		recent = true
		res, err = e.SyncRecent(t.Context())
		require.NoError(t, err)
		require.Equal(t, 5, res.Added)
		require.Equal(t, 242, res.Total)
		require.Equal(t, fetchCall{page: 1, perPage: 100}, e.fetcher.Calls()[4])

		got := ids(e.Activities())
		require.Equal(t, []int64{1001, 1002, 1003, 1004, 1005}, got[237:], "new appended")
	})

	t.Run("skipped on empty cache", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), history(5, 100))

		res, err := e.SyncRecent(t.Context())

		require.NoError(t, err)
		require.Zero(t, res.Total)
		require.Empty(t, e.fetcher.Calls())
	})

	t.Run("skipped without access token", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), history(5, 100))
		e.activities.Set(activities(1, 2))
		e.tokens.Set("", 0, "")

		_, err := e.SyncRecent(t.Context())

		require.NoError(t, err)
		require.Empty(t, e.fetcher.Calls())
	})

	t.Run("skipped while resync in flight", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), history(5, 100))
		e.activities.Set(activities(1, 2))
		e.resyncing.Add(1)

		res, err := e.SyncRecent(t.Context())

		require.NoError(t, err)
		require.Equal(t, 2, res.Total)
		require.Empty(t, e.fetcher.Calls())
	})

	t.Run("fetch error returned", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), func(int, int) ([]models.Activity, error) {
			return nil, apperrors.ErrUpstreamFetch
		})
		e.activities.Set(activities(1, 2))

		_, err := e.SyncRecent(t.Context())

		require.ErrorIs(t, err, apperrors.ErrUpstreamFetch)
		require.Equal(t, 2, e.activities.Len())
		require.False(t, e.journal.runs[0].Succeeded())
	})
}

func TestEngine_RefreshAll(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), history(42, 100))
		e.activities.Set(activities(500, 3))

		res, err := e.RefreshAll(t.Context())

		require.NoError(t, err)
		require.Equal(t, RefreshResult{Success: true, TotalActivities: 42}, res)
		require.Equal(t, 1, e.authority.Calls())
	})

	t.Run("reauthorization failure", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), history(42, 100))
		e.activities.Set(activities(500, 3))
		e.authority.err = fmt.Errorf("%w: boom", apperrors.ErrReauthorization)

		res, err := e.RefreshAll(t.Context())

		require.ErrorIs(t, err, apperrors.ErrReauthorization)
		require.False(t, res.Success)
		require.Zero(t, e.activities.Len(), "cache is reset")
		require.Empty(t, e.fetcher.Calls())
	})
}

func TestEngine_EnsureFresh(t *testing.T) {
	t.Run("reauthorizes expired token and resyncs empty cache in background", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), history(120, 100))
		e.tokens.Set("old", time.Now().Add(-time.Minute).UnixMilli(), "")

		err := e.EnsureFresh(t.Context())
		require.NoError(t, err)
		e.Wait()

		require.Equal(t, 1, e.authority.Calls())
		require.Equal(t, 120, e.activities.Len())
		require.Equal(t, StateReady, e.State())
	})

	t.Run("background resync outlives request context", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), history(3, 100))
		ctx, cancel := context.WithCancel(t.Context())

		require.NoError(t, e.EnsureFresh(ctx))
		cancel()
		e.Wait()

		require.Equal(t, 3, e.activities.Len())
	})

	t.Run("no-op with valid token and populated cache", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), history(3, 100))
		e.activities.Set(activities(1, 2))

		require.NoError(t, e.EnsureFresh(t.Context()))
		e.Wait()

		require.Zero(t, e.authority.Calls())
		require.Empty(t, e.fetcher.Calls())
	})

	t.Run("merges recent page after reauthorization", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), func(int, int) ([]models.Activity, error) {
			return activities(10, 1), nil
		})
		e.activities.Set(activities(1, 2))
		e.tokens.Set("old", 1, "")

		require.NoError(t, e.EnsureFresh(t.Context()))
		e.Wait()

		require.Equal(t, 1, e.authority.Calls())
		require.Equal(t, []fetchCall{{1, 100}}, e.fetcher.Calls())
		require.Equal(t, 3, e.activities.Len())
	})

	t.Run("reauthorization error returned", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), history(3, 100))
		e.tokens.Set("old", 1, "")
		e.authority.err = apperrors.ErrConfiguration

		err := e.EnsureFresh(t.Context())
		e.Wait()

		require.ErrorIs(t, err, apperrors.ErrConfiguration)
		require.Empty(t, e.fetcher.Calls())
	})

	t.Run("no background resync while refresh all runs", func(t *testing.T) {
		release := make(chan struct{})
		base := history(150, 100)
		e := newTestEngine(t, DefaultConfig(), func(call int, page int) ([]models.Activity, error) {
			if call == 1 {
				<-release
			}
			return base(call, page)
		})
		e.activities.Set(activities(1, 150))

		done := make(chan error, 1)
		go func() {
			_, err := e.RefreshAll(context.Background())
			done <- err
		}()
		require.Eventually(t, func() bool { return len(e.fetcher.Calls()) == 1 }, time.Second, time.Millisecond)
		require.Zero(t, e.activities.Len(), "cache is reset while refresh all runs")

		require.NoError(t, e.EnsureFresh(t.Context()))

		close(release)
		require.NoError(t, <-done)
		e.Wait()

		require.Len(t, e.fetcher.Calls(), 3, "history fetched once")
		require.Equal(t, 150, e.activities.Len())
	})
}

func TestEngine_Poll(t *testing.T) {
	t.Run("merges recent page once after reauthorization", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), func(int, int) ([]models.Activity, error) {
			return activities(10, 1), nil
		})
		e.activities.Set(activities(1, 2))
		e.tokens.Set("old", 1, "")

		require.NoError(t, e.Poll(t.Context()))

		require.Equal(t, 1, e.authority.Calls())
		require.Equal(t, []fetchCall{{1, 100}}, e.fetcher.Calls())
		require.Equal(t, 3, e.activities.Len())
	})

	t.Run("merges recent page with valid token", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), func(int, int) ([]models.Activity, error) {
			return activities(10, 1), nil
		})
		e.activities.Set(activities(1, 2))

		require.NoError(t, e.Poll(t.Context()))

		require.Zero(t, e.authority.Calls())
		require.Equal(t, []fetchCall{{1, 100}}, e.fetcher.Calls())
	})

	t.Run("empty cache resynced in background", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), history(3, 100))

		require.NoError(t, e.Poll(t.Context()))
		e.Wait()

		require.Equal(t, 3, e.activities.Len())
		require.Zero(t, e.authority.Calls())
	})

	t.Run("reauthorization error returned", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig(), history(3, 100))
		e.activities.Set(activities(1, 2))
		e.tokens.Set("old", 1, "")
		e.authority.err = apperrors.ErrConfiguration

		err := e.Poll(t.Context())

		require.ErrorIs(t, err, apperrors.ErrConfiguration)
		require.Empty(t, e.fetcher.Calls())
	})
}

func TestEngine_State(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), history(3, 100))

	e.tokens.Set("", 0, "")
	require.Equal(t, StateUninitialized, e.State())

	e.tokens.Set("access", time.Now().Add(time.Hour).UnixMilli(), "")
	require.Equal(t, StateReadyEmpty, e.State())

	e.activities.Set(activities(1, 1))
	require.Equal(t, StateReady, e.State())

	e.tokens.Set("access", time.Now().Add(-time.Second).UnixMilli(), "")
	require.Equal(t, StateStale, e.State())
}

func TestEngine_Find(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), history(3, 100))
	e.activities.Set(activities(1, 3))

	a, err := e.Find(2)
	require.NoError(t, err)
	require.Equal(t, int64(2), a.ID)

	_, err = e.Find(99)
	require.ErrorIs(t, err, apperrors.ErrActivityNotFound)
}
