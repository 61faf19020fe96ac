package authority

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/nkiryanov/stravadash/internal/apperrors"
	"github.com/nkiryanov/stravadash/internal/logger"
	"github.com/nkiryanov/stravadash/internal/metrics"
	"github.com/nkiryanov/stravadash/internal/models"
	"github.com/nkiryanov/stravadash/internal/strava"
)

// Strava application credentials
type Config struct {
	ClientID     string
	ClientSecret string

	// Long living refresh token, used until upstream rotates it
	RefreshToken string
}

type tokenClient interface {
	RefreshToken(ctx context.Context, clientID string, clientSecret string, refreshToken string) (strava.TokenResponse, error)
}

type tokenStore interface {
	Get() models.Token
	Set(access string, expiresAt int64, refresh string)
	IsExpired() bool
}

// Authority keeps a valid access token in the store
type Authority struct {
	cfg    Config
	client tokenClient
	store  tokenStore
	logger logger.Logger

	group    singleflight.Group
	inFlight atomic.Bool
}

func New(cfg Config, client tokenClient, store tokenStore, l logger.Logger) *Authority {
	return &Authority{
		cfg:    cfg,
		client: client,
		store:  store,
		logger: l,
	}
}

// Reauthorize returns stored token if it still valid or refreshes it
// Concurrent callers share one upstream request
func (a *Authority) Reauthorize(ctx context.Context) (models.Token, error) {
	if !a.store.IsExpired() {
		return a.store.Get(), nil
	}

	return a.refresh(ctx, func() bool { return !a.store.IsExpired() })
}

// ForceReauthorize refreshes token after upstream rejected the one given
// Does nothing if the stored token has already been replaced
func (a *Authority) ForceReauthorize(ctx context.Context, rejected string) (models.Token, error) {
	return a.refresh(ctx, func() bool {
		current := a.store.Get()
		return current.AccessToken != "" && current.AccessToken != rejected && !a.store.IsExpired()
	})
}

// InFlight reports whether refresh request is being sent now
func (a *Authority) InFlight() bool {
	return a.inFlight.Load()
}

func (a *Authority) refresh(ctx context.Context, fresh func() bool) (models.Token, error) {
	ch := a.group.DoChan("refresh", func() (any, error) {
		// Someone refreshed the token while we waited for the group
		if fresh() {
			return a.store.Get(), nil
		}

		a.inFlight.Store(true)
		defer a.inFlight.Store(false)

		// Request is shared with other callers and must not be aborted by the first one
		return a.doRefresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return models.Token{}, fmt.Errorf("%w: %w", apperrors.ErrReauthorization, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return models.Token{}, res.Err
		}
		return res.Val.(models.Token), nil
	}
}

func (a *Authority) doRefresh(ctx context.Context) (models.Token, error) {
	refreshToken := a.store.Get().RefreshToken
	if refreshToken == "" {
		refreshToken = a.cfg.RefreshToken
	}

	switch {
	case refreshToken == "":
		a.logger.Error("Can't reauthorize: refresh token not configured")
		return models.Token{}, fmt.Errorf("%w: refresh token is not set", apperrors.ErrConfiguration)
	case a.cfg.ClientID == "":
		a.logger.Error("Can't reauthorize: client id not configured")
		return models.Token{}, fmt.Errorf("%w: client id is not set", apperrors.ErrConfiguration)
	case a.cfg.ClientSecret == "":
		a.logger.Error("Can't reauthorize: client secret not configured")
		return models.Token{}, fmt.Errorf("%w: client secret is not set", apperrors.ErrConfiguration)
	}

	resp, err := a.client.RefreshToken(ctx, a.cfg.ClientID, a.cfg.ClientSecret, refreshToken)
	metrics.RecordReauthorization(err)
	if err != nil {
		if strava.IsMissingScope(err) {
			a.logger.Error("Refresh token lacks activity:read_all scope, authorize the application again", "error", err)
		} else {
			a.logger.Error("Error during reauthorization", "error", err)
		}
		return models.Token{}, fmt.Errorf("%w: %w", apperrors.ErrReauthorization, err)
	}

	// Strava returns expiration in seconds
	expiresAt := resp.ExpiresAt * 1000
	a.store.Set(resp.AccessToken, expiresAt, resp.RefreshToken)

	token := a.store.Get()
	a.logger.Info("Strava token refreshed",
		"expires_at", token.ExpiresTime(),
		"refresh_rotated", resp.RefreshToken != "" && resp.RefreshToken != refreshToken,
	)

	return token, nil
}
