package fetcher

import (
	"context"
	"fmt"

	"github.com/nkiryanov/stravadash/internal/apperrors"
	"github.com/nkiryanov/stravadash/internal/logger"
	"github.com/nkiryanov/stravadash/internal/models"
	"github.com/nkiryanov/stravadash/internal/strava"
)

type activityClient interface {
	ListActivities(ctx context.Context, accessToken string, page int, perPage int) ([]models.Activity, error)
}

type tokenStore interface {
	Get() models.Token
}

type authority interface {
	ForceReauthorize(ctx context.Context, rejected string) (models.Token, error)
}

// Fetcher reads pages of athlete activities with current access token
type Fetcher struct {
	client    activityClient
	tokens    tokenStore
	authority authority
	logger    logger.Logger
}

func New(client activityClient, tokens tokenStore, authority authority, l logger.Logger) *Fetcher {
	return &Fetcher{
		client:    client,
		tokens:    tokens,
		authority: authority,
		logger:    l,
	}
}

// FetchPage returns one page of activities
// On 401 the token is refreshed once and the request retried once
// Every failure is returned wrapped with apperrors.ErrUpstreamFetch
func (f *Fetcher) FetchPage(ctx context.Context, page int, perPage int) ([]models.Activity, error) {
	if page < 1 || perPage < 1 {
		return nil, fmt.Errorf("%w: page=%d per_page=%d", apperrors.ErrInvalidPage, page, perPage)
	}

	access := f.tokens.Get().AccessToken
	if access == "" {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUpstreamFetch, apperrors.ErrAuthMissing)
	}

	activities, err := f.client.ListActivities(ctx, access, page, perPage)
	if err == nil {
		return activities, nil
	}

	if !strava.IsUnauthorized(err) {
		f.logger.Error("Error fetching Strava activities", "page", page, "per_page", perPage, "error", err)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUpstreamFetch, err)
	}

	f.logger.Info("Access token rejected, reauthorizing", "page", page, "missing_scope", strava.IsMissingScope(err))

	token, err := f.authority.ForceReauthorize(ctx, access)
	if err != nil {
		f.logger.Error("Reauthorization after 401 failed", "page", page, "error", err)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUpstreamFetch, err)
	}

	activities, err = f.client.ListActivities(ctx, token.AccessToken, page, perPage)
	if err != nil {
		f.logger.Error("Retry after reauthorization failed", "page", page, "per_page", perPage, "error", err)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUpstreamFetch, err)
	}

	return activities, nil
}
