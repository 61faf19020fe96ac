package apperrors

import (
	"errors"
)

var (
	ErrConfiguration   = errors.New("missing required strava configuration")
	ErrReauthorization = errors.New("failed to refresh strava token")
	ErrAuthMissing     = errors.New("access token is missing")

	ErrUpstreamFetch = errors.New("failed to fetch strava activities")
	ErrInvalidPage   = errors.New("page and per_page must be positive")
	ErrTooManyPages  = errors.New("resync exceeded page limit")

	ErrActivityNotFound = errors.New("activity not found")

	ErrStateInvalid       = errors.New("oauth state is invalid")
	ErrOperatorKeyInvalid = errors.New("operator key is invalid")

	ErrSyncRunExists   = errors.New("sync run already exists")
	ErrSyncRunNotFound = errors.New("sync run not found")
)
