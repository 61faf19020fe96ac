package models

import (
	"time"
)

// Strava OAuth token pair as held by the token store
// ExpiresAt is unix epoch milliseconds, zero for the empty token
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// Expired reports whether the token is expired at the given moment
// The boundary is inclusive: token expires exactly at ExpiresAt
func (t Token) Expired(now time.Time) bool {
	return now.UnixMilli() >= t.ExpiresAt
}

// ExpiresTime returns ExpiresAt as time; zero time for the empty token
func (t Token) ExpiresTime() time.Time {
	if t.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.ExpiresAt)
}
