package cache

import (
	"sync"
	"time"

	"github.com/nkiryanov/stravadash/internal/models"
)

// TokenStore holds current strava token pair
// Zero value is ready to use and holds the empty (always expired) token
type TokenStore struct {
	mu    sync.RWMutex
	token models.Token

	// Clock, time.Now if nil
	Now func() time.Time
}

func NewTokenStore() *TokenStore {
	return &TokenStore{Now: time.Now}
}

func (s *TokenStore) Get() models.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set access token and its expiration (unix milliseconds)
// Refresh token is kept as is when empty: refresh grant may not rotate it
func (s *TokenStore) Set(access string, expiresAt int64, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token.AccessToken = access
	s.token.ExpiresAt = expiresAt
	if refresh != "" {
		s.token.RefreshToken = refresh
	}
}

func (s *TokenStore) IsExpired() bool {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token.Expired(now)
}

func (s *TokenStore) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
