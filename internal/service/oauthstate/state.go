package oauthstate

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/stravadash/internal/apperrors"
)

const (
	defaultTTL           = 10 * time.Minute
	defaultSigningMethod = "HS256"
)

type StateClaims struct {
	jwt.RegisteredClaims
	RedirectURI string `json:"redirect_uri"`
}

// State manager with sensible default
type Config struct {
	// Secret key to sign state
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// How long issued state may come back from strava
	// If not set than default is used
	TTL time.Duration
}

// Manager issues and verifies signed OAuth state parameter
// so exchange-token only accepts codes from authorizations started here
type Manager struct {
	key string
	alg jwt.SigningMethod
	ttl time.Duration

	now func() time.Time
}

func New(cfg Config) (*Manager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if alg == nil {
		return nil, fmt.Errorf("unknown signing method %q", cfg.Alg)
	}

	if cfg.TTL == 0 {
		cfg.TTL = defaultTTL
	}

	return &Manager{
		key: cfg.SecretKey,
		alg: alg,
		ttl: cfg.TTL,
		now: time.Now,
	}, nil
}

// Issue state bound to redirect uri
func (m *Manager) Issue(redirectURI string) (string, error) {
	now := m.now().Truncate(time.Second)

	token := jwt.NewWithClaims(
		m.alg,
		StateClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			},
			RedirectURI: redirectURI,
		},
	)

	state, err := token.SignedString([]byte(m.key))
	if err != nil {
		return "", fmt.Errorf("error while signing state. Err: %w", err)
	}

	return state, nil
}

// Verify state signature, expiration and redirect uri
func (m *Manager) Verify(state string, redirectURI string) error {
	claims := &StateClaims{}

	_, err := jwt.ParseWithClaims(
		state,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(m.key), nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStateInvalid, err)
	}

	if claims.RedirectURI != redirectURI {
		return fmt.Errorf("%w: redirect uri mismatch", apperrors.ErrStateInvalid)
	}

	return nil
}
