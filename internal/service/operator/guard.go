package operator

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/nkiryanov/stravadash/internal/apperrors"
	"github.com/nkiryanov/stravadash/internal/logger"
)

const HeaderOperatorKey = "X-Operator-Key"

type hasher interface {
	Compare(hashedKey string, key string) error
}

// Guard checks operator key of mutating requests
type Guard struct {
	hash   string
	hasher hasher
}

// NewGuard returns guard for bcrypt hash of operator key
// Empty hash disables the guard
func NewGuard(hash string, l logger.Logger) *Guard {
	if hash == "" {
		l.Warn("Operator key hash is not set, refetch endpoint is not protected")
	}

	return &Guard{
		hash:   hash,
		hasher: BcryptHasher{},
	}
}

func (g *Guard) Enabled() bool {
	return g.hash != ""
}

// Check key against configured hash. Always ok when guard is disabled
func (g *Guard) Check(key string) error {
	if !g.Enabled() {
		return nil
	}
	if key == "" {
		return fmt.Errorf("%w: key is empty", apperrors.ErrOperatorKeyInvalid)
	}

	if err := g.hasher.Compare(g.hash, key); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrOperatorKeyInvalid, err)
	}
	return nil
}

// KeyFromRequest reads key from bearer authorization or X-Operator-Key header
func KeyFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if key, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(key)
		}
	}
	return strings.TrimSpace(r.Header.Get(HeaderOperatorKey))
}
