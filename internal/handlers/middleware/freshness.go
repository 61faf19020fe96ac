package middleware

import (
	"context"
	"net/http"
)

type freshener interface {
	EnsureFresh(ctx context.Context) error
}

type warnLogger interface {
	Warn(msg string, args ...any)
}

// Freshness lets the engine refresh token and cache before read requests
// Engine errors are logged only: reads are served from whatever is cached
func Freshness(engine freshener, l warnLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := engine.EnsureFresh(r.Context()); err != nil {
				l.Warn("Cache freshness check failed", "uri", r.RequestURI, "error", err)
			}
			next.ServeHTTP(w, r)
		})
	}
}
