package middleware

import (
	"net/http"
	"time"

	"github.com/nkiryanov/stravadash/internal/metrics"
)

const unmatchedRoute = "unmatched"

// Metrics observes every request by its mux pattern to keep label cardinality low
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			lw := &logWriter{
				ResponseWriter: w,
				data:           logData{responseStatus: http.StatusOK},
			}

			next.ServeHTTP(lw, r)

			// ServeMux sets pattern on the same request
			route := r.Pattern
			if route == "" {
				route = unmatchedRoute
			}
			metrics.ObserveHTTP(r.Method, route, lw.data.responseStatus, time.Since(start))
		})
	}
}
