package middleware

import (
	"net/http"

	"github.com/nkiryanov/stravadash/internal/handlers/render"
	"github.com/nkiryanov/stravadash/internal/service/operator"
)

type operatorGuard interface {
	Check(key string) error
}

func OperatorAuth(g operatorGuard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := g.Check(operator.KeyFromRequest(r)); err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
