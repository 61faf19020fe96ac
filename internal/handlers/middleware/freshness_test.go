package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type freshenerFunc func(ctx context.Context) error

func (f freshenerFunc) EnsureFresh(ctx context.Context) error { return f(ctx) }

type warnFunc func(string, ...any)

func (f warnFunc) Warn(msg string, v ...any) { f(msg, v...) }

func TestFreshness(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	t.Run("calls engine before handler", func(t *testing.T) {
		var order []string
		engine := freshenerFunc(func(context.Context) error {
			order = append(order, "engine")
			return nil
		})
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "handler")
		})
		warned := warnFunc(func(string, ...any) { t.Fatal("nothing to warn about") })

		rec := httptest.NewRecorder()
		Freshness(engine, warned)(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, []string{"engine", "handler"}, order)
	})

	t.Run("engine error logged and request served", func(t *testing.T) {
		engine := freshenerFunc(func(context.Context) error {
			return errors.New("reauthorization failed")
		})
		warnings := 0
		warned := warnFunc(func(msg string, v ...any) { warnings++ })

		rec := httptest.NewRecorder()
		Freshness(engine, warned)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusTeapot, rec.Code, "read never fails")
		require.Equal(t, 1, warnings)
	})
}
