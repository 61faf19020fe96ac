package strava

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/nkiryanov/stravadash/internal/logger"
	"github.com/nkiryanov/stravadash/internal/metrics"
)

type BreakerConfig struct {
	// Requests allowed in half-open state
	MaxRequests uint32

	// Cyclic period of the closed state to clear counts
	Interval time.Duration

	// How long breaker stays open before moving to half-open
	Timeout time.Duration

	// Trip when failures/requests >= FailureRatio after MinRequests
	FailureRatio float64
	MinRequests  uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

func newBreaker(name string, cfg BreakerConfig, l logger.Logger) *gobreaker.CircuitBreaker[*http.Response] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			l.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			metrics.SetBreakerState(name, stateToFloat(to))
		},
	}

	metrics.SetBreakerState(name, 0)
	return gobreaker.NewCircuitBreaker[*http.Response](settings)
}

// Request abandoned by the caller says nothing about upstream health
func isSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Send request through the breaker
// Transport errors and 5xx responses count as failures, other responses are returned as is
func (c *Client) send(req *http.Request, endpoint string) (*http.Response, error) {
	start := time.Now()

	if err := c.throttle(req.Context()); err != nil {
		metrics.ObserveUpstream(endpoint, 0, time.Since(start))
		return nil, err
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, newError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
		}

		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			_ = resp.Body.Close()
			return nil, newError(CodeServerError, resp.StatusCode, fmt.Errorf("server error: %s", string(body)))
		}

		return resp, nil
	})

	var stravaErr *Error
	switch {
	case err == nil:
		metrics.ObserveUpstream(endpoint, resp.StatusCode, time.Since(start))
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ObserveUpstream(endpoint, 0, time.Since(start))
		return nil, newError(CodeCircuitOpen, 0, err)
	case errors.As(err, &stravaErr):
		metrics.ObserveUpstream(endpoint, stravaErr.Status, time.Since(start))
		return nil, err
	default:
		metrics.ObserveUpstream(endpoint, 0, time.Since(start))
		return nil, newError(CodeUnknown, 0, err)
	}
}
