package strava

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Strava allows 100 requests every 15 minutes per application
const (
	defaultRateEvery = 9 * time.Second
	defaultRateBurst = 100
)

type RateLimitConfig struct {
	// One request token is added every Every
	Every time.Duration

	// Requests allowed back to back
	Burst int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Every: defaultRateEvery,
		Burst: defaultRateBurst,
	}
}

func newLimiter(cfg RateLimitConfig) *rate.Limiter {
	if cfg.Every <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(cfg.Every), cfg.Burst)
}

// Block until request is allowed
// Fails with rate-limited error when the wait would outlive the context
func (c *Client) throttle(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		e := newError(CodeRateLimited, 0, fmt.Errorf("client side rate limit: %w", err))
		e.RetryAfter = c.rateEvery
		return e
	}
	return nil
}
