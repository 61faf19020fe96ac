package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/nkiryanov/stravadash/internal/logger"
	"github.com/nkiryanov/stravadash/internal/models"
)

const (
	DefaultAPIURL   = "https://www.strava.com/api/v3"
	DefaultOAuthURL = "https://www.strava.com/oauth"

	// Scope needed to read all athlete activities, private ones included
	ActivityScope = "read,activity:read_all"

	defaultTimeout = 15 * time.Second
)

const (
	endpointToken      = "oauth_token"
	endpointActivities = "athlete_activities"
)

var validate = validator.New()

// Response of the token endpoint for both refresh and authorization code grants
type TokenResponse struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at" validate:"gt=0"` // unix seconds
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

type Config struct {
	// Strava REST API base, like https://www.strava.com/api/v3
	APIURL string

	// Strava OAuth base, like https://www.strava.com/oauth
	OAuthURL string

	// Per call timeout
	Timeout time.Duration

	// Optional, fresh client used if not set
	HTTPClient *http.Client

	Breaker BreakerConfig

	// Client side throttling, negative Every disables it
	RateLimit RateLimitConfig
}

type Client struct {
	apiURL   string
	oauthURL string
	timeout  time.Duration

	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  logger.Logger

	limiter   *rate.Limiter
	rateEvery time.Duration
}

func NewClient(cfg Config, l logger.Logger) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.OAuthURL == "" {
		cfg.OAuthURL = DefaultOAuthURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Breaker == (BreakerConfig{}) {
		cfg.Breaker = DefaultBreakerConfig()
	}
	if cfg.RateLimit == (RateLimitConfig{}) {
		cfg.RateLimit = DefaultRateLimitConfig()
	}

	return &Client{
		apiURL:   strings.TrimRight(cfg.APIURL, "/"),
		oauthURL: strings.TrimRight(cfg.OAuthURL, "/"),
		timeout:  cfg.Timeout,
		client:   cfg.HTTPClient,
		breaker:  newBreaker("strava", cfg.Breaker, l),
		logger:   l,

		limiter:   newLimiter(cfg.RateLimit),
		rateEvery: cfg.RateLimit.Every,
	}
}

// AuthorizeURL builds url the athlete has to visit to grant access
func (c *Client) AuthorizeURL(clientID string, redirectURI string, state string) string {
	params := url.Values{
		"client_id":       {clientID},
		"response_type":   {"code"},
		"redirect_uri":    {redirectURI},
		"approval_prompt": {"force"},
		"scope":           {ActivityScope},
	}
	if state != "" {
		params.Set("state", state)
	}

	return c.oauthURL + "/authorize?" + params.Encode()
}

// RefreshToken exchanges refresh token for a fresh access token
func (c *Client) RefreshToken(ctx context.Context, clientID string, clientSecret string, refreshToken string) (TokenResponse, error) {
	return c.token(ctx, url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	})
}

// ExchangeCode exchanges authorization code for a token pair
func (c *Client) ExchangeCode(ctx context.Context, clientID string, clientSecret string, code string, redirectURI string) (TokenResponse, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
	}
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	return c.token(ctx, form)
}

func (c *Client) token(ctx context.Context, form url.Values) (TokenResponse, error) {
	var t TokenResponse

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauthURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return t, newError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.send(req, endpointToken)
	if err != nil {
		return t, err
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return t, c.processFailure(resp, "grant_type", form.Get("grant_type"))
	}

	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return t, newError(CodeBadResponse, resp.StatusCode, fmt.Errorf("failed to decode token response: %w", err))
	}
	if err := validate.Struct(t); err != nil {
		return t, newError(CodeBadResponse, resp.StatusCode, fmt.Errorf("invalid token response: %w", err))
	}

	c.logger.Debug("Token issued", "grant_type", form.Get("grant_type"), "expires_at", t.ExpiresAt, "scope", t.Scope)
	return t, nil
}

// ListActivities returns one page of athlete activities, most recent first
func (c *Client) ListActivities(ctx context.Context, accessToken string, page int, perPage int) ([]models.Activity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/athlete/activities?"+params.Encode(), nil)
	if err != nil {
		return nil, newError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.send(req, endpointActivities)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, c.processFailure(resp, "page", page)
	}

	var activities []models.Activity
	if err := json.NewDecoder(resp.Body).Decode(&activities); err != nil {
		return nil, newError(CodeBadResponse, resp.StatusCode, fmt.Errorf("failed to decode activities page %d: %w", page, err))
	}

	c.logger.Debug("Activities page fetched", "page", page, "per_page", perPage, "count", len(activities))
	return activities, nil
}

// Turn non-200 response into *Error
func (c *Client) processFailure(resp *http.Response, args ...any) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var apiErr apiError
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		message = apiErr.String()
	}

	logArgs := append([]any{"status_code", resp.StatusCode, "message", message}, args...)

	switch {
	case resp.StatusCode == http.StatusUnauthorized && apiErr.missingActivityScope():
		c.logger.Warn("Strava token lacks activity:read_permission scope", logArgs...)
		return newError(CodeMissingScope, resp.StatusCode, fmt.Errorf("missing activity read scope: %s", message))

	case resp.StatusCode == http.StatusUnauthorized:
		c.logger.Info("Strava rejected authorization", logArgs...)
		return newError(CodeUnauthorized, resp.StatusCode, fmt.Errorf("unauthorized: %s", message))

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
		if err != nil {
			retryAfter = 60 // default to 60 seconds if parsing fails
		}
		c.logger.Warn("Strava rate limit exceeded", append(logArgs, "retry_after", retryAfter)...)
		e := newError(CodeRateLimited, resp.StatusCode, fmt.Errorf("rate limited, retry after %d seconds", retryAfter))
		e.RetryAfter = time.Duration(retryAfter) * time.Second
		return e

	default:
		c.logger.Warn("Unexpected Strava response", logArgs...)
		return newError(CodeUnknown, resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, message))
	}
}
