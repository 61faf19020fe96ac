package strava

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	CodeUnauthorized = "unauthorized"
	CodeMissingScope = "missing-scope"
	CodeRateLimited  = "rate-limited"
	CodeServerError  = "server-error"
	CodeBadResponse  = "bad-response"
	CodeCircuitOpen  = "circuit-open"
	CodeUnknown      = "unknown"
)

// Error returned by the client for every failed call
type Error struct {
	Code string

	// HTTP status, 0 when the request never got a response
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("strava: code: %s, status: %d, error: %v", e.Code, e.Status, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeRateLimited, CodeServerError, CodeCircuitOpen:
		return true
	case CodeUnknown:
		return e.Status == 0
	default:
		return false
	}
}

func newError(code string, status int, err error) *Error {
	return &Error{Code: code, Status: status, Err: err}
}

// IsUnauthorized reports whether upstream rejected the access token
func IsUnauthorized(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == http.StatusUnauthorized
}

// IsMissingScope reports whether the token lacks activity read permission
func IsMissingScope(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeMissingScope
}

func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// Error body returned by strava API
type apiError struct {
	Message string `json:"message"`
	Errors  []struct {
		Resource string `json:"resource"`
		Field    string `json:"field"`
		Code     string `json:"code"`
	} `json:"errors"`
}

func (e apiError) missingActivityScope() bool {
	for _, item := range e.Errors {
		if item.Field == "activity:read_permission" && item.Code == "missing" {
			return true
		}
	}
	return false
}

func (e apiError) String() string {
	if len(e.Errors) == 0 {
		return e.Message
	}
	item := e.Errors[0]
	return fmt.Sprintf("%s (resource=%s field=%s code=%s)", e.Message, item.Resource, item.Field, item.Code)
}
