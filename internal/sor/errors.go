// Package sor provides a typed HTTP client for the source-of-record REST
// API: schema discovery, paginated record listing, and batched writes.
// All requests flow through a process-wide token bucket and retry with
// exponential backoff on throttling and server errors.
package sor

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, sor.ErrNotFound) to check.
var (
	ErrInvalidRequest = errors.New("sor: invalid request")
	ErrUnauthorized   = errors.New("sor: unauthorized")
	ErrForbidden      = errors.New("sor: forbidden")
	ErrNotFound       = errors.New("sor: not found")
	ErrUnprocessable  = errors.New("sor: validation failed")
	ErrRateLimited    = errors.New("sor: rate limited")
	ErrServerError    = errors.New("sor: server error")
)

// APIError wraps a sentinel error with the HTTP status code and the API
// error body for diagnostics.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sor: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrInvalidRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrInvalidRequest
	}
}

// isRetryable reports whether a status code should be retried.
// 4xx other than 429 is never retried.
func isRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
