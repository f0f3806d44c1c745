// Package grid provides a typed HTTP client for the spreadsheet service
// REST API: workbook metadata, value range reads and writes, and the
// structural batch operations the sync engine needs (column growth,
// hiding the ID column, dropdown validations).
package grid

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
var (
	ErrInvalidRequest = errors.New("grid: invalid request")
	ErrUnauthorized   = errors.New("grid: unauthorized")
	ErrForbidden      = errors.New("grid: forbidden")
	ErrNotFound       = errors.New("grid: not found")
	ErrRateLimited    = errors.New("grid: rate limited")
	ErrServerError    = errors.New("grid: server error")
)

// APIError wraps a sentinel with the HTTP status and response body.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("grid: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

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
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrInvalidRequest
	}
}

func isRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
