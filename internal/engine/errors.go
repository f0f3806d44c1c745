package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/gridsync/gridsync/internal/grid"
	"github.com/gridsync/gridsync/internal/sor"
	"github.com/gridsync/gridsync/internal/token"
)

// ErrorKind buckets run errors for aggregation and retry policy.
type ErrorKind string

// Error kinds, ordered roughly by severity for message selection.
const (
	KindOAuth      ErrorKind = "OAUTH"
	KindRateLimit  ErrorKind = "RATE_LIMIT"
	KindNetwork    ErrorKind = "NETWORK"
	KindValidation ErrorKind = "VALIDATION"
	KindFetch      ErrorKind = "FETCH"
	KindWrite      ErrorKind = "WRITE"
	KindTransform  ErrorKind = "TRANSFORM"
	KindUnknown    ErrorKind = "UNKNOWN"
)

// RunError is one captured failure within a run. RecordKey is empty
// for phase-level errors.
type RunError struct {
	Kind      ErrorKind `json:"kind"`
	RecordKey string    `json:"recordKey,omitempty"`
	Message   string    `json:"message"`
}

func (e RunError) Error() string {
	if e.RecordKey == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}

	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.RecordKey, e.Message)
}

// classifyError maps an underlying failure to its error kind. OAuth
// detection runs first: a terminal credential error must never be
// reported as a retryable network problem.
func classifyError(err error) ErrorKind {
	var runErr RunError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &runErr):
		return runErr.Kind
	case errors.Is(err, token.ErrReauthRequired),
		errors.Is(err, sor.ErrUnauthorized),
		errors.Is(err, grid.ErrUnauthorized):
		return KindOAuth
	case errors.Is(err, sor.ErrRateLimited), errors.Is(err, grid.ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, sor.ErrUnprocessable),
		errors.Is(err, sor.ErrInvalidRequest),
		errors.Is(err, grid.ErrInvalidRequest):
		return KindValidation
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindNetwork
	case errors.Is(err, sor.ErrServerError), errors.Is(err, grid.ErrServerError):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// fetchError wraps a phase error with the FETCH kind unless a more
// specific kind applies.
func kindOr(err error, fallback ErrorKind) ErrorKind {
	if kind := classifyError(err); kind != KindUnknown {
		return kind
	}

	return fallback
}
