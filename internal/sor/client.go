package sor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Retry and throttling constants.
const (
	maxRetries          = 3
	rateLimitMultiplier = 3
	baseBackoff         = 1 * time.Second
	maxBackoff          = 30 * time.Second
	backoffFactor       = 2.0
	maxJitter           = 1 * time.Second
	userAgent           = "gridsync/0.1"

	// DefaultRequestsPerSecond is the global request budget for one SOR
	// account. All pipelines targeting the same account share one limiter.
	DefaultRequestsPerSecond = 5

	// MaxBatchSize is the hard ceiling on records per write request.
	MaxBatchSize = 10

	// maxPageSize is the largest page the list endpoint accepts.
	maxPageSize = 100
)

// TokenSource provides bearer tokens. Defined at the consumer per Go
// convention "accept interfaces, return structs"; the token manager
// provides the real implementation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// NewLimiter returns the process-wide token bucket for one SOR account.
func NewLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), DefaultRequestsPerSecond)
}

// Client is an HTTP client for the SOR REST API. It funnels every request
// through a shared token bucket, retries throttled and failed requests
// with exponential backoff plus jitter, and classifies errors into
// sentinel values.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	limiter    *rate.Limiter
	logger     *slog.Logger

	// sleepFunc waits between retries. Tests override it to avoid delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a SOR API client. limiter may be shared across clients
// targeting the same account; nil creates a private default limiter.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, limiter *rate.Limiter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if limiter == nil {
		limiter = NewLimiter()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		limiter:    limiter,
		logger:     logger,
		sleepFunc:  sleepCtx,
	}
}

// do executes a request with rate limiting and retry, returning the
// response body on success. Budget is maxRetries, tripled when the server
// signals explicit throttling.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	var payload []byte

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("sor: encoding request body: %w", err)
		}
	}

	budget := maxRetries

	var attempt int
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("sor: request canceled: %w", err)
		}

		respBody, status, err := c.doOnce(ctx, method, path, query, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("sor: request canceled: %w", ctx.Err())
			}

			if attempt < budget {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("sor: retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("sor: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("sor: %s %s failed after %d retries: %w", method, path, budget, err)
		}

		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			return respBody, nil
		}

		if status == http.StatusTooManyRequests {
			// Explicit throttling earns a larger retry budget.
			budget = maxRetries * rateLimitMultiplier
		}

		if isRetryable(status) && attempt < budget {
			backoff := c.calcBackoff(attempt)
			c.logger.Warn("sor: retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", status),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("sor: request canceled: %w", sleepErr)
			}

			attempt++

			continue
		}

		return nil, &APIError{
			StatusCode: status,
			Message:    string(respBody),
			Err:        classifyStatus(status),
		}
	}
}

// doOnce executes a single HTTP request (no retry) and returns the body
// and status code.
func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response body: %w", err)
	}

	return respBody, resp.StatusCode, nil
}

// calcBackoff computes min(base · 2^attempt, 30s) plus uniform jitter in
// [0, 1s).
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := rand.Float64() * float64(maxJitter) //nolint:gosec // jitter does not need crypto rand

	return time.Duration(backoff + jitter)
}

// sleepCtx waits for d or until the context is canceled. Default sleepFunc.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
