package grid

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
	"time"
)

// Retry constants mirror the SOR client policy: exponential backoff with
// jitter, a small baseline budget tripled on explicit throttling, and no
// retry for client errors other than 429.
const (
	maxRetries          = 3
	rateLimitMultiplier = 3
	baseBackoff         = 1 * time.Second
	maxBackoff          = 30 * time.Second
	backoffFactor       = 2.0
	maxJitter           = 1 * time.Second
	userAgent           = "gridsync/0.1"

	// MaxRowBatch is the number of rows written per value-range request.
	MaxRowBatch = 100
)

// TokenSource provides bearer tokens for the grid provider.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is an HTTP client for the spreadsheet REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a grid API client.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  sleepCtx,
	}
}

// do executes one logical request with retries and returns the body.
func (c *Client) do(ctx context.Context, method, pathAndQuery string, body any) ([]byte, error) {
	var payload []byte

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("grid: encoding request body: %w", err)
		}
	}

	budget := maxRetries

	var attempt int
	for {
		respBody, status, err := c.doOnce(ctx, method, pathAndQuery, payload)

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("grid: request canceled: %w", ctx.Err())
			}

			if attempt >= budget {
				return nil, fmt.Errorf("grid: %s %s failed after %d retries: %w", method, pathAndQuery, budget, err)
			}

			c.logger.Warn("grid: retrying after network error",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)

		case status >= http.StatusOK && status < http.StatusMultipleChoices:
			return respBody, nil

		default:
			if status == http.StatusTooManyRequests {
				budget = maxRetries * rateLimitMultiplier
			}

			if !isRetryable(status) || attempt >= budget {
				return nil, &APIError{
					StatusCode: status,
					Message:    string(respBody),
					Err:        classifyStatus(status),
				}
			}

			c.logger.Warn("grid: retrying after HTTP error",
				slog.String("method", method),
				slog.Int("status", status),
				slog.Int("attempt", attempt+1),
			)
		}

		if sleepErr := c.sleepFunc(ctx, c.calcBackoff(attempt)); sleepErr != nil {
			return nil, fmt.Errorf("grid: request canceled: %w", sleepErr)
		}

		attempt++
	}
}

func (c *Client) doOnce(ctx context.Context, method, pathAndQuery string, payload []byte) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathAndQuery, reqBody)
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

func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := rand.Float64() * float64(maxJitter) //nolint:gosec // jitter does not need crypto rand

	return time.Duration(backoff + jitter)
}

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

// ColumnLetter converts a 1-based column number to its A1 letter form:
// 1 → "A", 26 → "Z", 27 → "AA".
func ColumnLetter(col int) string {
	if col < 1 {
		return ""
	}

	var letters []byte
	for col > 0 {
		col--
		letters = append([]byte{byte('A' + col%26)}, letters...)
		col /= 26
	}

	return string(letters)
}
