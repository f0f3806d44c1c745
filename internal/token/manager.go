// Package token produces valid access tokens for (user, provider)
// pairs and keeps the stored credentials healthy: proactive refresh
// before expiry, serialized refreshes per key, and terminal-error
// detection that flags connections for reauthorization.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/gridsync/gridsync/internal/secrets"
	"github.com/gridsync/gridsync/internal/store"
)

// ErrReauthRequired marks a credential that cannot be refreshed without
// the user reauthorizing the provider. Never retried.
var ErrReauthRequired = errors.New("token: reauthorization required")

const (
	// expirySkew refreshes tokens this long before they actually
	// expire, so a token handed to a pipeline outlives the run's calls.
	expirySkew = 5 * time.Minute

	refreshAttempts    = 3
	refreshBackoffUnit = 1 * time.Second
)

// terminalPatterns are OAuth error markers that mean the refresh token
// itself is dead. Matching any of them flags the connection for
// reauth instead of retrying.
var terminalPatterns = []string{
	"invalid_grant",
	"revoked",
	"expired",
	"unauthorized",
	"invalid_client",
}

// ProviderConfig is one provider's OAuth client registration plus its
// token endpoint.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
}

// Manager hands out decrypted access tokens, refreshing through the
// provider's token endpoint when needed. All refreshes for the same
// (user, provider) key are collapsed into one external call.
type Manager struct {
	store  *store.Store
	cipher *secrets.Cipher
	logger *slog.Logger

	configs map[store.Provider]*oauth2.Config
	group   singleflight.Group

	// Injected in tests.
	httpClient *http.Client
	nowFunc    func() time.Time
	sleepUnit  time.Duration
}

// NewManager creates a token manager for both providers.
func NewManager(
	st *store.Store,
	cipher *secrets.Cipher,
	sorCfg, gridCfg ProviderConfig,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		store:  st,
		cipher: cipher,
		logger: logger,
		configs: map[store.Provider]*oauth2.Config{
			store.ProviderSor:  oauthConfig(sorCfg),
			store.ProviderGrid: oauthConfig(gridCfg),
		},
		nowFunc:   time.Now,
		sleepUnit: refreshBackoffUnit,
	}
}

func oauthConfig(pc ProviderConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		RedirectURL:  pc.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  pc.AuthURL,
			TokenURL: pc.TokenURL,
		},
	}
}

// GetValidToken returns a decrypted access token for the given user
// and provider, refreshing first when the stored token is within the
// expiry skew. Concurrent callers for the same key share one result.
func (m *Manager) GetValidToken(ctx context.Context, userID string, provider store.Provider) (string, error) {
	key := userID + "/" + string(provider)

	tok, err, _ := m.group.Do(key, func() (any, error) {
		return m.getValidToken(ctx, userID, provider)
	})
	if err != nil {
		return "", err
	}

	return tok.(string), nil
}

func (m *Manager) getValidToken(ctx context.Context, userID string, provider store.Provider) (string, error) {
	conn, err := m.store.GetConnection(ctx, userID, provider)
	if err != nil {
		return "", err
	}

	if conn.NeedsReauth {
		return "", fmt.Errorf("%s connection for user %s needs reconnect: %w",
			provider, userID, ErrReauthRequired)
	}

	if m.nowFunc().Add(expirySkew).Before(conn.TokenExpiry) {
		access, err := m.cipher.Decrypt(conn.AccessToken)
		if err != nil {
			return "", fmt.Errorf("token: decrypting access token: %w", err)
		}

		return access, nil
	}

	return m.refresh(ctx, userID, provider, conn)
}

// refresh exchanges the stored refresh token for a new access token,
// retrying transient failures and flagging terminal ones for reauth.
func (m *Manager) refresh(ctx context.Context, userID string, provider store.Provider, conn *store.Connection) (string, error) {
	m.logger.Info("refreshing token",
		slog.String("user_id", userID), slog.String("provider", string(provider)))

	refreshToken, err := m.cipher.Decrypt(conn.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("token: decrypting refresh token: %w", err)
	}

	cfg := m.configs[provider]

	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}

	var fresh *oauth2.Token

	backoff := linearBackoff(m.sleepUnit)

	err = retry.Do(ctx, retry.WithMaxRetries(refreshAttempts-1, backoff), func(ctx context.Context) error {
		var refreshErr error

		fresh, refreshErr = cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if refreshErr == nil {
			return nil
		}

		if isTerminal(refreshErr) {
			return refreshErr
		}

		m.logger.Warn("token refresh attempt failed",
			slog.String("user_id", userID),
			slog.String("provider", string(provider)),
			slog.String("error", refreshErr.Error()),
		)

		return retry.RetryableError(refreshErr)
	})
	if err != nil {
		return "", m.recordRefreshFailure(ctx, userID, provider, err)
	}

	if err := m.persistTokens(ctx, userID, provider, conn, fresh); err != nil {
		return "", err
	}

	return fresh.AccessToken, nil
}

// persistTokens encrypts and stores a freshly refreshed token pair.
// Providers that do not rotate refresh tokens return an empty one; the
// old token is kept in that case.
func (m *Manager) persistTokens(
	ctx context.Context,
	userID string,
	provider store.Provider,
	conn *store.Connection,
	fresh *oauth2.Token,
) error {
	encAccess, err := m.cipher.Encrypt(fresh.AccessToken)
	if err != nil {
		return fmt.Errorf("token: encrypting access token: %w", err)
	}

	encRefresh := conn.RefreshToken

	if fresh.RefreshToken != "" {
		encRefresh, err = m.cipher.Encrypt(fresh.RefreshToken)
		if err != nil {
			return fmt.Errorf("token: encrypting refresh token: %w", err)
		}
	}

	if err := m.store.UpdateTokens(ctx, userID, provider, encAccess, encRefresh, fresh.Expiry); err != nil {
		return err
	}

	m.logger.Info("token refreshed",
		slog.String("user_id", userID),
		slog.String("provider", string(provider)),
		slog.Time("expiry", fresh.Expiry),
	)

	return nil
}

// recordRefreshFailure persists the failure and maps terminal errors to
// ErrReauthRequired.
func (m *Manager) recordRefreshFailure(ctx context.Context, userID string, provider store.Provider, refreshErr error) error {
	if isTerminal(refreshErr) {
		if markErr := m.store.MarkReauthRequired(ctx, userID, provider, refreshErr.Error()); markErr != nil {
			m.logger.Error("failed to persist reauth flag",
				slog.String("user_id", userID), slog.String("error", markErr.Error()))
		}

		return fmt.Errorf("%s connection for user %s needs reconnect: %v: %w",
			provider, userID, refreshErr, ErrReauthRequired)
	}

	if recErr := m.store.RecordRefreshFailure(ctx, userID, provider, refreshErr.Error()); recErr != nil {
		m.logger.Error("failed to persist refresh failure",
			slog.String("user_id", userID), slog.String("error", recErr.Error()))
	}

	return fmt.Errorf("token: refreshing %s token for user %s: %w", provider, userID, refreshErr)
}

// MarkReauthRequired flags a connection so the next GetValidToken fails
// fast until the user reconnects.
func (m *Manager) MarkReauthRequired(ctx context.Context, userID string, provider store.Provider, reason string) error {
	return m.store.MarkReauthRequired(ctx, userID, provider, reason)
}

// isTerminal reports whether a refresh error means the credential is
// dead. Checks the structured OAuth error code first, then falls back
// to pattern matching on the response body and message.
func isTerminal(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if matchesTerminalPattern(retrieveErr.ErrorCode) {
			return true
		}

		if matchesTerminalPattern(string(retrieveErr.Body)) {
			return true
		}
	}

	return matchesTerminalPattern(err.Error())
}

func matchesTerminalPattern(s string) bool {
	s = strings.ToLower(s)

	for _, pattern := range terminalPatterns {
		if strings.Contains(s, pattern) {
			return true
		}
	}

	return false
}

// linearBackoff waits unit, 2*unit, 3*unit between attempts.
func linearBackoff(unit time.Duration) retry.Backoff {
	attempt := 0

	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++

		return time.Duration(attempt) * unit, false
	})
}

// Source adapts the manager to the per-provider TokenSource interfaces
// the API clients consume.
type Source struct {
	Manager  *Manager
	UserID   string
	Provider store.Provider
}

// Token implements the client TokenSource contract.
func (s Source) Token(ctx context.Context) (string, error) {
	return s.Manager.GetValidToken(ctx, s.UserID, s.Provider)
}
