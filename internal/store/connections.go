package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sqlConnColumns = `id, user_id, provider, access_token, refresh_token,
	token_expiry, needs_reauth, last_refresh_error, last_refresh_attempt,
	created_at, updated_at`

const (
	sqlUpsertConnection = `INSERT INTO connections (` + sqlConnColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token         = excluded.access_token,
			refresh_token        = excluded.refresh_token,
			token_expiry         = excluded.token_expiry,
			needs_reauth         = excluded.needs_reauth,
			last_refresh_error   = excluded.last_refresh_error,
			last_refresh_attempt = excluded.last_refresh_attempt,
			updated_at           = excluded.updated_at`

	sqlGetConnection = `SELECT ` + sqlConnColumns + `
		FROM connections WHERE user_id = ? AND provider = ?`

	sqlUpdateTokens = `UPDATE connections
		SET access_token = ?, refresh_token = ?, token_expiry = ?,
			needs_reauth = 0, last_refresh_error = NULL,
			last_refresh_attempt = ?, updated_at = ?
		WHERE user_id = ? AND provider = ?`

	sqlMarkReauth = `UPDATE connections
		SET needs_reauth = 1, last_refresh_error = ?,
			last_refresh_attempt = ?, updated_at = ?
		WHERE user_id = ? AND provider = ?`

	sqlRecordRefreshFailure = `UPDATE connections
		SET last_refresh_error = ?, last_refresh_attempt = ?, updated_at = ?
		WHERE user_id = ? AND provider = ?`
)

// UpsertConnection inserts or replaces a provider credential. Token
// fields must already be encrypted by the caller.
func (s *Store) UpsertConnection(ctx context.Context, c *Connection) error {
	s.logger.Debug("upserting connection",
		"user_id", c.UserID, "provider", string(c.Provider))

	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}

	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, sqlUpsertConnection,
		c.ID, c.UserID, string(c.Provider), c.AccessToken, c.RefreshToken,
		timeToNano(c.TokenExpiry), boolToInt(c.NeedsReauth),
		nullStringArg(c.LastRefreshError), nullTimeArg(c.LastRefreshAttempt),
		timeToNano(c.CreatedAt), timeToNano(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: upsert connection %s/%s: %w", c.UserID, c.Provider, err)
	}

	return nil
}

// GetConnection retrieves a user's credential for one provider.
func (s *Store) GetConnection(ctx context.Context, userID string, provider Provider) (*Connection, error) {
	var (
		c                        Connection
		providerStr              string
		expiryNano               int64
		needsReauth              int
		lastErr                  sql.NullString
		lastAttempt              sql.NullInt64
		createdNano, updatedNano int64
	)

	err := s.db.QueryRowContext(ctx, sqlGetConnection, userID, string(provider)).Scan(
		&c.ID, &c.UserID, &providerStr, &c.AccessToken, &c.RefreshToken,
		&expiryNano, &needsReauth, &lastErr, &lastAttempt,
		&createdNano, &updatedNano,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: connection %s/%s: %w", userID, provider, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: get connection %s/%s: %w", userID, provider, err)
	}

	c.Provider = Provider(providerStr)
	c.TokenExpiry = nanoToTime(expiryNano)
	c.NeedsReauth = needsReauth == 1
	c.LastRefreshError = scanNullString(lastErr)
	c.LastRefreshAttempt = scanNullTime(lastAttempt)
	c.CreatedAt = nanoToTime(createdNano)
	c.UpdatedAt = nanoToTime(updatedNano)

	return &c, nil
}

// UpdateTokens stores freshly refreshed (encrypted) tokens and clears
// the reauth flag and last refresh error.
func (s *Store) UpdateTokens(
	ctx context.Context,
	userID string,
	provider Provider,
	accessToken, refreshToken string,
	expiry time.Time,
) error {
	s.logger.Debug("updating tokens", "user_id", userID, "provider", string(provider))

	now := timeToNano(s.now())

	_, err := s.db.ExecContext(ctx, sqlUpdateTokens,
		accessToken, refreshToken, timeToNano(expiry), now, now,
		userID, string(provider))
	if err != nil {
		return fmt.Errorf("store: update tokens %s/%s: %w", userID, provider, err)
	}

	return nil
}

// MarkReauthRequired flags a connection as needing user reauthorization
// and records why.
func (s *Store) MarkReauthRequired(ctx context.Context, userID string, provider Provider, reason string) error {
	s.logger.Warn("marking connection for reauth",
		"user_id", userID, "provider", string(provider), "reason", reason)

	now := timeToNano(s.now())

	_, err := s.db.ExecContext(ctx, sqlMarkReauth,
		nullStringArg(reason), now, now, userID, string(provider))
	if err != nil {
		return fmt.Errorf("store: mark reauth %s/%s: %w", userID, provider, err)
	}

	return nil
}

// RecordRefreshFailure stores a transient refresh error without
// flagging reauth; the next run will retry.
func (s *Store) RecordRefreshFailure(ctx context.Context, userID string, provider Provider, reason string) error {
	now := timeToNano(s.now())

	_, err := s.db.ExecContext(ctx, sqlRecordRefreshFailure,
		nullStringArg(reason), now, now, userID, string(provider))
	if err != nil {
		return fmt.Errorf("store: record refresh failure %s/%s: %w", userID, provider, err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
