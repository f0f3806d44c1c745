package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

const sqlUserColumns = `id, email, plan, subscription_status,
	trial_started_at, trial_ends_at, created_at, updated_at`

const (
	sqlInsertUser = `INSERT INTO users (` + sqlUserColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqlGetUser = `SELECT ` + sqlUserColumns + ` FROM users WHERE id = ?`

	sqlGetUserByEmail = `SELECT ` + sqlUserColumns + ` FROM users WHERE email = ?`

	sqlUpdateUserPlan = `UPDATE users
		SET plan = ?, subscription_status = ?, updated_at = ?
		WHERE id = ?`

	sqlDeleteUser = `DELETE FROM users WHERE id = ?`
)

// CreateUser inserts a new user. Trial fields may be nil for users
// created outside a trial flow.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	s.logger.Debug("creating user", "user_id", u.ID)

	now := s.now()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, sqlInsertUser,
		u.ID, u.Email, nullStringArg(u.Plan), nullStringArg(u.SubscriptionStatus),
		nullTimeArg(u.TrialStartedAt), nullTimeArg(u.TrialEndsAt),
		timeToNano(now), timeToNano(now),
	)
	if err != nil {
		return fmt.Errorf("store: create user %s: %w", u.ID, err)
	}

	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, sqlGetUser, id), id)
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, sqlGetUserByEmail, email), email)
}

func (s *Store) scanUser(row *sql.Row, key string) (*User, error) {
	var (
		u                        User
		plan, status             sql.NullString
		trialStart, trialEnd     sql.NullInt64
		createdNano, updatedNano int64
	)

	err := row.Scan(&u.ID, &u.Email, &plan, &status,
		&trialStart, &trialEnd, &createdNano, &updatedNano)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: user %s: %w", key, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: get user %s: %w", key, err)
	}

	u.Plan = scanNullString(plan)
	u.SubscriptionStatus = scanNullString(status)
	u.TrialStartedAt = scanNullTime(trialStart)
	u.TrialEndsAt = scanNullTime(trialEnd)
	u.CreatedAt = nanoToTime(createdNano)
	u.UpdatedAt = nanoToTime(updatedNano)

	return &u, nil
}

// UpdateUserPlan sets a user's plan and subscription status.
func (s *Store) UpdateUserPlan(ctx context.Context, userID, plan, subscriptionStatus string) error {
	s.logger.Debug("updating user plan", "user_id", userID, "plan", plan)

	_, err := s.db.ExecContext(ctx, sqlUpdateUserPlan,
		nullStringArg(plan), nullStringArg(subscriptionStatus), timeToNano(s.now()), userID)
	if err != nil {
		return fmt.Errorf("store: update user plan %s: %w", userID, err)
	}

	return nil
}

// DeleteUser removes a user. Connections, configs, run logs, usage,
// and snapshots cascade.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.logger.Info("deleting user", "user_id", id)

	if _, err := s.db.ExecContext(ctx, sqlDeleteUser, id); err != nil {
		return fmt.Errorf("store: delete user %s: %w", id, err)
	}

	return nil
}
