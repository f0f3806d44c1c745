package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	sqlUpsertUsage = `INSERT INTO usage_stats
		(user_id, month, records_synced, sync_configs_created)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, month) DO UPDATE SET
			records_synced       = records_synced + excluded.records_synced,
			sync_configs_created = sync_configs_created + excluded.sync_configs_created`

	sqlGetUsage = `SELECT user_id, month, records_synced, sync_configs_created
		FROM usage_stats WHERE user_id = ? AND month = ?`
)

// MonthOf truncates a time to the first day of its calendar month in
// UTC, the canonical usage bucket key.
func MonthOf(t time.Time) time.Time {
	t = t.UTC()

	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// AddUsage accumulates usage counters for the month containing at.
// Deltas add to existing counters; the row is created on first use.
func (s *Store) AddUsage(ctx context.Context, userID string, at time.Time, recordsSynced, configsCreated int) error {
	month := MonthOf(at)

	s.logger.Debug("adding usage",
		"user_id", userID, "month", month.Format("2006-01"),
		"records", recordsSynced, "configs", configsCreated)

	_, err := s.db.ExecContext(ctx, sqlUpsertUsage,
		userID, timeToNano(month), recordsSynced, configsCreated)
	if err != nil {
		return fmt.Errorf("store: add usage %s: %w", userID, err)
	}

	return nil
}

// GetUsage returns a user's counters for the month containing at. A
// month with no activity returns zero counters, not an error.
func (s *Store) GetUsage(ctx context.Context, userID string, at time.Time) (*UsageStats, error) {
	month := MonthOf(at)

	var (
		u         UsageStats
		monthNano int64
	)

	err := s.db.QueryRowContext(ctx, sqlGetUsage, userID, timeToNano(month)).Scan(
		&u.UserID, &monthNano, &u.RecordsSynced, &u.SyncConfigsCreated)
	if errors.Is(err, sql.ErrNoRows) {
		return &UsageStats{UserID: userID, Month: month}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("store: get usage %s: %w", userID, err)
	}

	u.Month = nanoToTime(monthNano)

	return &u, nil
}
