package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	sqlSaveSnapshot = `INSERT INTO hash_snapshots
		(sync_config_id, snapshot, last_sync_time, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(sync_config_id) DO UPDATE SET
			snapshot       = excluded.snapshot,
			last_sync_time = excluded.last_sync_time,
			updated_at     = excluded.updated_at`

	sqlGetSnapshot = `SELECT snapshot, last_sync_time
		FROM hash_snapshots WHERE sync_config_id = ?`

	sqlDeleteSnapshot = `DELETE FROM hash_snapshots WHERE sync_config_id = ?`
)

// SaveHashSnapshot replaces a config's persisted hash snapshot. The
// snapshot payload is opaque JSON owned by the engine; persisting it
// keeps conflict detection alive across process restarts.
func (s *Store) SaveHashSnapshot(ctx context.Context, syncConfigID, snapshotJSON string, lastSyncTime time.Time) error {
	s.logger.Debug("saving hash snapshot", "config_id", syncConfigID)

	_, err := s.db.ExecContext(ctx, sqlSaveSnapshot,
		syncConfigID, snapshotJSON, timeToNano(lastSyncTime), timeToNano(s.now()))
	if err != nil {
		return fmt.Errorf("store: save hash snapshot %s: %w", syncConfigID, err)
	}

	return nil
}

// GetHashSnapshot loads a config's persisted snapshot. A missing row
// returns ok=false: the engine takes the first-sync path.
func (s *Store) GetHashSnapshot(ctx context.Context, syncConfigID string) (snapshotJSON string, lastSyncTime time.Time, ok bool, err error) {
	var lastSyncNano int64

	err = s.db.QueryRowContext(ctx, sqlGetSnapshot, syncConfigID).Scan(&snapshotJSON, &lastSyncNano)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, false, nil
	}

	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("store: get hash snapshot %s: %w", syncConfigID, err)
	}

	return snapshotJSON, nanoToTime(lastSyncNano), true, nil
}

// DeleteHashSnapshot removes a config's snapshot, forcing the next run
// onto the first-sync path.
func (s *Store) DeleteHashSnapshot(ctx context.Context, syncConfigID string) error {
	s.logger.Debug("deleting hash snapshot", "config_id", syncConfigID)

	if _, err := s.db.ExecContext(ctx, sqlDeleteSnapshot, syncConfigID); err != nil {
		return fmt.Errorf("store: delete hash snapshot %s: %w", syncConfigID, err)
	}

	return nil
}
