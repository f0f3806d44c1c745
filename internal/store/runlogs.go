package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sqlRunLogColumns = `id, sync_config_id, status, started_at, completed_at,
	records_synced, records_failed, errors, triggered_by, direction`

const (
	sqlInsertRunLog = `INSERT INTO run_logs (` + sqlRunLogColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlFinalizeRunLog = `UPDATE run_logs
		SET status = ?, completed_at = ?, records_synced = ?,
			records_failed = ?, errors = ?
		WHERE id = ?`

	sqlGetRunLog = `SELECT ` + sqlRunLogColumns + ` FROM run_logs WHERE id = ?`

	sqlFindOpenRunLog = `SELECT ` + sqlRunLogColumns + `
		FROM run_logs
		WHERE sync_config_id = ? AND completed_at IS NULL AND started_at > ?
		ORDER BY started_at DESC LIMIT 1`

	sqlListRunLogs = `SELECT ` + sqlRunLogColumns + `
		FROM run_logs WHERE sync_config_id = ?
		ORDER BY started_at DESC LIMIT ?`
)

// CreateRunLog inserts an open run log marking a pipeline run as in
// flight. The single-flight check relies on this row existing before
// any external call is made.
func (s *Store) CreateRunLog(ctx context.Context, r *RunLog) error {
	s.logger.Debug("creating run log", "run_id", r.ID, "config_id", r.SyncConfigID)

	if r.Status == "" {
		r.Status = RunStatusRunning
	}

	if r.StartedAt.IsZero() {
		r.StartedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, sqlInsertRunLog,
		r.ID, r.SyncConfigID, string(r.Status), timeToNano(r.StartedAt),
		nullTimeArg(r.CompletedAt), r.RecordsSynced, r.RecordsFailed,
		nullStringArg(r.Errors), string(r.TriggeredBy), string(r.Direction),
	)
	if err != nil {
		return fmt.Errorf("store: create run log %s: %w", r.ID, err)
	}

	return nil
}

// FinalizeRunLog closes an open run log with its outcome.
func (s *Store) FinalizeRunLog(
	ctx context.Context,
	id string,
	status RunStatus,
	completedAt time.Time,
	recordsSynced, recordsFailed int,
	errorsJSON string,
) error {
	s.logger.Debug("finalizing run log", "run_id", id, "status", string(status))

	_, err := s.db.ExecContext(ctx, sqlFinalizeRunLog,
		string(status), timeToNano(completedAt), recordsSynced, recordsFailed,
		nullStringArg(errorsJSON), id)
	if err != nil {
		return fmt.Errorf("store: finalize run log %s: %w", id, err)
	}

	return nil
}

// GetRunLog retrieves one run log by ID.
func (s *Store) GetRunLog(ctx context.Context, id string) (*RunLog, error) {
	r, err := scanRunLog(s.db.QueryRowContext(ctx, sqlGetRunLog, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: run log %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: get run log %s: %w", id, err)
	}

	return r, nil
}

// FindOpenRunLog returns the newest run log for a config that has not
// completed and started after the given cutoff, or nil when no such
// run exists. This is the durable half of the single-flight check.
func (s *Store) FindOpenRunLog(ctx context.Context, syncConfigID string, startedAfter time.Time) (*RunLog, error) {
	r, err := scanRunLog(s.db.QueryRowContext(ctx, sqlFindOpenRunLog,
		syncConfigID, timeToNano(startedAfter)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil log means "no open run"
	}

	if err != nil {
		return nil, fmt.Errorf("store: find open run log %s: %w", syncConfigID, err)
	}

	return r, nil
}

// ListRunLogs returns a config's most recent run logs, newest first.
func (s *Store) ListRunLogs(ctx context.Context, syncConfigID string, limit int) ([]*RunLog, error) {
	rows, err := s.db.QueryContext(ctx, sqlListRunLogs, syncConfigID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list run logs %s: %w", syncConfigID, err)
	}
	defer rows.Close()

	var logs []*RunLog

	for rows.Next() {
		r, err := scanRunLog(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan run log row: %w", err)
		}

		logs = append(logs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate run log rows: %w", err)
	}

	return logs, nil
}

func scanRunLog(row interface{ Scan(...any) error }) (*RunLog, error) {
	var (
		r                      RunLog
		status, trigger, dir   string
		startedNano            int64
		completedNano          sql.NullInt64
		errorsJSON             sql.NullString
	)

	err := row.Scan(&r.ID, &r.SyncConfigID, &status, &startedNano, &completedNano,
		&r.RecordsSynced, &r.RecordsFailed, &errorsJSON, &trigger, &dir)
	if err != nil {
		return nil, err
	}

	r.Status = RunStatus(status)
	r.StartedAt = nanoToTime(startedNano)
	r.CompletedAt = scanNullTime(completedNano)
	r.Errors = scanNullString(errorsJSON)
	r.TriggeredBy = TriggeredBy(trigger)
	r.Direction = Direction(dir)

	return &r, nil
}
