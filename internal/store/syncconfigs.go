package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const sqlConfigColumns = `id, user_id, name, sor_base_id, sor_table_id,
	sor_view_id, grid_workbook_id, grid_sheet_id, field_mappings,
	direction, conflict_strategy, is_active, last_sync_at,
	last_sync_status, last_error_at, last_error_message,
	created_at, updated_at`

const (
	sqlInsertConfig = `INSERT INTO sync_configs (` + sqlConfigColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlGetConfig = `SELECT ` + sqlConfigColumns + `
		FROM sync_configs WHERE id = ?`

	sqlListConfigsByUser = `SELECT ` + sqlConfigColumns + `
		FROM sync_configs WHERE user_id = ? ORDER BY created_at`

	// Oldest last_sync_at first; never-synced configs lead.
	sqlListActiveConfigs = `SELECT ` + sqlConfigColumns + `
		FROM sync_configs WHERE is_active = 1
		ORDER BY last_sync_at ASC NULLS FIRST, created_at ASC`

	sqlUpdateSyncOutcome = `UPDATE sync_configs
		SET last_sync_at = ?, last_sync_status = ?,
			last_error_at = ?, last_error_message = ?, updated_at = ?
		WHERE id = ?`

	sqlSetConfigActive = `UPDATE sync_configs
		SET is_active = ?, updated_at = ? WHERE id = ?`

	sqlDeleteConfig = `DELETE FROM sync_configs WHERE id = ?`
)

func validateSyncConfig(c *SyncConfig) error {
	seen := make(map[int]string, len(c.FieldMappings))

	for fieldID, col := range c.FieldMappings {
		if col < 0 {
			return fmt.Errorf("store: field %s maps to negative column %d", fieldID, col)
		}

		if other, dup := seen[col]; dup {
			return fmt.Errorf("store: fields %s and %s both map to column %d", other, fieldID, col)
		}

		seen[col] = fieldID
	}

	if c.Direction == DirectionBidirectional && c.ConflictStrategy == "" {
		return errors.New("store: bidirectional config requires a conflict strategy")
	}

	return nil
}

// CreateSyncConfig inserts a new sync configuration after validating
// its field mappings and direction constraints.
func (s *Store) CreateSyncConfig(ctx context.Context, c *SyncConfig) error {
	if err := validateSyncConfig(c); err != nil {
		return err
	}

	s.logger.Debug("creating sync config", "config_id", c.ID, "user_id", c.UserID)

	mappings, err := json.Marshal(c.FieldMappings)
	if err != nil {
		return fmt.Errorf("store: encoding field mappings: %w", err)
	}

	now := s.now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, sqlInsertConfig,
		c.ID, c.UserID, c.Name, c.SorBaseID, c.SorTableID,
		nullStringArg(c.SorViewID), c.GridWorkbookID, c.GridSheetID, string(mappings),
		string(c.Direction), nullStringArg(string(c.ConflictStrategy)), boolToInt(c.IsActive),
		nullTimeArg(c.LastSyncAt), nullStringArg(c.LastSyncStatus),
		nullTimeArg(c.LastErrorAt), nullStringArg(c.LastErrorMessage),
		timeToNano(now), timeToNano(now),
	)
	if err != nil {
		return fmt.Errorf("store: create sync config %s: %w", c.ID, err)
	}

	return nil
}

// GetSyncConfig retrieves one sync configuration by ID.
func (s *Store) GetSyncConfig(ctx context.Context, id string) (*SyncConfig, error) {
	c, err := scanSyncConfig(s.db.QueryRowContext(ctx, sqlGetConfig, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: sync config %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: get sync config %s: %w", id, err)
	}

	return c, nil
}

// ListSyncConfigs returns all configurations owned by a user.
func (s *Store) ListSyncConfigs(ctx context.Context, userID string) ([]*SyncConfig, error) {
	rows, err := s.db.QueryContext(ctx, sqlListConfigsByUser, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list sync configs for %s: %w", userID, err)
	}
	defer rows.Close()

	return scanSyncConfigRows(rows)
}

// ListActiveSyncConfigs returns every active configuration ordered by
// staleness: never-synced first, then oldest lastSyncAt.
func (s *Store) ListActiveSyncConfigs(ctx context.Context) ([]*SyncConfig, error) {
	rows, err := s.db.QueryContext(ctx, sqlListActiveConfigs)
	if err != nil {
		return nil, fmt.Errorf("store: list active sync configs: %w", err)
	}
	defer rows.Close()

	return scanSyncConfigRows(rows)
}

// UpdateSyncOutcome records the result of a completed run on the
// configuration itself. errorMessage empty means the run had no
// user-facing error; the previous error fields are cleared.
func (s *Store) UpdateSyncOutcome(ctx context.Context, id string, at time.Time, status RunStatus, errorMessage string) error {
	s.logger.Debug("updating sync outcome", "config_id", id, "status", string(status))

	var errorAt any
	if errorMessage != "" {
		errorAt = timeToNano(at)
	}

	_, err := s.db.ExecContext(ctx, sqlUpdateSyncOutcome,
		timeToNano(at), string(status), errorAt, nullStringArg(errorMessage),
		timeToNano(s.now()), id)
	if err != nil {
		return fmt.Errorf("store: update sync outcome %s: %w", id, err)
	}

	return nil
}

// SetSyncConfigActive toggles a configuration on or off.
func (s *Store) SetSyncConfigActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx, sqlSetConfigActive, boolToInt(active), timeToNano(s.now()), id)
	if err != nil {
		return fmt.Errorf("store: set sync config active %s: %w", id, err)
	}

	return nil
}

// DeleteSyncConfig removes a configuration; run logs and snapshots
// cascade.
func (s *Store) DeleteSyncConfig(ctx context.Context, id string) error {
	s.logger.Info("deleting sync config", "config_id", id)

	if _, err := s.db.ExecContext(ctx, sqlDeleteConfig, id); err != nil {
		return fmt.Errorf("store: delete sync config %s: %w", id, err)
	}

	return nil
}

func scanSyncConfig(row interface{ Scan(...any) error }) (*SyncConfig, error) {
	var (
		c                        SyncConfig
		viewID, strategy         sql.NullString
		mappings                 string
		direction                string
		isActive                 int
		lastSyncAt, lastErrorAt  sql.NullInt64
		syncStatus, errorMsg     sql.NullString
		createdNano, updatedNano int64
	)

	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.SorBaseID, &c.SorTableID,
		&viewID, &c.GridWorkbookID, &c.GridSheetID, &mappings,
		&direction, &strategy, &isActive, &lastSyncAt,
		&syncStatus, &lastErrorAt, &errorMsg,
		&createdNano, &updatedNano)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(mappings), &c.FieldMappings); err != nil {
		return nil, fmt.Errorf("decoding field mappings: %w", err)
	}

	c.SorViewID = scanNullString(viewID)
	c.Direction = Direction(direction)
	c.ConflictStrategy = ConflictStrategy(scanNullString(strategy))
	c.IsActive = isActive == 1
	c.LastSyncAt = scanNullTime(lastSyncAt)
	c.LastSyncStatus = scanNullString(syncStatus)
	c.LastErrorAt = scanNullTime(lastErrorAt)
	c.LastErrorMessage = scanNullString(errorMsg)
	c.CreatedAt = nanoToTime(createdNano)
	c.UpdatedAt = nanoToTime(updatedNano)

	return &c, nil
}

func scanSyncConfigRows(rows *sql.Rows) ([]*SyncConfig, error) {
	var configs []*SyncConfig

	for rows.Next() {
		c, err := scanSyncConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan sync config row: %w", err)
		}

		configs = append(configs, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate sync config rows: %w", err)
	}

	return configs, nil
}
