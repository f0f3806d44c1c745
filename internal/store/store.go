// Package store persists gridsync state in an embedded SQLite database:
// users, provider connections, sync configurations, run logs, usage
// counters, and the hash snapshots that back conflict detection.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const walJournalSizeLimit = 67108864 // 64 MiB WAL journal size limit

// Store wraps the SQLite database holding all durable engine state.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// nowFunc is swapped in tests to control timestamps.
	nowFunc func() time.Time
}

// Open opens (or creates) the database at dbPath, applies pending
// migrations, and returns a ready Store. Use ":memory:" for tests.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening state database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	// Sole writer. SQLite serializes writes anyway; a single connection
	// avoids SQLITE_BUSY under concurrent pipeline runs.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("store: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", slog.String("pragma", p.desc))
	}

	return nil
}

// runMigrations applies all pending schema migrations using the goose
// v3 Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.logger.Info("closing state database")

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close database: %w", err)
	}

	return nil
}

// now returns the current UTC time truncated to whole nanoseconds as
// stored in the database.
func (s *Store) now() time.Time {
	return s.nowFunc().UTC()
}

// --- nullable column helpers ---

// Timestamps are stored as unix nanoseconds; NULL maps to a nil
// *time.Time.

func timeToNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func nanoToTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}

	return timeToNano(*t)
}

func scanNullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}

	t := nanoToTime(n.Int64)

	return &t
}

func nullStringArg(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func scanNullString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}

	return ns.String
}
