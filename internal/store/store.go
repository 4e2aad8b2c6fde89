package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/calt/internal/redact"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added runs.target for preview lookups
const currentSchemaVersion = 2

// ftsSQL creates the full-text projection of events. It fails on builds of
// go-sqlite3 without the sqlite_fts5 tag; the store then searches by scan.
const ftsSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
    summary,
    payload_text,
    content='events',
    content_rowid='seq'
);
CREATE TRIGGER IF NOT EXISTS events_fts_insert AFTER INSERT ON events
BEGIN
    INSERT INTO events_fts(rowid, summary, payload_text)
    VALUES (new.seq, new.summary, new.payload_text);
END;
`

const timeFormat = time.RFC3339Nano

// Store provides durable storage for sessions, plans, approvals, runs,
// events and artifacts. Uses SQLite with WAL mode for concurrent reads.
type Store struct {
	db       *sql.DB
	redactor *redact.Redactor
	fts      bool
}

// Option configures a Store.
type Option func(*Store)

// WithRedactor replaces the default redaction rules.
func WithRedactor(r *redact.Redactor) Option {
	return func(s *Store) { s.redactor = r }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// serializes readers, so every read sees only committed transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, redactor: redact.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := db.Exec(ftsSQL); err != nil {
		slog.Warn("full-text search unavailable, falling back to substring scan", "error", err)
	} else {
		s.fts = true
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Redactor returns the redaction rules applied before persistence.
func (s *Store) Redactor() *redact.Redactor {
	return s.redactor
}

// FullTextEnabled reports whether the FTS5 projection is available.
func (s *Store) FullTextEnabled() bool {
	return s.fts
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds runs.target to databases created before preview lookups
// were keyed by target, then indexes it. New databases already have the
// column from schema.sql.
func migrateToV1(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('runs') WHERE name = 'target'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if n == 0 {
		if _, err := db.Exec(`ALTER TABLE runs ADD COLUMN target TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_preview
		ON runs(session_id, plan_version, tool_name, target, status)`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 adds runs.redacted_paths. Runs recorded before it read back
// with no redacted paths.
func migrateToV2(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('runs') WHERE name = 'redacted_paths'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	if n == 0 {
		if _, err := db.Exec(`ALTER TABLE runs ADD COLUMN redacted_paths TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// withTx runs fn inside a transaction. fn must use tx exclusively: the pool
// has one connection, so touching s.db inside fn would deadlock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
