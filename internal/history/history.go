// Package history provides the tagging attempt journal.
//
// Every invocation of the tagging tool is recorded as one row in an
// embedded SQLite database (.mkvtag.db) alongside the watched files.
// The journal exists for the operator: `mkvtagd history` answers what
// was attempted, when, with what outcome, and how long it took. It is
// strictly best-effort; journal failures are logged by the caller and
// never block the tagging pipeline.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// FileName is the fixed journal database name inside the watched
// directory.
const FileName = ".mkvtag.db"

// Attempt is one recorded invocation of the tagging tool.
type Attempt struct {
	ID        int64
	Path      string
	Attempt   int // attempt number for this path, 1-based
	Outcome   string
	Output    string
	Duration  time.Duration
	StartedAt time.Time
}

// DB wraps the journal database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Path returns the journal path for the given watched directory.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Open opens (creating if necessary) the journal database at path and
// ensures the schema exists. The caller must Close() it.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	// A single writer is enough here, but WAL keeps history queries
	// from blocking the daemon.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the journal.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	db.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}

// initSchema creates the attempts table. Idempotent.
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS attempts (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		path        TEXT NOT NULL,
		attempt     INTEGER NOT NULL,
		outcome     TEXT NOT NULL,
		output      TEXT,
		duration_ms INTEGER NOT NULL,
		started_at  TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_path ON attempts(path);
	CREATE INDEX IF NOT EXISTS idx_attempts_started ON attempts(started_at);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return nil
}

// Record appends one attempt row.
func (db *DB) Record(ctx context.Context, a Attempt) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO attempts (path, attempt, outcome, output, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.Path, a.Attempt, a.Outcome, a.Output,
		a.Duration.Milliseconds(), a.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record attempt for %s: %w", a.Path, err)
	}
	return nil
}

// Recent returns the most recent attempts, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, path, attempt, outcome, output, duration_ms, started_at
		FROM attempts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var durationMs int64
		var startedAt string
		if err := rows.Scan(&a.ID, &a.Path, &a.Attempt, &a.Outcome,
			&a.Output, &durationMs, &startedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Duration = time.Duration(durationMs) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			a.StartedAt = ts
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountByOutcome returns attempt totals grouped by outcome.
func (db *DB) CountByOutcome(ctx context.Context) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM attempts GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
