// Package history provides the embedded SQLite query cache for sync
// operation records.
//
// The manifest remains the source of truth and keeps only a bounded
// window of recent operations; this cache retains the full run history
// and serves the query surface (the history command and the dashboard)
// without re-reading the manifest.
//
// The database runs in embedded mode with WAL so the watcher can append
// records while a CLI query reads concurrently.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/confsync/confsync/internal/manifest"
)

// FileName is the cache database file inside the sync state directory.
const FileName = "history.db"

// DB wraps the embedded SQLite connection for operation history.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path, creating the
// parent directory and schema as needed.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	// WAL mode keeps readers live while the watcher writes
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// initSchema creates the operations table if it doesn't exist. Idempotent.
func (db *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		pushed INTEGER NOT NULL DEFAULT 0,
		pulled INTEGER NOT NULL DEFAULT 0,
		conflicted INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_operations_started ON operations(started_at);
	CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Record inserts or updates one operation record.
//
// Re-recording the same operation id overwrites the row, so a run that
// transitions from in-progress to completed keeps a single entry.
func (db *DB) Record(op manifest.Operation) error {
	return db.RecordContext(context.Background(), op)
}

// RecordContext inserts or updates one operation record with context support.
func (db *DB) RecordContext(ctx context.Context, op manifest.Operation) error {
	query := `
	INSERT INTO operations (
		id, type, status, started_at, completed_at,
		pushed, pulled, conflicted, errors
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		completed_at = excluded.completed_at,
		pushed = excluded.pushed,
		pulled = excluded.pulled,
		conflicted = excluded.conflicted,
		errors = excluded.errors
	`

	var completedAt any
	if op.CompletedAt != nil {
		completedAt = op.CompletedAt.UTC().Format(time.RFC3339)
	}
	_, err := db.conn.ExecContext(ctx, query,
		op.ID,
		op.Type,
		string(op.Status),
		op.StartedAt.UTC().Format(time.RFC3339),
		completedAt,
		op.Pushed,
		op.Pulled,
		op.Conflicted,
		op.Errors,
	)
	if err != nil {
		return fmt.Errorf("failed to record operation %s: %w", op.ID, err)
	}
	return nil
}

// Get returns one operation by id, or sql.ErrNoRows if absent.
func (db *DB) Get(ctx context.Context, id string) (*manifest.Operation, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT id, type, status, started_at, completed_at,
	       pushed, pulled, conflicted, errors
	FROM operations WHERE id = ?`, id)
	return scanOperation(row)
}

// List returns the most recent operations, newest first. A limit of zero
// or less returns everything.
func (db *DB) List(ctx context.Context, limit int) ([]manifest.Operation, error) {
	query := `
	SELECT id, type, status, started_at, completed_at,
	       pushed, pulled, conflicted, errors
	FROM operations
	ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []manifest.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read operations: %w", err)
	}
	return ops, nil
}

// Stats summarizes the recorded history.
type Stats struct {
	Total      int
	Completed  int
	Failed     int
	Pushed     int
	Pulled     int
	Conflicted int
}

// GetStats returns aggregate counters across all recorded operations.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT COUNT(*),
	       COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(pushed), 0),
	       COALESCE(SUM(pulled), 0),
	       COALESCE(SUM(conflicted), 0)
	FROM operations`)

	var s Stats
	if err := row.Scan(&s.Total, &s.Completed, &s.Failed, &s.Pushed, &s.Pulled, &s.Conflicted); err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	return &s, nil
}

// Prune deletes operations older than the cutoff. Returns the number of
// rows removed.
func (db *DB) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM operations WHERE started_at < ?`,
		olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to prune operations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned operations: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (*manifest.Operation, error) {
	var (
		op          manifest.Operation
		status      string
		startedAt   string
		completedAt sql.NullString
	)
	if err := row.Scan(&op.ID, &op.Type, &status, &startedAt, &completedAt,
		&op.Pushed, &op.Pulled, &op.Conflicted, &op.Errors); err != nil {
		return nil, err
	}
	op.Status = manifest.OperationStatus(status)

	started, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid started_at for operation %s: %w", op.ID, err)
	}
	op.StartedAt = started

	if completedAt.Valid {
		completed, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid completed_at for operation %s: %w", op.ID, err)
		}
		op.CompletedAt = &completed
	}
	return &op, nil
}
