package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
    id          TEXT PRIMARY KEY,
    task_type   TEXT NOT NULL,
    payload     BLOB,
    priority    INTEGER NOT NULL DEFAULT 0,
    attempts    INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 3,
    backoff_ms  INTEGER NOT NULL DEFAULT 0,
    run_at      INTEGER NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks (run_at, priority DESC);
`

// SQLiteBackend persists tasks in a local SQLite file so queued enrichment
// survives restarts.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the queue database at path. Use
// ":memory:" for an ephemeral queue.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open task queue db: %w", err)
	}
	// The claim transaction serializes consumers; a single connection avoids
	// SQLITE_BUSY churn under concurrent workers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create task schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, t *Task) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tasks (id, task_type, payload, priority, attempts, max_retries, backoff_ms, run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Type, t.Payload, t.Priority, t.Attempts, t.MaxRetries,
		t.Backoff.Milliseconds(), t.RunAt.UnixMilli(), t.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("task insert failed: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Claim(ctx context.Context, now time.Time) (*Task, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		t                         Task
		backoffMs, runAt, created int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, task_type, payload, priority, attempts, max_retries, backoff_ms, run_at, created_at
		FROM tasks WHERE run_at <= ? ORDER BY priority DESC, run_at, created_at LIMIT 1`,
		now.UnixMilli()).
		Scan(&t.ID, &t.Type, &t.Payload, &t.Priority, &t.Attempts, &t.MaxRetries,
			&backoffMs, &runAt, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("task claim failed: %w", err)
	}
	t.Backoff = time.Duration(backoffMs) * time.Millisecond
	t.RunAt = time.UnixMilli(runAt)
	t.CreatedAt = time.UnixMilli(created)

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, t.ID); err != nil {
		return nil, fmt.Errorf("task delete failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *SQLiteBackend) Pending(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	return n, err
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }
