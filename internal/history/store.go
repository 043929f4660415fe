// Package history keeps an audit log of finished batch operations in a local
// SQLite database. The live checkpoint lives elsewhere; history is
// append-only and survives checkpoint cleanup.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// BatchRun is one finished batch operation.
type BatchRun struct {
	SessionID   string
	Kind        string
	Destination string
	Total       int
	Succeeded   int
	Failed      int
	Skipped     int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store persists batch runs.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS batches (
		session_id TEXT NOT NULL PRIMARY KEY,
		operation TEXT NOT NULL,
		destination TEXT NOT NULL,
		total INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_batches_finished_at ON batches(finished_at);
	`
	_, err := s.db.Exec(query)
	return err
}

// Record inserts or updates one finished batch.
func (s *Store) Record(run BatchRun) error {
	query := `
	INSERT INTO batches
	(session_id, operation, destination, total, succeeded, failed, skipped, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		total = excluded.total,
		succeeded = excluded.succeeded,
		failed = excluded.failed,
		skipped = excluded.skipped,
		finished_at = excluded.finished_at
	`

	_, err := s.db.Exec(query,
		run.SessionID,
		run.Kind,
		run.Destination,
		run.Total,
		run.Succeeded,
		run.Failed,
		run.Skipped,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	return nil
}

// Recent returns the most recently finished batches, newest first.
func (s *Store) Recent(limit int) ([]BatchRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
	SELECT session_id, operation, destination, total, succeeded, failed, skipped, started_at, finished_at
	FROM batches
	ORDER BY finished_at DESC
	LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []BatchRun
	for rows.Next() {
		var run BatchRun
		err := rows.Scan(
			&run.SessionID,
			&run.Kind,
			&run.Destination,
			&run.Total,
			&run.Succeeded,
			&run.Failed,
			&run.Skipped,
			&run.StartedAt,
			&run.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
