// Package sqlite implements the tunnel event journal backed by a SQLite
// database. Every status transition is appended and old rows are pruned.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database connection for journal operations.
type Store struct {
	db *sql.DB

	insertEventStmt *sql.Stmt
	recentEventStmt *sql.Stmt
	pruneEventsStmt *sql.Stmt
}

const defaultMaxOpenConns = 4
const defaultMaxIdleConns = 4

const insertEventQuery = `
INSERT INTO tunnel_events(seq, state, public_url, error, error_kind, rendezvous_id, retry_attempt, retry_in_ms, at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`
const recentEventsQuery = `
SELECT seq, state, public_url, error, error_kind, rendezvous_id, retry_attempt, retry_in_ms, at
FROM tunnel_events
ORDER BY id DESC
LIMIT ?`
const pruneEventsQuery = `
DELETE FROM tunnel_events
WHERE id NOT IN (SELECT id FROM tunnel_events ORDER BY id DESC LIMIT ?)`

// OpenOptions controls SQLite connection pool sizing.
type OpenOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open creates or opens the SQLite database at path, runs migrations, and
// enables WAL mode.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, OpenOptions{})
}

// OpenWithOptions is Open with tunable connection pool settings.
func OpenWithOptions(path string, opts OpenOptions) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	// Append per-connection PRAGMAs to the DSN so every pooled connection gets them.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	maxOpenConns := opts.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	// journal_mode and busy_timeout are database-wide; set them once here.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite setup (%s): %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepareStatements(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	stmtErr := s.closePreparedStatements()
	return errors.Join(stmtErr, s.db.Close())
}

func (s *Store) prepareStatements(ctx context.Context) error {
	var err error
	if s.insertEventStmt, err = s.db.PrepareContext(ctx, insertEventQuery); err != nil {
		return fmt.Errorf("prepare insert event query: %w", err)
	}
	if s.recentEventStmt, err = s.db.PrepareContext(ctx, recentEventsQuery); err != nil {
		closeErr := s.closePreparedStatements()
		return errors.Join(fmt.Errorf("prepare recent events query: %w", err), closeErr)
	}
	if s.pruneEventsStmt, err = s.db.PrepareContext(ctx, pruneEventsQuery); err != nil {
		closeErr := s.closePreparedStatements()
		return errors.Join(fmt.Errorf("prepare prune events query: %w", err), closeErr)
	}
	return nil
}

func (s *Store) closePreparedStatements() error {
	var err error
	err = errors.Join(err, closeStmt(&s.insertEventStmt))
	err = errors.Join(err, closeStmt(&s.recentEventStmt))
	err = errors.Join(err, closeStmt(&s.pruneEventsStmt))
	return err
}

func closeStmt(stmt **sql.Stmt) error {
	if stmt == nil || *stmt == nil {
		return nil
	}
	err := (*stmt).Close()
	*stmt = nil
	return err
}

// Migrate creates all required tables and indexes if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tunnel_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	seq INTEGER NOT NULL,
	state TEXT NOT NULL,
	public_url TEXT NULL,
	error TEXT NULL,
	error_kind TEXT NULL,
	rendezvous_id TEXT NULL,
	retry_attempt INTEGER NOT NULL DEFAULT 0,
	retry_in_ms INTEGER NOT NULL DEFAULT 0,
	at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tunnel_events_state ON tunnel_events(state);
CREATE INDEX IF NOT EXISTS idx_tunnel_events_at ON tunnel_events(at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	return nil
}
