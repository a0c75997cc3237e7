// Package store provides the embedded SQLite database behind the offline-first
// data layer.
//
// The database runs in embedded mode with WAL enabled so UI reads stay
// concurrent with sync writes. All mutations go through transactions: a
// repository groups its entity write and its sync-queue enqueue into one
// commit, and the sync engine applies each pulled page the same way, so a
// crash can never leave an update untracked or a page half-applied.
//
// Architecture:
//   - Database file: <data dir>/glide.db
//   - WAL mode: concurrent readers during writes
//   - Schema: notes, folders, actions, sync_queue, engine_state tables
//   - Indexes: optimized for folder browsing, queue draining, and
//     server-id lookups during pull
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with schema and transaction helpers.
type Store struct {
	conn *sql.DB
	path string
}

// Querier is the subset of *sql.DB and *sql.Tx the repositories query
// through. Methods that must run inside a caller-managed transaction take a
// Querier so the caller decides the boundary.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it will be created; call InitSchema before
// first use.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	db, err := store.Open("~/.glide/glide.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to 5 seconds
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
//
// This creates the notes, folders, actions, sync_queue, and engine_state
// tables along with indexes for common queries. Idempotent - safe to call
// multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	ddl := `
	-- Folder tree. parent_id is NULL for roots; depth and sort_order are
	-- maintained by the folder repository.
	CREATE TABLE IF NOT EXISTS folders (
		id TEXT PRIMARY KEY,
		server_id TEXT,
		name TEXT NOT NULL,
		icon TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		is_system INTEGER NOT NULL DEFAULT 0,
		parent_id TEXT REFERENCES folders(id),
		sort_order INTEGER NOT NULL DEFAULT 0,
		depth INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		synced_at TEXT,
		sync_status TEXT NOT NULL DEFAULT 'pending'
	);

	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		server_id TEXT,
		title TEXT NOT NULL,
		transcript TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		duration_seconds REAL NOT NULL DEFAULT 0,
		audio_url TEXT NOT NULL DEFAULT '',
		local_audio_path TEXT NOT NULL DEFAULT '',
		folder_id TEXT REFERENCES folders(id) ON DELETE SET NULL,
		tags TEXT,  -- JSON array
		is_pinned INTEGER NOT NULL DEFAULT 0,
		is_archived INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at TEXT,
		ai_processed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		synced_at TEXT,
		sync_status TEXT NOT NULL DEFAULT 'pending'
	);

	-- Actions are hard-deleted with their note.
	CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		server_id TEXT,
		note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
		action_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		priority TEXT NOT NULL DEFAULT 'medium',
		title TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		scheduled_at TEXT,
		due_at TEXT,
		location TEXT NOT NULL DEFAULT '',
		attendees TEXT,  -- JSON array
		email_to TEXT NOT NULL DEFAULT '',
		email_subject TEXT NOT NULL DEFAULT '',
		email_body TEXT NOT NULL DEFAULT '',
		external_ref TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		synced_at TEXT,
		sync_status TEXT NOT NULL DEFAULT 'pending'
	);

	-- Durable change queue. Completed entries are deleted, so every row here
	-- is outstanding work.
	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		op TEXT NOT NULL,
		payload TEXT,  -- JSON entity snapshot
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Engine bookkeeping: bootstrap state, pull watermarks, device id.
	-- Lives in the same database so watermarks commit atomically with the
	-- pull pages they describe.
	CREATE TABLE IF NOT EXISTS engine_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id);
	CREATE INDEX IF NOT EXISTS idx_folders_server ON folders(server_id);
	CREATE INDEX IF NOT EXISTS idx_folders_siblings ON folders(parent_id, sort_order);

	CREATE INDEX IF NOT EXISTS idx_notes_folder ON notes(folder_id);
	CREATE INDEX IF NOT EXISTS idx_notes_server ON notes(server_id);
	CREATE INDEX IF NOT EXISTS idx_notes_status ON notes(sync_status);
	CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated_at);

	-- Composite index for folder browsing
	CREATE INDEX IF NOT EXISTS idx_notes_browse
	    ON notes(is_deleted, is_archived, folder_id, is_pinned);

	CREATE INDEX IF NOT EXISTS idx_actions_note ON actions(note_id);
	CREATE INDEX IF NOT EXISTS idx_actions_server ON actions(server_id);
	CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status);

	CREATE INDEX IF NOT EXISTS idx_queue_entity ON sync_queue(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_queue_drain ON sync_queue(status, id);
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// WithTx runs fn inside a transaction, committing on nil return and rolling
// back otherwise. This is the single transactional boundary shared by UI-path
// repository writes and sync-engine page applies.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// StateGet reads an engine_state value. The second return is false when the
// key has never been set.
func (s *Store) StateGet(ctx context.Context, key string) (string, bool, error) {
	return StateGetIn(ctx, s.conn, key)
}

// StateSet writes an engine_state value, overwriting any previous one.
func (s *Store) StateSet(ctx context.Context, key, value string) error {
	return StateSetIn(ctx, s.conn, key, value)
}

// StateGetIn is StateGet against an explicit Querier, for reads inside a
// caller-managed transaction.
func StateGetIn(ctx context.Context, q Querier, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM engine_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read engine state %q: %w", key, err)
	}
	return value, true, nil
}

// StateSetIn is StateSet against an explicit Querier, so a watermark can
// commit in the same transaction as the pull page it describes.
func StateSetIn(ctx context.Context, q Querier, key, value string) error {
	query := `
	INSERT INTO engine_state (key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := q.ExecContext(ctx, query, key, value, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write engine state %q: %w", key, err)
	}
	return nil
}
