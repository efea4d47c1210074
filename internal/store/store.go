// Package store provides the durable SQLite-backed memory layer: the
// only source of truth that survives restart. Turns, profile entries,
// facts, documents, and chunk metadata live here; the semantic index
// is a derived cache rebuildable from this store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	// Returned as an explicit absence, never wrapped around failures.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyIngested indicates a byte-identical document is
	// already stored. The returned document carries the existing ID;
	// callers may treat it as success.
	ErrAlreadyIngested = errors.New("store: document already ingested")
)

// Store is the SQLite durable store. All write methods commit before
// returning; a nil error means the data is on disk. Safe for
// concurrent use; fact merges additionally serialize per identity.
type Store struct {
	db   *sql.DB
	path string

	factMu    sync.Mutex
	factLocks map[string]*sync.Mutex
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)&_pragma=synchronous(full)")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	// SQLite allows one writer at a time; a single connection keeps
	// the pragmas applied consistently.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:        db,
		path:      path,
		factLocks: make(map[string]*sync.Mutex),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) newID() string {
	return ulid.Make().String()
}

func now() time.Time {
	return time.Now().UTC()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: parse time %q: %w", s, err)
	}
	return t, nil
}

const schemaVersion = 1

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		closed     INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS turns (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		metadata   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS profile (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS facts (
		id         TEXT PRIMARY KEY,
		category   TEXT NOT NULL,
		content    TEXT NOT NULL,
		norm       TEXT NOT NULL,
		confidence REAL NOT NULL,
		sources    TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(category, norm)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_facts_category ON facts(category)`,

	`CREATE TABLE IF NOT EXISTS documents (
		id          TEXT PRIMARY KEY,
		origin      TEXT NOT NULL,
		hash        TEXT NOT NULL UNIQUE,
		ingested_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT PRIMARY KEY,
		document_id TEXT REFERENCES documents(id),
		turn_id     TEXT REFERENCES turns(id),
		seq         INTEGER NOT NULL,
		text        TEXT NOT NULL,
		start_off   INTEGER NOT NULL,
		end_off     INTEGER NOT NULL,
		indexed     INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_turn ON chunks(turn_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_unindexed ON chunks(indexed) WHERE indexed = 0`,

	`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		text,
		content=chunks,
		content_rowid=rowid
	)`,
	`CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
	END`,

	`CREATE VIRTUAL TABLE IF NOT EXISTS turns_fts USING fts5(
		content,
		content=turns,
		content_rowid=rowid
	)`,
	`CREATE TRIGGER IF NOT EXISTS turns_ai AFTER INSERT ON turns BEGIN
		INSERT INTO turns_fts(rowid, content) VALUES (new.rowid, new.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS turns_ad AFTER DELETE ON turns BEGIN
		INSERT INTO turns_fts(turns_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
	END`,
}

// migrate creates or updates the schema. All DDL uses IF NOT EXISTS,
// making migration idempotent.
func (s *Store) migrate() error {
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}
