// Package store persists the Chat → Session → InteractionEvent hierarchy
// plus prompt artifacts and moderated syntheses in SQLite.
//
// Every entity row carries created_at, updated_at and a soft-delete
// deleted_at. Deleting a chat soft-deletes its sessions and their events in
// one transaction with a single shared timestamp. The at-most-one-active
// session invariant is enforced by a partial unique index so concurrent
// creators race safely.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// Store wraps the SQLite database. Methods use per-call statements with
// commit-per-operation; multi-row invariants run in explicit transactions.
type Store struct {
	db *sql.DB
}

// Open opens (and bootstraps) the database at path. Use ":memory:" for
// tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	// Keep sqlite responsive under contention.
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma failed: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			name TEXT NOT NULL,
			personality TEXT NOT NULL DEFAULT '',
			temperature REAL NOT NULL DEFAULT 0.3,
			length_penalty REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id),
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			archived INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL REFERENCES chats(id),
			user_id TEXT NOT NULL,
			previous_session_id TEXT,
			order_index INTEGER NOT NULL,
			accumulated_context TEXT NOT NULL DEFAULT '',
			final_question TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			finished_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
			ON sessions(chat_id) WHERE status = 'active' AND deleted_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS interaction_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			event_type TEXT NOT NULL,
			content TEXT NOT NULL,
			event_data TEXT,
			created_at TEXT NOT NULL,
			deleted_at TEXT
		)`,
		`CREATE TRIGGER IF NOT EXISTS interaction_events_append_only
			BEFORE UPDATE OF event_type, content, event_data ON interaction_events
			BEGIN SELECT RAISE(ABORT, 'interaction events are append-only'); END`,
		`CREATE TABLE IF NOT EXISTS ia_prompts (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			context_session_id TEXT NOT NULL,
			original_query TEXT NOT NULL,
			generated_prompt TEXT NOT NULL,
			edited_prompt TEXT NOT NULL DEFAULT '',
			is_edited INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'generated',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS ia_responses (
			id TEXT PRIMARY KEY,
			prompt_id TEXT NOT NULL REFERENCES ia_prompts(id),
			provider_name TEXT NOT NULL,
			raw_response_text TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			received_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS moderated_syntheses (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			synthesis_text TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS context_chunks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			source_type TEXT NOT NULL,
			content TEXT NOT NULL,
			relevance REAL NOT NULL DEFAULT 0,
			embedding BLOB,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_chat ON sessions(chat_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON interaction_events(session_id, created_at)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}
	return nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// execInsert is a small helper that wraps Exec with error context.
func (s *Store) execInsert(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert failed: %w", err)
	}
	return nil
}
