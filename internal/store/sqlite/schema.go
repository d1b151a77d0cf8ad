package sqlite

import (
	"context"
	"fmt"
)

// migration is one linear, idempotent schema step (spec §4.C), grounded on
// the numbered-function pattern in the teacher's
// internal/storage/sqlite/migrations package.
type migration struct {
	version int
	apply   func(ctx context.Context, q querier) error
}

var migrations = []migration{
	{version: 1, apply: migrateV1},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		)
	`); err != nil {
		return wrapDBErr("create schema_meta", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > CurrentSchemaVersion {
		return fmt.Errorf("sqlite: database schema version %d is newer than this build supports (%d)", current, CurrentSchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.apply(ctx, s.db); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO schema_meta (id, version) VALUES (1, ?)
			ON CONFLICT (id) DO UPDATE SET version = excluded.version
		`, m.version); err != nil {
			return fmt.Errorf("migration %d: stamp version: %w", m.version, err)
		}
	}
	return nil
}

// migrateV1 creates the full persisted schema of spec §6 in one shot (the
// system has no prior shipped version to migrate forward from).
func migrateV1(ctx context.Context, q querier) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blobs (
			content_hash TEXT PRIMARY KEY,
			bytes        BLOB NOT NULL,
			size         INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS commits (
			commit_hash           TEXT PRIMARY KEY,
			tract_id              TEXT NOT NULL,
			content_hash          TEXT NOT NULL REFERENCES blobs(content_hash),
			content_type          TEXT NOT NULL,
			parent_hash           TEXT REFERENCES commits(commit_hash),
			operation             TEXT NOT NULL,
			edit_target           TEXT REFERENCES commits(commit_hash),
			message               TEXT NOT NULL,
			metadata_json         TEXT NOT NULL DEFAULT '{}',
			generation_config_json TEXT,
			token_count           INTEGER NOT NULL DEFAULT 0,
			token_source          TEXT,
			created_at            TEXT NOT NULL,
			reply_to              TEXT REFERENCES commits(commit_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commits_tract_created ON commits(tract_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_commits_tract_parent ON commits(tract_id, parent_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_commits_content_type ON commits(content_type)`,
		`CREATE TABLE IF NOT EXISTS commit_parents (
			commit_hash TEXT NOT NULL REFERENCES commits(commit_hash),
			parent_hash TEXT NOT NULL REFERENCES commits(commit_hash),
			PRIMARY KEY (commit_hash, parent_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS refs (
			ref_name    TEXT PRIMARY KEY,
			tract_id    TEXT NOT NULL,
			commit_hash TEXT NOT NULL REFERENCES commits(commit_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS annotations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			target_hash TEXT NOT NULL REFERENCES commits(commit_hash),
			priority    TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_annotations_target_created ON annotations(target_hash, created_at)`,
		`CREATE TABLE IF NOT EXISTS operation_events (
			event_id   TEXT PRIMARY KEY,
			tract_id   TEXT NOT NULL,
			kind       TEXT NOT NULL,
			params_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS operation_commits (
			event_id    TEXT NOT NULL REFERENCES operation_events(event_id),
			role        TEXT NOT NULL,
			commit_hash TEXT NOT NULL,
			PRIMARY KEY (event_id, role, commit_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS compile_records (
			record_id    TEXT PRIMARY KEY,
			tract_id     TEXT NOT NULL,
			head_hash    TEXT NOT NULL,
			token_count  INTEGER NOT NULL,
			commit_count INTEGER NOT NULL,
			token_source TEXT NOT NULL,
			created_at   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS compile_effective (
			record_id   TEXT NOT NULL REFERENCES compile_records(record_id),
			position    INTEGER NOT NULL,
			commit_hash TEXT NOT NULL,
			PRIMARY KEY (record_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tracts (
			tract_id     TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL REFERENCES sessions(session_id),
			display_name TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS spawn_edges (
			child_tract_id  TEXT PRIMARY KEY REFERENCES tracts(tract_id),
			parent_tract_id TEXT NOT NULL REFERENCES tracts(tract_id),
			spawn_point     TEXT NOT NULL,
			purpose         TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return wrapDBErr("exec schema stmt", err)
		}
	}
	return nil
}
