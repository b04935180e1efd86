// Package store persists canonical media items, their provider records, and
// preview cache entries in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sqlite3 "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS media_items (
	id              TEXT PRIMARY KEY,
	media_type      TEXT NOT NULL,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	release_date    TEXT NOT NULL DEFAULT '',
	cover_image_url TEXT NOT NULL DEFAULT '',
	canonical_url   TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS media_extensions (
	item_id TEXT PRIMARY KEY REFERENCES media_items(id) ON DELETE CASCADE,
	kind    TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS source_records (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id         TEXT NOT NULL REFERENCES media_items(id) ON DELETE CASCADE,
	source_name     TEXT NOT NULL,
	source_id       TEXT NOT NULL,
	source_url      TEXT NOT NULL DEFAULT '',
	raw_payload     TEXT NOT NULL DEFAULT '',
	metadata        TEXT NOT NULL DEFAULT '{}',
	last_fetched_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(source_name, source_id)
);

CREATE INDEX IF NOT EXISTS idx_source_records_item ON source_records(item_id);

CREATE TABLE IF NOT EXISTS preview_entries (
	user_id     TEXT NOT NULL,
	source_name TEXT NOT NULL,
	external_id TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	expires_at  TIMESTAMP NOT NULL,
	UNIQUE(user_id, source_name, external_id)
);

CREATE INDEX IF NOT EXISTS idx_preview_entries_expiry ON preview_entries(expires_at);

CREATE TABLE IF NOT EXISTS user_secrets (
	user_id    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	secret     TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, provider)
);
`

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and applies the
// schema. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma foreign_keys: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma journal_mode: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// IsUniqueConflict reports whether err is a UNIQUE or PRIMARY KEY constraint
// violation. Upsert races resolve by reloading the winning row.
func IsUniqueConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
