// Package index provides the SQLite-backed versioned line index for guides.
//
// Committed versions are immutable: a re-import inserts a new set of line
// and section rows under a fresh version number and flips the guide's
// current_version pointer in the same transaction. Readers pinned to an
// older version keep reading its rows until they release the pin.
package index

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS guides (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	system          TEXT NOT NULL DEFAULT '',
	author          TEXT NOT NULL DEFAULT '',
	version_label   TEXT NOT NULL DEFAULT '',
	current_version INTEGER NOT NULL DEFAULT 0,
	state           TEXT NOT NULL DEFAULT 'importing',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS guide_versions (
	guide_id   TEXT NOT NULL REFERENCES guides(id) ON DELETE CASCADE,
	version    INTEGER NOT NULL,
	line_count INTEGER NOT NULL,
	checksum   TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (guide_id, version)
);

CREATE TABLE IF NOT EXISTS lines (
	guide_id    TEXT NOT NULL,
	version     INTEGER NOT NULL,
	line_number INTEGER NOT NULL,
	byte_offset INTEGER NOT NULL,
	byte_length INTEGER NOT NULL,
	PRIMARY KEY (guide_id, version, line_number)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS sections (
	guide_id    TEXT NOT NULL,
	version     INTEGER NOT NULL,
	line_number INTEGER NOT NULL,
	title       TEXT NOT NULL,
	level       INTEGER NOT NULL,
	confidence  REAL NOT NULL,
	PRIMARY KEY (guide_id, version, line_number)
);

CREATE TABLE IF NOT EXISTS positions (
	guide_id   TEXT PRIMARY KEY REFERENCES guides(id) ON DELETE CASCADE,
	line       INTEGER NOT NULL,
	col        INTEGER NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS bookmarks (
	id         TEXT PRIMARY KEY,
	guide_id   TEXT NOT NULL REFERENCES guides(id) ON DELETE CASCADE,
	line       INTEGER NOT NULL,
	label      TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	stale      INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bookmarks_guide ON bookmarks(guide_id, line);

CREATE TABLE IF NOT EXISTS collections (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	parent_id  TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS collection_entries (
	id            TEXT PRIMARY KEY,
	collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
	ordinal       INTEGER NOT NULL,
	kind          TEXT NOT NULL,
	ref           TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_entries_collection ON collection_entries(collection_id, ordinal);
`

// DB wraps a sql.DB with index-specific operations and version pinning.
type DB struct {
	conn *sql.DB

	// pins tracks active read sessions per guide version. Superseded
	// versions are pruned only once their refcount drops to zero.
	pinMu sync.Mutex
	pins  map[string]map[int]int
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn, pins: make(map[string]map[int]int)}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
