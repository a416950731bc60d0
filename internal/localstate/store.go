// Package localstate implements the client's local tracking store (C6):
// a single SQLite database, keyed by sync-root-relative path, recording
// what the client last knew about the server's view of each file plus
// in-flight upload progress and the incremental-sync cursor. Schema and
// connection setup follow metadatastore's SQLite style.
package localstate

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Status is a file's sync state relative to the server.
type Status string

const (
	StatusSynced         Status = "SYNCED"
	StatusModified       Status = "MODIFIED"
	StatusNew            Status = "NEW"
	StatusPendingUpload  Status = "PENDING_UPLOAD"
	StatusConflict       Status = "CONFLICT"
	StatusDeleted        Status = "DELETED"
)

var ErrNotFound = errors.New("localstate: path not tracked")

// Entry is one path's tracked state.
type Entry struct {
	Path            string
	ServerFileID    int64
	ServerVersion   int64
	LocalMtime      time.Time
	LocalSize       int64
	LocalContentHash string
	ChunkHashes     []string
	Status          Status
	LastSyncedAt    *time.Time
}

// Store wraps the client's state database. All writes are serialized by mu
// (§4.6: "must serialize writes, one transaction at a time"); reads use the
// database directly since modernc.org/sqlite permits concurrent readers.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("localstate: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	const schema = `
PRAGMA journal_mode = WAL;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS file_state (
	path                TEXT PRIMARY KEY,
	server_file_id      INTEGER NOT NULL DEFAULT 0,
	server_version      INTEGER NOT NULL DEFAULT 0,
	local_mtime         TIMESTAMP,
	local_size          INTEGER NOT NULL DEFAULT 0,
	local_content_hash  TEXT NOT NULL DEFAULT '',
	chunk_hashes        TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL,
	last_synced_at      TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_file_state_status ON file_state(status);

CREATE TABLE IF NOT EXISTS upload_progress (
	path        TEXT NOT NULL,
	chunk_hash  TEXT NOT NULL,
	uploaded    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (path, chunk_hash)
);

CREATE TABLE IF NOT EXISTS sync_cursor (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	timestamp TIMESTAMP
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("localstate: init schema: %w", err)
	}
	return nil
}
