// Package metadatastore implements the server's single-writer transactional
// store (C3): machines, tokens, invitations, file records, chunk records,
// and the append-only change log.
package metadatastore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrDuplicateName   = errors.New("metadatastore: machine name already registered")
	ErrInvalidToken    = errors.New("metadatastore: invalid or expired invitation")
	ErrPathExists      = errors.New("metadatastore: file already exists at path")
	ErrVersionConflict = errors.New("metadatastore: parent_version does not match current version")
	ErrFileNotFound    = errors.New("metadatastore: file not found")
	ErrMachineNotFound = errors.New("metadatastore: machine not found")

	// ReservedMachineName is the server's own hidden machine, created by
	// EnsureServerMachine if absent; cmd/syncagent-server calls that at
	// every startup, so the row exists from startup on rather than being
	// created on first use.
	ReservedMachineName = "__server__"
)

// Store is a SQLite-backed metadata store. All mutating operations run in
// an explicit transaction, and the change-log append for a mutation always
// happens in the same transaction as the mutation itself, so readers of
// the log never observe a gap.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema is current.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("metadatastore: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer: SQLite serializes writers anyway; avoid SQLITE_BUSY churn
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	const schema = `
		PRAGMA journal_mode = WAL;
		PRAGMA foreign_keys = ON;

		CREATE TABLE IF NOT EXISTS machines (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL UNIQUE,
			platform   TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_seen  TIMESTAMP,
			hidden     INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS tokens (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			machine_id INTEGER NOT NULL REFERENCES machines(id),
			token_hash TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP,
			revoked    INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS invitations (
			token_hash TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP,
			used       INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS files (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			path         TEXT NOT NULL,
			size         INTEGER NOT NULL,
			content_hash TEXT NOT NULL,
			version      INTEGER NOT NULL,
			created_at   TIMESTAMP NOT NULL,
			updated_at   TIMESTAMP NOT NULL,
			updated_by   INTEGER REFERENCES machines(id),
			deleted_at   TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_files_path_live ON files(path) WHERE deleted_at IS NULL;
		CREATE INDEX IF NOT EXISTS idx_files_deleted_at ON files(deleted_at);

		CREATE TABLE IF NOT EXISTS chunks (
			file_id    INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			chunk_hash TEXT NOT NULL,
			PRIMARY KEY (file_id, chunk_index)
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(chunk_hash);

		CREATE TABLE IF NOT EXISTS change_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			file_path  TEXT NOT NULL,
			action     TEXT NOT NULL,
			version    INTEGER NOT NULL,
			machine_id INTEGER REFERENCES machines(id),
			timestamp  TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_change_log_timestamp ON change_log(timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("metadatastore: init schema: %w", err)
	}
	return nil
}
