package localstate

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const chunkHashSep = ","

// Get returns the tracked entry for path, or ErrNotFound.
func (s *Store) Get(path string) (*Entry, error) {
	row := s.db.QueryRow(`SELECT path, server_file_id, server_version, local_mtime, local_size,
		local_content_hash, chunk_hashes, status, last_synced_at FROM file_state WHERE path = ?`, path)
	return scanEntry(row)
}

// Upsert inserts or fully replaces the tracked entry for e.Path.
func (s *Store) Upsert(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO file_state
		(path, server_file_id, server_version, local_mtime, local_size, local_content_hash, chunk_hashes, status, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			server_file_id = excluded.server_file_id,
			server_version = excluded.server_version,
			local_mtime = excluded.local_mtime,
			local_size = excluded.local_size,
			local_content_hash = excluded.local_content_hash,
			chunk_hashes = excluded.chunk_hashes,
			status = excluded.status,
			last_synced_at = excluded.last_synced_at`,
		e.Path, e.ServerFileID, e.ServerVersion, e.LocalMtime, e.LocalSize, e.LocalContentHash,
		strings.Join(e.ChunkHashes, chunkHashSep), string(e.Status), e.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("localstate: upsert %q: %w", e.Path, err)
	}
	return nil
}

// Delete removes path's tracked entry entirely (used once a DELETED row has
// been confirmed against the server, not for marking a pending delete).
func (s *Store) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM file_state WHERE path = ?`, path); err != nil {
		return fmt.Errorf("localstate: delete %q: %w", path, err)
	}
	_, err := s.db.Exec(`DELETE FROM upload_progress WHERE path = ?`, path)
	return err
}

// MarkSynced records a successful sync against the server's view.
func (s *Store) MarkSynced(path string, serverFileID, serverVersion int64, chunkHashes []string, localMtime time.Time, localSize int64) error {
	now := time.Now()
	return s.Upsert(Entry{
		Path:          path,
		ServerFileID:  serverFileID,
		ServerVersion: serverVersion,
		LocalMtime:    localMtime,
		LocalSize:     localSize,
		ChunkHashes:   chunkHashes,
		Status:        StatusSynced,
		LastSyncedAt:  &now,
	})
}

func (s *Store) setStatus(path string, status Status) error {
	n, err := func() (int64, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		res, err := s.db.Exec(`UPDATE file_state SET status = ? WHERE path = ?`, string(status), path)
		if err != nil {
			return 0, fmt.Errorf("localstate: set status %q: %w", path, err)
		}
		return res.RowsAffected()
	}()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.Upsert(Entry{Path: path, Status: status})
	}
	return nil
}

func (s *Store) MarkModified(path string) error { return s.setStatus(path, StatusModified) }
func (s *Store) MarkDeleted(path string) error  { return s.setStatus(path, StatusDeleted) }
func (s *Store) MarkConflict(path string) error { return s.setStatus(path, StatusConflict) }
func (s *Store) MarkNew(path string) error      { return s.setStatus(path, StatusNew) }

// ListByStatus returns every tracked path currently in the given status.
func (s *Store) ListByStatus(status Status) ([]*Entry, error) {
	rows, err := s.db.Query(`SELECT path, server_file_id, server_version, local_mtime, local_size,
		local_content_hash, chunk_hashes, status, last_synced_at FROM file_state WHERE status = ? ORDER BY path`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var mtime, lastSynced sql.NullTime
	var chunks string
	var status string
	if err := row.Scan(&e.Path, &e.ServerFileID, &e.ServerVersion, &mtime, &e.LocalSize,
		&e.LocalContentHash, &chunks, &status, &lastSynced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Status = Status(status)
	if mtime.Valid {
		e.LocalMtime = mtime.Time
	}
	if lastSynced.Valid {
		e.LastSyncedAt = &lastSynced.Time
	}
	if chunks != "" {
		e.ChunkHashes = strings.Split(chunks, chunkHashSep)
	}
	return &e, nil
}
