package localstate

import "fmt"

// StartUpload records the full set of chunk hashes an upload must cover,
// clearing any stale progress row for path first so a restarted upload with
// a different chunk set doesn't inherit unrelated "uploaded" markers.
func (s *Store) StartUpload(path string, chunkHashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM upload_progress WHERE path = ?`, path); err != nil {
		return err
	}
	for _, h := range chunkHashes {
		if _, err := tx.Exec(`INSERT INTO upload_progress (path, chunk_hash, uploaded) VALUES (?, ?, 0)`, path, h); err != nil {
			return fmt.Errorf("localstate: start upload %q: %w", path, err)
		}
	}
	return tx.Commit()
}

// MarkChunkUploaded records that one chunk of path's in-flight upload has
// been acknowledged by the server.
func (s *Store) MarkChunkUploaded(path, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE upload_progress SET uploaded = 1 WHERE path = ? AND chunk_hash = ?`, path, hash)
	if err != nil {
		return fmt.Errorf("localstate: mark chunk uploaded %q/%s: %w", path, hash, err)
	}
	return nil
}

// Remaining returns the chunk hashes of path's in-flight upload that have
// not yet been acknowledged, surviving a client restart.
func (s *Store) Remaining(path string) ([]string, error) {
	rows, err := s.db.Query(`SELECT chunk_hash FROM upload_progress WHERE path = ? AND uploaded = 0`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ExistingChunkHashes returns the full set of chunk hashes currently
// tracked in path's upload-progress record, mapped to whether each has
// already been acknowledged. Callers use this to detect whether a resumed
// upload's chunk set still matches what was recorded before a restart
// (§4.13: "if a record with identical chunk_hashes exists... resume").
func (s *Store) ExistingChunkHashes(path string) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT chunk_hash, uploaded FROM upload_progress WHERE path = ?`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var hash string
		var uploaded bool
		if err := rows.Scan(&hash, &uploaded); err != nil {
			return nil, err
		}
		out[hash] = uploaded
	}
	return out, rows.Err()
}

// ClearUpload drops all progress rows for path, called once the upload
// completes or is abandoned.
func (s *Store) ClearUpload(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM upload_progress WHERE path = ?`, path)
	return err
}
