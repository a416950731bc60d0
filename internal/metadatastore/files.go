package metadatastore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateFile writes a new file row, its chunk list, and a CREATED log entry
// in one transaction. Fails with ErrPathExists if a non-deleted file
// already occupies path.
func (s *Store) CreateFile(path string, size int64, contentHash string, chunkHashes []string, machineID int64) (*FileRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM files WHERE path = ? AND deleted_at IS NULL`, path).Scan(&existing); err != nil {
		return nil, fmt.Errorf("metadatastore: check path existence: %w", err)
	}
	if existing > 0 {
		return nil, ErrPathExists
	}

	now := time.Now()
	res, err := tx.Exec(`INSERT INTO files (path, size, content_hash, version, created_at, updated_at, updated_by)
		VALUES (?, ?, ?, 1, ?, ?, ?)`, path, size, contentHash, now, now, machineID)
	if err != nil {
		return nil, fmt.Errorf("metadatastore: insert file: %w", err)
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := insertChunks(tx, fileID, chunkHashes); err != nil {
		return nil, err
	}
	if err := appendChangeLog(tx, path, ActionCreated, 1, machineID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("metadatastore: commit create_file: %w", err)
	}

	return &FileRecord{ID: fileID, Path: path, Size: size, ContentHash: contentHash, Version: 1,
		CreatedAt: now, UpdatedAt: now, UpdatedBy: machineID}, nil
}

// UpdateFile performs an atomic check-and-set: it only succeeds if the
// file's current version equals parentVersion.
func (s *Store) UpdateFile(path string, size int64, contentHash string, parentVersion int, chunkHashes []string, machineID int64) (*FileRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var fileID int64
	var currentVersion int
	err = tx.QueryRow(`SELECT id, version FROM files WHERE path = ? AND deleted_at IS NULL`, path).Scan(&fileID, &currentVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("metadatastore: lookup file for update: %w", err)
	}
	if currentVersion != parentVersion {
		return nil, ErrVersionConflict
	}

	newVersion := parentVersion + 1
	now := time.Now()
	if _, err := tx.Exec(`UPDATE files SET size = ?, content_hash = ?, version = ?, updated_at = ?, updated_by = ?
		WHERE id = ?`, size, contentHash, newVersion, now, machineID, fileID); err != nil {
		return nil, fmt.Errorf("metadatastore: update file: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		return nil, fmt.Errorf("metadatastore: clear old chunks: %w", err)
	}
	if err := insertChunks(tx, fileID, chunkHashes); err != nil {
		return nil, err
	}
	if err := appendChangeLog(tx, path, ActionUpdated, newVersion, machineID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("metadatastore: commit update_file: %w", err)
	}

	return &FileRecord{ID: fileID, Path: path, Size: size, ContentHash: contentHash, Version: newVersion,
		UpdatedAt: now, UpdatedBy: machineID}, nil
}

// DeleteFile sets deleted_at and appends a DELETED log entry. The path
// becomes available for a fresh create; the trashed record and its chunks
// are retained until PurgeTrash.
func (s *Store) DeleteFile(path string, machineID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var fileID, version int
	err = tx.QueryRow(`SELECT id, version FROM files WHERE path = ? AND deleted_at IS NULL`, path).Scan(&fileID, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrFileNotFound
	}
	if err != nil {
		return fmt.Errorf("metadatastore: lookup file for delete: %w", err)
	}

	now := time.Now()
	if _, err := tx.Exec(`UPDATE files SET deleted_at = ?, updated_at = ?, updated_by = ? WHERE id = ?`,
		now, now, machineID, fileID); err != nil {
		return fmt.Errorf("metadatastore: soft-delete file: %w", err)
	}
	if err := appendChangeLog(tx, path, ActionDeleted, version, machineID, now); err != nil {
		return err
	}

	return tx.Commit()
}

// RestoreFile clears deleted_at on the most recently trashed record at
// path, bumps its version, and appends a CREATED log entry. Recreating a
// new file at a trashed path (CreateFile) is a distinct, explicit
// operation — trash never auto-resurrects.
func (s *Store) RestoreFile(path string) (*FileRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var fileID, version int
	err = tx.QueryRow(`SELECT id, version FROM files WHERE path = ? AND deleted_at IS NOT NULL
		ORDER BY deleted_at DESC LIMIT 1`, path).Scan(&fileID, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("metadatastore: lookup trashed file: %w", err)
	}

	newVersion := version + 1
	now := time.Now()
	if _, err := tx.Exec(`UPDATE files SET deleted_at = NULL, version = ?, updated_at = ? WHERE id = ?`,
		newVersion, now, fileID); err != nil {
		return nil, fmt.Errorf("metadatastore: restore file: %w", err)
	}
	if err := appendChangeLog(tx, path, ActionCreated, newVersion, 0, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetFile(path)
}

// GetFile returns the live (non-deleted) file record at path.
func (s *Store) GetFile(path string) (*FileRecord, error) {
	var f FileRecord
	var deletedAt sql.NullTime
	var updatedBy sql.NullInt64
	err := s.db.QueryRow(`SELECT id, path, size, content_hash, version, created_at, updated_at, updated_by, deleted_at
		FROM files WHERE path = ? AND deleted_at IS NULL`, path).
		Scan(&f.ID, &f.Path, &f.Size, &f.ContentHash, &f.Version, &f.CreatedAt, &f.UpdatedAt, &updatedBy, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	if updatedBy.Valid {
		f.UpdatedBy = updatedBy.Int64
	}
	if deletedAt.Valid {
		f.DeletedAt = &deletedAt.Time
	}
	return &f, nil
}

// ChunksFor returns the ordered chunk hash list for fileID.
func (s *Store) ChunksFor(fileID int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT chunk_hash FROM chunks WHERE file_id = ? ORDER BY chunk_index`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// ChunkReferenced reports whether any file (deleted or not) still
// references chunkHash, used by the chunk-store GC sweep.
func (s *Store) ChunkReferenced(chunkHash string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE chunk_hash = ?`, chunkHash).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// PurgeTrash permanently removes file rows (and their chunk rows, via
// cascade) whose deleted_at is older than cutoff.
func (s *Store) PurgeTrash(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM files WHERE deleted_at IS NOT NULL AND deleted_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("metadatastore: purge trash: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func insertChunks(tx *sql.Tx, fileID int64, chunkHashes []string) error {
	stmt, err := tx.Prepare(`INSERT INTO chunks (file_id, chunk_index, chunk_hash) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("metadatastore: prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, hash := range chunkHashes {
		if _, err := stmt.Exec(fileID, i, hash); err != nil {
			return fmt.Errorf("metadatastore: insert chunk %d: %w", i, err)
		}
	}
	return nil
}

func appendChangeLog(tx *sql.Tx, path string, action ChangeAction, version int, machineID int64, ts time.Time) error {
	var machineArg any
	if machineID != 0 {
		machineArg = machineID
	}
	if _, err := tx.Exec(`INSERT INTO change_log (file_path, action, version, machine_id, timestamp)
		VALUES (?, ?, ?, ?, ?)`, path, string(action), version, machineArg, ts); err != nil {
		return fmt.Errorf("metadatastore: append change log: %w", err)
	}
	return nil
}
