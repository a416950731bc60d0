package metadatastore

import (
	"database/sql"
	"time"
)

// GetChanges returns change-log entries after sinceTimestamp, in log
// order, along with whether more entries exist beyond limit and the
// timestamp of the last entry returned (the client's new cursor value).
func (s *Store) GetChanges(since time.Time, limit int) (entries []*ChangeLogEntry, hasMore bool, latest time.Time, err error) {
	rows, err := s.db.Query(`SELECT id, file_path, action, version, machine_id, timestamp
		FROM change_log WHERE timestamp > ? ORDER BY timestamp ASC, id ASC LIMIT ?`, since, limit+1)
	if err != nil {
		return nil, false, since, err
	}
	defer rows.Close()

	for rows.Next() {
		var e ChangeLogEntry
		var machineID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.FilePath, &e.Action, &e.Version, &machineID, &e.Timestamp); err != nil {
			return nil, false, since, err
		}
		if machineID.Valid {
			e.MachineID = &machineID.Int64
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, since, err
	}

	latest = since
	if len(entries) > limit {
		hasMore = true
		entries = entries[:limit]
	}
	if len(entries) > 0 {
		latest = entries[len(entries)-1].Timestamp
	}
	return entries, hasMore, latest, nil
}

// LatestChangeTimestamp returns the timestamp of the most recent change-log
// entry, or the zero time if the log is empty.
func (s *Store) LatestChangeTimestamp() (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRow(`SELECT timestamp FROM change_log ORDER BY timestamp DESC, id DESC LIMIT 1`).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return ts, err
}

// ListTrash returns all soft-deleted file records.
func (s *Store) ListTrash() ([]*FileRecord, error) {
	rows, err := s.db.Query(`SELECT id, path, size, content_hash, version, created_at, updated_at, updated_by, deleted_at
		FROM files WHERE deleted_at IS NOT NULL ORDER BY deleted_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FileRecord
	for rows.Next() {
		var f FileRecord
		var updatedBy sql.NullInt64
		var deletedAt sql.NullTime
		if err := rows.Scan(&f.ID, &f.Path, &f.Size, &f.ContentHash, &f.Version, &f.CreatedAt, &f.UpdatedAt, &updatedBy, &deletedAt); err != nil {
			return nil, err
		}
		if updatedBy.Valid {
			f.UpdatedBy = updatedBy.Int64
		}
		if deletedAt.Valid {
			f.DeletedAt = &deletedAt.Time
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// ListFiles returns all live (non-deleted) file records, used by the
// client's initial full sync and by the scanner's list_files fallback.
func (s *Store) ListFiles() ([]*FileRecord, error) {
	rows, err := s.db.Query(`SELECT id, path, size, content_hash, version, created_at, updated_at, updated_by
		FROM files WHERE deleted_at IS NULL ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FileRecord
	for rows.Next() {
		var f FileRecord
		var updatedBy sql.NullInt64
		if err := rows.Scan(&f.ID, &f.Path, &f.Size, &f.ContentHash, &f.Version, &f.CreatedAt, &f.UpdatedAt, &updatedBy); err != nil {
			return nil, err
		}
		if updatedBy.Valid {
			f.UpdatedBy = updatedBy.Int64
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
