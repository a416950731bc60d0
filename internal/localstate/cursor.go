package localstate

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetCursor returns the timestamp of the last incrementally-synced change,
// or the zero time if the client has never completed a remote scan.
func (s *Store) GetCursor() (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRow(`SELECT timestamp FROM sync_cursor WHERE id = 1`).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("localstate: get cursor: %w", err)
	}
	return ts, nil
}

// SetCursor advances the remote-scan cursor.
func (s *Store) SetCursor(ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO sync_cursor (id, timestamp) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET timestamp = excluded.timestamp`, ts)
	if err != nil {
		return fmt.Errorf("localstate: set cursor: %w", err)
	}
	return nil
}
