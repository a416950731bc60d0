package metadatastore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RegisterMachine consumes a single-use invitation and creates a new
// machine plus its first bearer token in one transaction.
func (s *Store) RegisterMachine(name, platform, invitationHash, tokenHash string) (*Machine, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("metadatastore: begin register_machine: %w", err)
	}
	defer tx.Rollback()

	var used int
	var expiresAt sql.NullTime
	err = tx.QueryRow(`SELECT used, expires_at FROM invitations WHERE token_hash = ?`, invitationHash).
		Scan(&used, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("metadatastore: lookup invitation: %w", err)
	}
	if used != 0 {
		return nil, ErrInvalidToken
	}
	if expiresAt.Valid && expiresAt.Time.Before(time.Now()) {
		return nil, ErrInvalidToken
	}

	var existing int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM machines WHERE name = ?`, name).Scan(&existing); err != nil {
		return nil, fmt.Errorf("metadatastore: check name uniqueness: %w", err)
	}
	if existing > 0 {
		return nil, ErrDuplicateName
	}

	now := time.Now()
	res, err := tx.Exec(`INSERT INTO machines (name, platform, created_at) VALUES (?, ?, ?)`, name, platform, now)
	if err != nil {
		return nil, fmt.Errorf("metadatastore: insert machine: %w", err)
	}
	machineID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`INSERT INTO tokens (machine_id, token_hash, created_at) VALUES (?, ?, ?)`,
		machineID, tokenHash, now); err != nil {
		return nil, fmt.Errorf("metadatastore: insert token: %w", err)
	}

	if _, err := tx.Exec(`UPDATE invitations SET used = 1 WHERE token_hash = ?`, invitationHash); err != nil {
		return nil, fmt.Errorf("metadatastore: consume invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("metadatastore: commit register_machine: %w", err)
	}

	return &Machine{ID: machineID, Name: name, Platform: platform, CreatedAt: now}, nil
}

// CreateInvitation creates a single-use invitation token identified by its
// hash. ttl of zero means no expiry.
func (s *Store) CreateInvitation(tokenHash string, ttl time.Duration) error {
	now := time.Now()
	var expiresAt any
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	_, err := s.db.Exec(`INSERT INTO invitations (token_hash, created_at, expires_at) VALUES (?, ?, ?)`,
		tokenHash, now, expiresAt)
	if err != nil {
		return fmt.Errorf("metadatastore: create invitation: %w", err)
	}
	return nil
}

// ValidateToken checks a bearer token's hash against the tokens table and
// touches the owning machine's last_seen on success.
func (s *Store) ValidateToken(tokenHash string) (*Token, *Machine, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var t Token
	var expiresAt sql.NullTime
	err = tx.QueryRow(`SELECT id, machine_id, token_hash, created_at, expires_at, revoked
		FROM tokens WHERE token_hash = ?`, tokenHash).
		Scan(&t.ID, &t.MachineID, &t.TokenHash, &t.CreatedAt, &expiresAt, &t.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("metadatastore: lookup token: %w", err)
	}
	if t.Revoked {
		return nil, nil, nil
	}
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
		if expiresAt.Time.Before(time.Now()) {
			return nil, nil, nil
		}
	}

	now := time.Now()
	if _, err := tx.Exec(`UPDATE machines SET last_seen = ? WHERE id = ?`, now, t.MachineID); err != nil {
		return nil, nil, fmt.Errorf("metadatastore: touch last_seen: %w", err)
	}

	m, err := scanMachine(tx.QueryRow(`SELECT id, name, platform, created_at, last_seen, hidden FROM machines WHERE id = ?`, t.MachineID))
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &t, m, nil
}

// EnsureServerMachine returns the server's reserved, hidden machine,
// creating it only if it does not exist yet, so repeated calls are safe.
func (s *Store) EnsureServerMachine() (*Machine, error) {
	row := s.db.QueryRow(`SELECT id, name, platform, created_at, last_seen, hidden FROM machines WHERE name = ?`, ReservedMachineName)
	m, err := scanMachine(row)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now()
	res, err := s.db.Exec(`INSERT INTO machines (name, platform, created_at, hidden) VALUES (?, ?, ?, 1)`,
		ReservedMachineName, "server", now)
	if err != nil {
		return nil, fmt.Errorf("metadatastore: create reserved machine: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Machine{ID: id, Name: ReservedMachineName, Platform: "server", CreatedAt: now, Hidden: true}, nil
}

// ListMachines returns all non-hidden machines.
func (s *Store) ListMachines() ([]*Machine, error) {
	rows, err := s.db.Query(`SELECT id, name, platform, created_at, last_seen, hidden FROM machines WHERE hidden = 0 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMachine removes a machine and its tokens. The reserved server
// machine cannot be deleted.
func (s *Store) DeleteMachine(machineID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var hidden bool
	if err := tx.QueryRow(`SELECT hidden FROM machines WHERE id = ?`, machineID).Scan(&hidden); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMachineNotFound
		}
		return err
	}
	if hidden {
		return fmt.Errorf("metadatastore: cannot delete reserved machine")
	}

	if _, err := tx.Exec(`DELETE FROM tokens WHERE machine_id = ?`, machineID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM machines WHERE id = ?`, machineID); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMachine(row rowScanner) (*Machine, error) {
	var m Machine
	var lastSeen sql.NullTime
	if err := row.Scan(&m.ID, &m.Name, &m.Platform, &m.CreatedAt, &lastSeen, &m.Hidden); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		m.LastSeen = &lastSeen.Time
	}
	return &m, nil
}
