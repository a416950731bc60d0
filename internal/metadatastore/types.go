package metadatastore

import "time"

// Machine is a registered client, or the server's own reserved machine.
type Machine struct {
	ID        int64
	Name      string
	Platform  string
	CreatedAt time.Time
	LastSeen  *time.Time
	Hidden    bool
}

// Token is a bearer credential belonging to a machine. The plaintext token
// is returned only at creation time; only its hash is ever persisted.
type Token struct {
	ID        int64
	MachineID int64
	TokenHash string
	CreatedAt time.Time
	ExpiresAt *time.Time
	Revoked   bool
}

// ChangeAction is the kind of mutation a change-log entry records.
type ChangeAction string

const (
	ActionCreated ChangeAction = "CREATED"
	ActionUpdated ChangeAction = "UPDATED"
	ActionDeleted ChangeAction = "DELETED"
)

// FileRecord is one logical file path tracked by the server.
type FileRecord struct {
	ID          int64
	Path        string
	Size        int64
	ContentHash string
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	UpdatedBy   int64
	DeletedAt   *time.Time
}

// ChunkRef is one (file, index) -> chunk_hash entry.
type ChunkRef struct {
	FileID     int64
	ChunkIndex int
	ChunkHash  string
}

// ChangeLogEntry is one append-only change-log row.
type ChangeLogEntry struct {
	ID        int64
	FilePath  string
	Action    ChangeAction
	Version   int
	MachineID *int64
	Timestamp time.Time
}
