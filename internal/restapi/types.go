package restapi

import (
	"time"

	"github.com/syncagent/syncagent/internal/metadatastore"
)

// MachineJSON is the wire representation of a Machine.
type MachineJSON struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Platform  string     `json:"platform"`
	CreatedAt time.Time  `json:"created_at"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

func toMachineJSON(m *metadatastore.Machine) MachineJSON {
	return MachineJSON{ID: m.ID, Name: m.Name, Platform: m.Platform, CreatedAt: m.CreatedAt, LastSeen: m.LastSeen}
}

// FileJSON is the wire representation of a FileRecord.
type FileJSON struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	Size        int64      `json:"size"`
	ContentHash string     `json:"content_hash"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

func toFileJSON(f *metadatastore.FileRecord) FileJSON {
	return FileJSON{
		ID: f.ID, Path: f.Path, Size: f.Size, ContentHash: f.ContentHash, Version: f.Version,
		CreatedAt: f.CreatedAt, UpdatedAt: f.UpdatedAt, DeletedAt: f.DeletedAt,
	}
}

type registerMachineRequest struct {
	Name       string `json:"name"`
	Platform   string `json:"platform"`
	Invitation string `json:"invitation_token"`
}

type registerMachineResponse struct {
	Token   string      `json:"token"`
	Machine MachineJSON `json:"machine"`
}

type createFileRequest struct {
	Path        string   `json:"path"`
	Size        int64    `json:"size"`
	ContentHash string   `json:"content_hash"`
	Chunks      []string `json:"chunks"`
}

type updateFileRequest struct {
	Size          int64    `json:"size"`
	ContentHash   string   `json:"content_hash"`
	ParentVersion int      `json:"parent_version"`
	Chunks        []string `json:"chunks"`
}

type changesResponse struct {
	Changes        []changeJSON `json:"changes"`
	HasMore        bool         `json:"has_more"`
	LatestTimestamp time.Time   `json:"latest_timestamp"`
}

type changeJSON struct {
	ID        int64     `json:"id"`
	FilePath  string    `json:"file_path"`
	Action    string    `json:"action"`
	Version   int       `json:"version"`
	MachineID *int64    `json:"machine_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func toChangeJSON(e *metadatastore.ChangeLogEntry) changeJSON {
	return changeJSON{ID: e.ID, FilePath: e.FilePath, Action: string(e.Action), Version: e.Version,
		MachineID: e.MachineID, Timestamp: e.Timestamp}
}
