// Package hub implements the server's status/notification hub (C5): a
// WebSocket fan-out that pushes file-change events to connected clients
// and status snapshots to connected admin dashboards. The send side
// mirrors the teacher's EventPublisher — a non-blocking publish that drops
// on a full buffer rather than stalling on a slow consumer — generalized
// from an in-process pub/sub to real WebSocket connections.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ChangeAction mirrors metadatastore.ChangeAction for the wire protocol,
// kept as its own type so this package doesn't import metadatastore.
type ChangeAction string

const (
	ActionCreated ChangeAction = "CREATED"
	ActionUpdated ChangeAction = "UPDATED"
	ActionDeleted ChangeAction = "DELETED"
)

// FileChangeMessage is pushed to every connected client except the one
// that caused the change.
type FileChangeMessage struct {
	Type      string       `json:"type"`
	Action    ChangeAction `json:"action"`
	Path      string       `json:"path"`
	Timestamp time.Time    `json:"timestamp"`
}

// StatusUpdate is reported by a client socket to the server.
type StatusUpdate struct {
	Type               string  `json:"type"`
	State              string  `json:"state"`
	FilesPending       int     `json:"files_pending"`
	UploadsInProgress  int     `json:"uploads_in_progress"`
	DownloadsInProgress int    `json:"downloads_in_progress"`
	UploadSpeed        float64 `json:"upload_speed"`
	DownloadSpeed      float64 `json:"download_speed"`
}

// MachineStatus is the hub's in-memory view of one client's last reported
// status, broadcast to dashboards.
type MachineStatus struct {
	MachineID int64        `json:"machine_id"`
	Name      string       `json:"name"`
	Online    bool         `json:"online"`
	Status    StatusUpdate `json:"status"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// clientConn is a live client socket plus its last known status.
type clientConn struct {
	machineID int64
	name      string
	conn      *websocket.Conn
	send      chan []byte
	status    StatusUpdate
}

// dashboardConn is a live admin-dashboard socket.
type dashboardConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// ID returns the dashboard connection's registry key, used by callers to
// unregister it on disconnect.
func (d *dashboardConn) ID() string {
	return d.id
}

// Hub tracks live client and dashboard sockets, and fans out file-change
// and status messages between them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[int64]*clientConn
	dashboards map[string]*dashboardConn
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{
		clients:    make(map[int64]*clientConn),
		dashboards: make(map[string]*dashboardConn),
	}
}

// ActiveClientCount returns the number of currently connected client
// sockets, used by the health check.
func (h *Hub) ActiveClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ActiveDashboardCount returns the number of currently connected dashboard
// sockets.
func (h *Hub) ActiveDashboardCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.dashboards)
}

// Snapshot returns the current status of every known client.
func (h *Hub) Snapshot() []MachineStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]MachineStatus, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, MachineStatus{MachineID: c.machineID, Name: c.name, Online: true, Status: c.status, UpdatedAt: time.Now()})
	}
	return out
}

func newDashboardID() string {
	return uuid.NewString()
}
