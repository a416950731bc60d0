package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const sendBufferSize = 32

// RegisterClient adopts a new client socket for machineID, closing and
// replacing any previous socket for the same machine. It returns the
// registered connection; the caller owns the read loop.
func (h *Hub) RegisterClient(machineID int64, name string, conn *websocket.Conn) *clientConn {
	c := &clientConn{machineID: machineID, name: name, conn: conn, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	if old, ok := h.clients[machineID]; ok {
		close(old.send)
		_ = old.conn.Close()
	}
	h.clients[machineID] = c
	h.mu.Unlock()

	go c.writePump()
	return c
}

// UnregisterClient drops machineID's socket, marking it offline.
func (h *Hub) UnregisterClient(machineID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[machineID]; ok {
		close(c.send)
		delete(h.clients, machineID)
	}
}

// RegisterDashboard adopts a new dashboard socket and sends it an initial
// full-status snapshot.
func (h *Hub) RegisterDashboard(conn *websocket.Conn) *dashboardConn {
	d := &dashboardConn{id: newDashboardID(), conn: conn, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	h.dashboards[d.id] = d
	h.mu.Unlock()

	go d.writePump()

	snapshot := h.Snapshot()
	msg, err := json.Marshal(map[string]any{"type": "all_status", "machines": snapshot})
	if err == nil {
		d.enqueue(msg)
	}
	return d
}

// UnregisterDashboard drops a dashboard socket.
func (h *Hub) UnregisterDashboard(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.dashboards[id]; ok {
		close(d.send)
		delete(h.dashboards, id)
	}
}

// RecordStatus updates a client's last-known status and fans it out to
// every connected dashboard as a status_update message.
func (h *Hub) RecordStatus(machineID int64, status StatusUpdate) {
	h.mu.Lock()
	c, ok := h.clients[machineID]
	if ok {
		c.status = status
	}
	name := ""
	if ok {
		name = c.name
	}
	dashboards := make([]*dashboardConn, 0, len(h.dashboards))
	for _, d := range h.dashboards {
		dashboards = append(dashboards, d)
	}
	h.mu.Unlock()

	msg, err := json.Marshal(map[string]any{
		"type": "status_update",
		"machine": MachineStatus{MachineID: machineID, Name: name, Online: true, Status: status, UpdatedAt: time.Now()},
	})
	if err != nil {
		return
	}
	for _, d := range dashboards {
		d.enqueue(msg)
	}
}

// BroadcastFileChange pushes a file_change message to every connected
// client except originMachineID, the machine that caused the change. It
// must only be called after the metadata store's mutating transaction has
// committed (§4.5): on failure nothing is emitted.
func (h *Hub) BroadcastFileChange(action ChangeAction, path string, originMachineID int64) {
	msg, err := json.Marshal(FileChangeMessage{Type: "file_change", Action: action, Path: path, Timestamp: time.Now()})
	if err != nil {
		return
	}

	h.mu.RLock()
	targets := make([]*clientConn, 0, len(h.clients))
	for machineID, c := range h.clients {
		if machineID == originMachineID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// enqueue performs a non-blocking send, dropping the message if the
// client's buffer is full rather than stalling the broadcaster on one
// slow consumer.
func (c *clientConn) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func (d *dashboardConn) enqueue(msg []byte) {
	select {
	case d.send <- msg:
	default:
	}
}

func (c *clientConn) writePump() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.Close()
}

func (d *dashboardConn) writePump() {
	for msg := range d.send {
		if err := d.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = d.conn.Close()
}
