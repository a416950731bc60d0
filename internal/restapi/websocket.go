package restapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/syncagent/syncagent/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const closeInvalidToken = 4001

// handleClientSocket upgrades /ws/client/{token}, authenticates the token
// in the path (this route sits outside the auth middleware; WebSocket
// clients carry the token in the URL since browsers/OS WebSocket APIs
// can't set custom headers on the handshake),
// and runs the read loop until the socket closes.
func (s *Server) handleClientSocket(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["token"]
	_, machine, err := s.meta.ValidateToken(hashToken(raw))
	if err != nil || machine == nil {
		conn, upErr := upgrader.Upgrade(w, r, nil)
		if upErr == nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeInvalidToken, "invalid token"), time.Now().Add(time.Second))
			_ = conn.Close()
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.hub.RegisterClient(machine.ID, machine.Name, conn)
	defer s.hub.UnregisterClient(machine.ID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleClientFrame(machine.ID, data)
	}
}

func (s *Server) handleClientFrame(machineID int64, data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}
	switch envelope.Type {
	case "status":
		var status hub.StatusUpdate
		if err := json.Unmarshal(data, &status); err == nil {
			s.hub.RecordStatus(machineID, status)
		}
	case "heartbeat":
		// liveness only; RecordStatus isn't updated on a bare heartbeat.
	}
}

// handleDashboardSocket upgrades /ws/dashboard. No auth beyond the
// out-of-band HTTP admin session that fronts it (§6.2).
func (s *Server) handleDashboardSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	d := s.hub.RegisterDashboard(conn)
	defer s.hub.UnregisterDashboard(d.ID())

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
