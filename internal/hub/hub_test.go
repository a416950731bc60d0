package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialClient(t *testing.T, h *Hub, server *httptest.Server, machineID int64, name string) *websocket.Conn {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		h.RegisterClient(machineID, name, conn)
	})
	server.Config.Handler = mux

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestBroadcastFileChange_ExcludesOriginMachine(t *testing.T) {
	h := New()
	server := httptest.NewServer(nil)
	defer server.Close()

	connA := dialClient(t, h, server, 1, "machine-a")
	defer connA.Close()

	h.BroadcastFileChange(ActionCreated, "a.txt", 1)

	connA.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := connA.ReadMessage()
	require.Error(t, err, "origin machine must not receive its own change notification")
}

func TestBroadcastFileChange_DeliversToOtherMachines(t *testing.T) {
	h := New()
	server := httptest.NewServer(nil)
	defer server.Close()

	connB := dialClient(t, h, server, 2, "machine-b")
	defer connB.Close()

	h.BroadcastFileChange(ActionUpdated, "b.txt", 1)

	connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := connB.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), "b.txt")
	require.Contains(t, string(msg), "UPDATED")
}

func TestRegisterClient_ReplacesPreviousSocketForSameMachine(t *testing.T) {
	h := New()
	server := httptest.NewServer(nil)
	defer server.Close()

	first := dialClient(t, h, server, 1, "machine-a")
	defer first.Close()
	require.Equal(t, 1, h.ActiveClientCount())

	second := dialClient(t, h, server, 1, "machine-a")
	defer second.Close()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, h.ActiveClientCount(), "replacing a machine's socket must not leak an entry")
}
