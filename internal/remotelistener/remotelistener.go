// Package remotelistener implements the client's persistent WebSocket
// subscription to the server's notification hub (C9): gorilla/websocket
// dialing /ws/client/{token}, reconnect with exponential backoff, and a
// heartbeat. No teacher analogue exists for the client side of a
// WebSocket subscription (the teacher has no WebSocket code at all); the
// dial/reconnect loop is written directly against gorilla/websocket's
// documented client usage, the same library already grounded for the
// server side in internal/hub.
package remotelistener

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncagent/syncagent/internal/observability"
	"github.com/syncagent/syncagent/internal/scanner"
)

const heartbeatInterval = 15 * time.Second

// Listener maintains a persistent subscription, reconnecting on failure
// and emitting scanner.Events for every accepted inbound message.
type Listener struct {
	serverURL string
	token     string
	scanner   *scanner.Scanner
	logger    *observability.Logger

	events chan scanner.Event

	connected atomic.Bool
	backoff   *Backoff

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a Listener. serverURL is the REST base URL (e.g.
// "https://host:8443"); the WebSocket URL is derived from it.
func New(serverURL, token string, sc *scanner.Scanner, logger *observability.Logger) *Listener {
	return &Listener{
		serverURL: serverURL,
		token:     token,
		scanner:   sc,
		logger:    logger,
		events:    make(chan scanner.Event, 256),
		backoff:   NewBackoff(time.Second, 60*time.Second),
	}
}

func (l *Listener) Events() <-chan scanner.Event { return l.events }

func (l *Listener) IsConnected() bool { return l.connected.Load() }

// Run dials and redials until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	defer close(l.events)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.runOnce(ctx); err != nil && l.logger != nil {
			l.logger.Warn("remote listener disconnected: " + err.Error())
		}
		l.connected.Store(false)

		wait := l.backoff.Next()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (l *Listener) runOnce(ctx context.Context) error {
	wsURL := wsURLFor(l.serverURL, l.token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer conn.Close()

	l.connected.Store(true)
	l.backoff.Reset()

	if l.scanner != nil {
		catchup, err := l.scanner.RemoteScan(ctx)
		if err != nil && l.logger != nil {
			l.logger.Warn("catch-up remote scan failed after reconnect: " + err.Error())
		}
		for _, ev := range catchup {
			select {
			case l.events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go l.heartbeatLoop(conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		l.handleMessage(data)
	}
}

func (l *Listener) heartbeatLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			err := conn.WriteJSON(map[string]string{"type": "heartbeat"})
			l.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func wsURLFor(serverURL, token string) string {
	u := serverURL
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimSuffix(u, "/") + "/ws/client/" + token
}
