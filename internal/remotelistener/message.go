package remotelistener

import (
	"encoding/json"

	"github.com/syncagent/syncagent/internal/scanner"
)

type fileChangeMessage struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Path   string `json:"path"`
}

// handleMessage converts one inbound hub message into a scanner.Event,
// skipping paths with a local modification pending (§4.9: those are
// reconciled by the conflict protocol on upload instead).
func (l *Listener) handleMessage(data []byte) {
	var msg fileChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "file_change" {
		return
	}

	if l.scanner != nil {
		if pending, ok := l.scanner.LocalChangePending(msg.Path); ok && pending {
			return
		}
	}

	var kind scanner.EventKind
	switch msg.Action {
	case "CREATED":
		kind = scanner.RemoteCreated
	case "UPDATED":
		kind = scanner.RemoteUpdated
	case "DELETED":
		kind = scanner.RemoteDeleted
	default:
		return
	}

	select {
	case l.events <- scanner.Event{Kind: kind, Path: msg.Path}:
	default:
	}
}
