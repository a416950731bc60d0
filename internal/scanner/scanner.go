// Package scanner implements the client's periodic local and remote scans
// (C7): a local filesystem walk diffed against localstate, and a remote
// change-log pull (falling back to a full file listing when no cursor is
// available yet). No direct teacher analogue exists — the teacher's sync
// unit is a manually triggered transfer, not a polling scanner — so this
// is written against the serverclient/localstate/observability packages
// already grounded elsewhere, using the plain stdlib filepath.WalkDir the
// rest of the pack uses for directory traversal.
package scanner

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/syncagent/syncagent/internal/localstate"
	"github.com/syncagent/syncagent/internal/observability"
	"github.com/syncagent/syncagent/internal/serverclient"
	"github.com/syncagent/syncagent/internal/watcher"
)

// EventKind mirrors the SyncEvent taxonomy extended with the REMOTE_*
// variants §4.7 requires.
type EventKind string

const (
	LocalCreated  EventKind = "LOCAL_CREATED"
	LocalModified EventKind = "LOCAL_MODIFIED"
	LocalDeleted  EventKind = "LOCAL_DELETED"
	RemoteCreated EventKind = "REMOTE_CREATED"
	RemoteUpdated EventKind = "REMOTE_MODIFIED"
	RemoteDeleted EventKind = "REMOTE_DELETED"
)

// Event is one diff result from a scan cycle.
type Event struct {
	Kind EventKind
	Path string
}

// Scanner runs local and remote scan cycles over a sync root.
type Scanner struct {
	root    string
	state   *localstate.Store
	ignore  *watcher.IgnoreSet
	client  *serverclient.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

func New(root string, state *localstate.Store, ignore *watcher.IgnoreSet, client *serverclient.Client,
	logger *observability.Logger, metrics *observability.Metrics) *Scanner {
	return &Scanner{root: root, state: state, ignore: ignore, client: client, logger: logger, metrics: metrics}
}

// LocalScan walks the sync root and diffs every encountered file against
// localstate, per §4.7's rules.
func (s *Scanner) LocalScan() ([]Event, error) {
	if s.logger != nil {
		s.logger.ScanStarted("local")
	}

	seen := make(map[string]bool)
	var events []Event

	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == s.root {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}

		info, infoErr := d.Info()
		if infoErr == nil && info.Mode()&os.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if s.ignore != nil && s.ignore.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		seen[rel] = true
		ev, err := s.diffLocalFile(rel, info)
		if err != nil {
			return err
		}
		if ev != nil {
			events = append(events, *ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	deleted, err := s.findLocalDeletions(seen)
	if err != nil {
		return nil, err
	}
	events = append(events, deleted...)
	return events, nil
}

func (s *Scanner) diffLocalFile(rel string, info os.FileInfo) (*Event, error) {
	entry, err := s.state.Get(rel)
	if err == localstate.ErrNotFound {
		if mErr := s.state.MarkNew(rel); mErr != nil {
			return nil, mErr
		}
		return &Event{Kind: LocalCreated, Path: rel}, nil
	}
	if err != nil {
		return nil, err
	}

	switch entry.Status {
	case localstate.StatusSynced:
		if info.ModTime().After(entry.LocalMtime) || info.Size() != entry.LocalSize {
			if err := s.state.MarkModified(rel); err != nil {
				return nil, err
			}
			return &Event{Kind: LocalModified, Path: rel}, nil
		}
		return nil, nil
	case localstate.StatusNew:
		return &Event{Kind: LocalCreated, Path: rel}, nil
	case localstate.StatusModified:
		return &Event{Kind: LocalModified, Path: rel}, nil
	default:
		return nil, nil
	}
}

// findLocalDeletions reports SYNCED paths present in state but absent from
// the walk as LOCAL_DELETED.
func (s *Scanner) findLocalDeletions(seen map[string]bool) ([]Event, error) {
	synced, err := s.state.ListByStatus(localstate.StatusSynced)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, e := range synced {
		if seen[e.Path] {
			continue
		}
		if err := s.state.MarkDeleted(e.Path); err != nil {
			return nil, err
		}
		events = append(events, Event{Kind: LocalDeleted, Path: e.Path})
	}
	return events, nil
}

// RemoteScan pulls changes since the stored cursor, falling back to a full
// listing when there is no cursor yet or the incremental call fails.
func (s *Scanner) RemoteScan(ctx context.Context) ([]Event, error) {
	if s.logger != nil {
		s.logger.ScanStarted("remote")
	}

	cursor, err := s.state.GetCursor()
	if err != nil {
		return nil, err
	}

	if !cursor.IsZero() {
		events, latest, err := s.incrementalScan(ctx, cursor)
		if err == nil {
			if !latest.IsZero() {
				if err := s.state.SetCursor(latest); err != nil {
					return nil, err
				}
			}
			return events, nil
		}
		if s.logger != nil {
			s.logger.Warn("incremental remote scan failed, falling back to full listing: " + err.Error())
		}
	}

	return s.fallbackFullScan(ctx)
}

func (s *Scanner) incrementalScan(ctx context.Context, cursor time.Time) ([]Event, time.Time, error) {
	var events []Event
	latest := cursor

	for {
		changes, hasMore, newLatest, err := s.client.GetChanges(ctx, latest, 0)
		if err != nil {
			return nil, time.Time{}, err
		}
		if !newLatest.IsZero() {
			latest = newLatest
		}

		for _, c := range changes {
			ev, err := s.diffRemoteChange(c)
			if err != nil {
				return nil, time.Time{}, err
			}
			if ev != nil {
				events = append(events, *ev)
			}
		}
		if !hasMore {
			break
		}
	}
	return events, latest, nil
}

func (s *Scanner) diffRemoteChange(c serverclient.Change) (*Event, error) {
	entry, err := s.state.Get(c.FilePath)
	localPending := err == nil && (entry.Status == localstate.StatusModified ||
		entry.Status == localstate.StatusNew || entry.Status == localstate.StatusConflict)
	if localPending {
		// A local edit is outstanding; the conflict protocol on upload
		// handles reconciliation instead (§4.7).
		return nil, nil
	}

	switch c.Action {
	case "CREATED":
		return &Event{Kind: RemoteCreated, Path: c.FilePath}, nil
	case "UPDATED":
		return &Event{Kind: RemoteUpdated, Path: c.FilePath}, nil
	case "DELETED":
		return &Event{Kind: RemoteDeleted, Path: c.FilePath}, nil
	default:
		return nil, nil
	}
}

// LocalChangePending reports whether path has an outstanding local edit
// that should take priority over an inbound remote-change notification
// (§4.9), and whether the path is tracked at all.
func (s *Scanner) LocalChangePending(path string) (pending bool, tracked bool) {
	entry, err := s.state.Get(path)
	if err != nil {
		return false, false
	}
	switch entry.Status {
	case localstate.StatusModified, localstate.StatusNew, localstate.StatusConflict:
		return true, true
	default:
		return false, true
	}
}

// fallbackFullScan diffs a full server listing against localstate. It
// cannot detect remote deletions (§4.7/§9's known limitation).
func (s *Scanner) fallbackFullScan(ctx context.Context) ([]Event, error) {
	if s.metrics != nil {
		s.metrics.ScannerFallbacks.Inc()
	}
	if s.logger != nil {
		s.logger.Warn("remote scan using list_files fallback; remote deletions cannot be detected this cycle")
	}

	files, err := s.client.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, f := range files {
		entry, getErr := s.state.Get(f.Path)
		switch {
		case getErr == localstate.ErrNotFound:
			events = append(events, Event{Kind: RemoteCreated, Path: f.Path})
		case getErr != nil:
			return nil, getErr
		case entry.Status == localstate.StatusSynced && entry.ServerVersion != int64(f.Version):
			events = append(events, Event{Kind: RemoteUpdated, Path: f.Path})
		}
	}
	return events, nil
}
