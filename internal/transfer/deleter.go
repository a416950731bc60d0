package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/syncagent/syncagent/internal/coordinator"
	"github.com/syncagent/syncagent/internal/eventqueue"
	"github.com/syncagent/syncagent/internal/localstate"
	"github.com/syncagent/syncagent/internal/serverclient"
)

// delete implements the Deleter protocol (§4.13), handling both
// LOCAL_DELETED and REMOTE_DELETED per their distinct rules.
func (d *Dispatcher) delete(ctx context.Context, ev eventqueue.Event) (coordinator.Result, error) {
	switch ev.Kind {
	case eventqueue.KindLocalDeleted:
		return d.deleteLocalOriginated(ctx, ev)
	case eventqueue.KindRemoteDeleted:
		return d.deleteRemoteOriginated(ctx, ev)
	default:
		return coordinator.Result{}, fmt.Errorf("transfer: delete called for non-delete kind %q", ev.Kind)
	}
}

func (d *Dispatcher) deleteLocalOriginated(ctx context.Context, ev eventqueue.Event) (coordinator.Result, error) {
	_, err := workerpoolRetry(ctx, func() (struct{}, error) { return struct{}{}, d.client.DeleteFile(ctx, ev.Path) })
	if err != nil {
		var apiErr *serverclient.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
			return coordinator.Result{}, fmt.Errorf("transfer: delete %q on server: %w", ev.Path, err)
		}
		// 404 is idempotent success: the server already has no record of it.
	}
	return coordinator.Result{Success: true}, nil
}

func (d *Dispatcher) deleteRemoteOriginated(ctx context.Context, ev eventqueue.Event) (coordinator.Result, error) {
	localPath := d.localPath(ev.Path)

	entry, err := d.state.Get(ev.Path)
	tracked := !errors.Is(err, localstate.ErrNotFound)
	if err != nil && tracked {
		return coordinator.Result{}, fmt.Errorf("transfer: read local state for %q: %w", ev.Path, err)
	}

	info, statErr := os.Stat(localPath)
	switch {
	case os.IsNotExist(statErr):
		// already gone locally; nothing to do
	case statErr != nil:
		return coordinator.Result{}, fmt.Errorf("transfer: stat %q: %w", localPath, statErr)
	case tracked && info.ModTime().Equal(entry.LocalMtime) && info.Size() == entry.LocalSize:
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			return coordinator.Result{}, fmt.Errorf("transfer: remove %q: %w", localPath, err)
		}
	default:
		// The local file diverged from what was last synced: rescue it to
		// a conflict copy before removing the original, same as a
		// download-time conflict (§4.13 Deleter, REMOTE_DELETED rule).
		var expectedMtime = info.ModTime()
		var expectedSize = info.Size()
		dest, err := renameToConflictCopy(localPath, d.machineName, expectedMtime, expectedSize)
		if err != nil {
			return coordinator.Result{}, err
		}
		if dest != "" {
			_ = d.state.MarkNew(toRelPath(d.syncRoot, dest))
			if d.logger != nil {
				d.logger.ConflictDetected(ev.Path, dest, 0)
			}
		}
	}

	return coordinator.Result{Success: true}, nil
}
