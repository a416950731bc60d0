package transfer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/syncagent/syncagent/internal/chunker"
	"github.com/syncagent/syncagent/internal/coordinator"
	"github.com/syncagent/syncagent/internal/eventqueue"
	"github.com/syncagent/syncagent/internal/serverclient"
)

// conflictCopyPath returns the rename target for localPath's conflict copy:
// <stem>.conflict-YYYYMMDDTHHMMSSmmm-<machine>.<ext> (§4.13).
func conflictCopyPath(localPath, machineName string, now time.Time) string {
	stem, ext := splitExt(localPath)
	stamp := fmt.Sprintf("%s%03d", now.Format("20060102T150405"), now.Nanosecond()/1_000_000)
	return fmt.Sprintf("%s.conflict-%s-%s%s", stem, stamp, machineName, ext)
}

// renameToConflictCopy renames localPath out of the way so the server's
// version can be downloaded to the original path. It guards against a race
// where the local file changes between the last-known mtime/size check and
// the rename itself: if the file's mtime no longer matches expectedMtime
// just before the rename, it aborts and returns ErrRetryNeeded. The
// transfer then fails with that error; the coordinator does not re-enqueue
// it, so the path is only retried when a later scan or event reports it.
func renameToConflictCopy(localPath, machineName string, expectedMtime time.Time, expectedSize int64) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil // nothing to move aside
		}
		return "", fmt.Errorf("transfer: stat %q before conflict rename: %w", localPath, err)
	}
	if !info.ModTime().Equal(expectedMtime) || info.Size() != expectedSize {
		return "", ErrRetryNeeded
	}

	dest := conflictCopyPath(localPath, machineName, time.Now())
	if err := os.Rename(localPath, dest); err != nil {
		return "", fmt.Errorf("transfer: rename %q to conflict copy: %w", localPath, err)
	}

	// Re-check after the rename: if something raced us and wrote to
	// localPath between the stat above and the rename, os.Rename would
	// have silently replaced it. There's no portable atomic
	// compare-and-rename in the stdlib, so the best available guard is
	// re-stating the destination's mtime and comparing to what we moved.
	moved, err := os.Stat(dest)
	if err != nil || !moved.ModTime().Equal(expectedMtime) {
		return "", ErrRetryNeeded
	}

	return dest, nil
}

// resolveUploadConflict implements "Conflict resolution (upload-side)"
// (§4.13): fetch the server's record, auto-heal a false conflict (content
// already matches), or rename the local file aside, download the server's
// version to the original path, and track the rescued copy as a new file.
func (d *Dispatcher) resolveUploadConflict(ctx context.Context, ev eventqueue.Event, localPath string) (coordinator.Result, error) {
	serverFile, err := workerpoolRetry(ctx, func() (serverclient.File, error) { return d.client.GetFile(ctx, ev.Path) })
	if err != nil {
		return coordinator.Result{}, fmt.Errorf("transfer: fetch file for conflict resolution %q: %w", ev.Path, err)
	}

	localHash, err := chunker.HashFile(localPath)
	if err != nil {
		return coordinator.Result{}, fmt.Errorf("transfer: hash %q for conflict resolution: %w", localPath, err)
	}

	// Whichever branch below runs, any upload-progress record for the
	// original path under its old (now-superseded) chunk set is no longer
	// useful — it either already agrees with the server or is about to be
	// replaced by a download.
	_ = d.state.ClearUpload(ev.Path)

	if localHash == serverFile.ContentHash {
		// False conflict: the two sides already agree on content, only the
		// recorded version drifted. Adopt the server's version without
		// moving anything.
		chunkHashes, err := workerpoolRetry(ctx, func() ([]string, error) { return d.client.GetFileChunks(ctx, ev.Path) })
		if err != nil {
			return coordinator.Result{}, fmt.Errorf("transfer: fetch chunk list after false conflict %q: %w", ev.Path, err)
		}
		info, err := os.Stat(localPath)
		if err != nil {
			return coordinator.Result{}, fmt.Errorf("transfer: stat %q after false conflict: %w", localPath, err)
		}
		return coordinator.Result{
			Success:       true,
			ServerFileID:  serverFile.ID,
			ServerVersion: int64(serverFile.Version),
			ChunkHashes:   chunkHashes,
			LocalMtime:    info.ModTime(),
			LocalSize:     info.Size(),
		}, nil
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return coordinator.Result{}, fmt.Errorf("transfer: stat %q before conflict rename: %w", localPath, err)
	}
	dest, err := renameToConflictCopy(localPath, d.machineName, info.ModTime(), info.Size())
	if err != nil {
		return coordinator.Result{}, err
	}

	chunkHashes, err := workerpoolRetry(ctx, func() ([]string, error) { return d.client.GetFileChunks(ctx, ev.Path) })
	if err != nil {
		return coordinator.Result{}, fmt.Errorf("transfer: fetch chunk list for conflict download %q: %w", ev.Path, err)
	}
	mtime, size, err := d.downloadToPath(ctx, ev.Path, localPath, chunkHashes)
	if err != nil {
		return coordinator.Result{}, err
	}

	if dest != "" {
		_ = d.state.MarkNew(toRelPath(d.syncRoot, dest))
	}
	if d.logger != nil {
		d.logger.ConflictDetected(ev.Path, dest, int(serverFile.Version))
	}

	return coordinator.Result{
		Success:       true,
		ServerFileID:  serverFile.ID,
		ServerVersion: int64(serverFile.Version),
		ChunkHashes:   chunkHashes,
		LocalMtime:    mtime,
		LocalSize:     size,
	}, nil
}
