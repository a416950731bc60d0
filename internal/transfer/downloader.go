package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/syncagent/syncagent/internal/coordinator"
	"github.com/syncagent/syncagent/internal/cryptutil"
	"github.com/syncagent/syncagent/internal/eventqueue"
	"github.com/syncagent/syncagent/internal/localstate"
	"github.com/syncagent/syncagent/internal/serverclient"
)

// download implements the Downloader protocol (§4.13).
func (d *Dispatcher) download(ctx context.Context, ev eventqueue.Event) (coordinator.Result, error) {
	localPath := d.localPath(ev.Path)

	serverFile, err := workerpoolRetry(ctx, func() (serverclient.File, error) { return d.client.GetFile(ctx, ev.Path) })
	if err != nil {
		return coordinator.Result{}, fmt.Errorf("transfer: fetch file metadata for %q: %w", ev.Path, err)
	}

	if d.logger != nil {
		d.logger.TransferStarted("DOWNLOAD", ev.Path, serverFile.Size)
	}

	if err := d.guardAgainstLocalModification(ctx, ev.Path, localPath); err != nil {
		return coordinator.Result{}, err
	}

	chunkHashes, err := workerpoolRetry(ctx, func() ([]string, error) { return d.client.GetFileChunks(ctx, ev.Path) })
	if err != nil {
		return coordinator.Result{}, fmt.Errorf("transfer: fetch chunk list for %q: %w", ev.Path, err)
	}

	mtime, size, err := d.downloadToPath(ctx, ev.Path, localPath, chunkHashes)
	if err != nil {
		return coordinator.Result{}, err
	}

	if d.logger != nil {
		d.logger.TransferCompleted("DOWNLOAD", ev.Path, 0, serverFile.Version)
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

// guardAgainstLocalModification implements step 1: if the local file has
// drifted from what local state last recorded, the unsynced local content
// is rescued to a conflict copy before the download proceeds to overwrite
// the original path.
func (d *Dispatcher) guardAgainstLocalModification(ctx context.Context, relPath, localPath string) error {
	entry, err := d.state.Get(relPath)
	if errors.Is(err, localstate.ErrNotFound) {
		return nil // nothing tracked locally yet; no modification to guard against
	}
	if err != nil {
		return fmt.Errorf("transfer: read local state for %q: %w", relPath, err)
	}

	info, statErr := os.Stat(localPath)
	if statErr != nil {
		return nil // local file doesn't exist: nothing to rescue
	}
	if info.ModTime().Equal(entry.LocalMtime) && info.Size() == entry.LocalSize {
		return nil // unchanged since last sync
	}

	dest, err := renameToConflictCopy(localPath, d.machineName, info.ModTime(), info.Size())
	if err != nil {
		return err
	}
	if dest != "" {
		_ = d.state.MarkNew(toRelPath(d.syncRoot, dest))
		if d.logger != nil {
			d.logger.ConflictDetected(relPath, dest, int(entry.ServerVersion))
		}
	}
	return nil
}

// downloadToPath performs steps 3-5: stream each chunk to a temp file and
// atomically rename it over localPath.
func (d *Dispatcher) downloadToPath(ctx context.Context, relPath, localPath string, chunkHashes []string) (time.Time, int64, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return time.Time{}, 0, fmt.Errorf("transfer: create parent directories for %q: %w", localPath, err)
	}

	tmpPath := localPath + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("transfer: create temp file %q: %w", tmpPath, err)
	}

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	for i, hash := range chunkHashes {
		if ctx.Err() != nil {
			cleanup()
			return time.Time{}, 0, ctx.Err()
		}

		blob, err := workerpoolRetry(ctx, func() ([]byte, error) { return d.client.GetChunk(ctx, hash) })
		if err != nil {
			cleanup()
			return time.Time{}, 0, fmt.Errorf("transfer: download chunk %s: %w", hash, err)
		}

		plaintext, err := cryptutil.OpenChunk(d.key, chunkAAD(hash, i), blob)
		if err != nil {
			cleanup()
			if d.logger != nil {
				d.logger.ChunkDecryptFailed(relPath, hash, err)
			}
			return time.Time{}, 0, fmt.Errorf("transfer: decrypt chunk %s: %w", hash, err)
		}

		if _, err := tmp.Write(plaintext); err != nil {
			cleanup()
			return time.Time{}, 0, fmt.Errorf("transfer: write chunk %s to temp file: %w", hash, err)
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return time.Time{}, 0, fmt.Errorf("transfer: close temp file %q: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return time.Time{}, 0, fmt.Errorf("transfer: rename %q into place: %w", tmpPath, err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("transfer: stat downloaded file %q: %w", localPath, err)
	}
	return info.ModTime(), info.Size(), nil
}
