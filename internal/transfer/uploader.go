package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/syncagent/syncagent/internal/chunker"
	"github.com/syncagent/syncagent/internal/coordinator"
	"github.com/syncagent/syncagent/internal/cryptutil"
	"github.com/syncagent/syncagent/internal/eventqueue"
	"github.com/syncagent/syncagent/internal/localstate"
	"github.com/syncagent/syncagent/internal/serverclient"
	"github.com/syncagent/syncagent/internal/workerpool"
)

const midTransferRecheckInterval = 10 // §4.13 step 5: re-check every K=10 chunks

// upload implements the Uploader protocol (§4.13).
func (d *Dispatcher) upload(ctx context.Context, ev eventqueue.Event) (coordinator.Result, error) {
	localPath := d.localPath(ev.Path)

	entry, err := d.state.Get(ev.Path)
	tracked := err == nil
	if err != nil && !errors.Is(err, localstate.ErrNotFound) {
		return coordinator.Result{}, fmt.Errorf("transfer: read local state for %q: %w", ev.Path, err)
	}

	var parentVersion int64
	isUpdate := tracked && entry.ServerFileID != 0
	if isUpdate {
		parentVersion = entry.ServerVersion
		conflict, err := d.preUploadVersionCheck(ctx, ev.Path, parentVersion)
		if err != nil {
			return coordinator.Result{}, err
		}
		if conflict != nil {
			return d.resolveUploadConflict(ctx, ev, localPath)
		}
	}

	info, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			// The file vanished between the event firing and the worker
			// picking it up; nothing left to upload.
			return coordinator.Result{Success: true}, nil
		}
		return coordinator.Result{}, fmt.Errorf("transfer: stat %q: %w", localPath, err)
	}

	manifest, err := chunker.ComputeManifest(localPath, chunker.DefaultChunkOptions())
	if err != nil {
		return coordinator.Result{}, fmt.Errorf("transfer: chunk %q: %w", localPath, err)
	}
	chunkHashes := manifest.ChunkHashes()

	if err := d.resumeOrStartUpload(ev.Path, chunkHashes); err != nil {
		return coordinator.Result{}, err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return coordinator.Result{}, fmt.Errorf("transfer: reopen %q: %w", localPath, err)
	}
	defer file.Close()

	for i, desc := range manifest.Chunks {
		if ctx.Err() != nil {
			return coordinator.Result{}, ctx.Err()
		}

		if isUpdate && i > 0 && i%midTransferRecheckInterval == 0 {
			conflict, err := d.preUploadVersionCheck(ctx, ev.Path, parentVersion)
			if err != nil {
				return coordinator.Result{}, err
			}
			if conflict != nil {
				return d.resolveUploadConflict(ctx, ev, localPath)
			}
		}

		if err := d.uploadOneChunk(ctx, file, desc, ev.Path); err != nil {
			return coordinator.Result{}, err
		}
	}

	file.Close()

	commitFile, conflictErr, err := d.commit(ctx, ev.Path, manifest, parentVersion, isUpdate)
	if err != nil {
		return coordinator.Result{}, err
	}
	if conflictErr {
		return d.resolveUploadConflict(ctx, ev, localPath)
	}

	_ = d.state.ClearUpload(ev.Path)
	return coordinator.Result{
		Success:       true,
		ServerFileID:  commitFile.ID,
		ServerVersion: int64(commitFile.Version),
		ChunkHashes:   chunkHashes,
		LocalMtime:    info.ModTime(),
		LocalSize:     info.Size(),
	}, nil
}

// resumeOrStartUpload decides, per §4.13 step 3-4, whether an existing
// upload-progress record can be resumed (identical chunk set) or must be
// restarted from scratch.
func (d *Dispatcher) resumeOrStartUpload(path string, chunkHashes []string) error {
	existing, err := d.state.ExistingChunkHashes(path)
	if err != nil {
		return fmt.Errorf("transfer: read upload progress for %q: %w", path, err)
	}
	if !sameChunkSet(existing, chunkHashes) {
		if err := d.state.StartUpload(path, chunkHashes); err != nil {
			return fmt.Errorf("transfer: start upload for %q: %w", path, err)
		}
	}
	return nil
}

func sameChunkSet(existing map[string]bool, chunkHashes []string) bool {
	if len(existing) != len(chunkHashes) {
		return false
	}
	for _, h := range chunkHashes {
		if _, ok := existing[h]; !ok {
			return false
		}
	}
	return true
}

// uploadOneChunk performs step 5 of the Uploader protocol for a single
// chunk: dedup-probe, then encrypt-and-PUT if not already present.
func (d *Dispatcher) uploadOneChunk(ctx context.Context, file *os.File, desc chunker.ChunkDescriptor, relPath string) error {
	has, err := workerpoolRetry(ctx, func() (bool, error) { return d.client.HasChunk(ctx, desc.Hash) })
	if err != nil {
		return fmt.Errorf("transfer: probe chunk %s: %w", desc.Hash, err)
	}
	if has {
		return d.state.MarkChunkUploaded(relPath, desc.Hash)
	}

	plaintext := make([]byte, desc.Length)
	if _, err := file.ReadAt(plaintext, desc.Offset); err != nil {
		return fmt.Errorf("transfer: read chunk %d of %q: %w", desc.Index, relPath, err)
	}
	aad := chunkAAD(desc.Hash, desc.Index)
	blob, err := cryptutil.SealChunk(d.key, aad, plaintext)
	if err != nil {
		return fmt.Errorf("transfer: encrypt chunk %s: %w", desc.Hash, err)
	}

	_, err = workerpoolRetry(ctx, func() (struct{}, error) { return struct{}{}, d.client.PutChunk(ctx, desc.Hash, blob) })
	if err != nil {
		return fmt.Errorf("transfer: upload chunk %s: %w", desc.Hash, err)
	}
	return d.state.MarkChunkUploaded(relPath, desc.Hash)
}

// preUploadVersionCheck implements step 1 and the mid-transfer re-check of
// step 5: it returns a non-nil *EarlyConflict if the server's version no
// longer matches parentVersion (including a 404, treated as a deletion).
// A non-nil error means the check itself could not be completed (e.g. the
// network retry budget was exhausted) and the caller should abort rather
// than guess.
func (d *Dispatcher) preUploadVersionCheck(ctx context.Context, relPath string, parentVersion int64) (*EarlyConflict, error) {
	serverFile, err := workerpoolRetry(ctx, func() (serverclient.File, error) { return d.client.GetFile(ctx, relPath) })
	if err != nil {
		var apiErr *serverclient.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return &EarlyConflict{Stage: "PRE_TRANSFER", ServerVersion: 0}, nil
		}
		return nil, fmt.Errorf("transfer: pre-upload version check for %q: %w", relPath, err)
	}
	if int64(serverFile.Version) != parentVersion {
		return &EarlyConflict{Stage: "PRE_TRANSFER", ServerVersion: int64(serverFile.Version)}, nil
	}
	return nil, nil
}

// commit performs step 6: POST for a create, PUT for an update, with the
// create→update fallback on a path-already-exists Conflict.
func (d *Dispatcher) commit(ctx context.Context, relPath string, manifest *chunker.Manifest, parentVersion int64, isUpdate bool) (serverclient.File, bool, error) {
	chunkHashes := manifest.ChunkHashes()

	if !isUpdate {
		f, err := d.client.CreateFile(ctx, relPath, manifest.FileSize, manifest.ContentHash, chunkHashes)
		if err == nil {
			return f, false, nil
		}
		var apiErr *serverclient.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 409 {
			current, getErr := d.client.GetFile(ctx, relPath)
			if getErr != nil {
				return serverclient.File{}, false, fmt.Errorf("transfer: fetch file after create conflict %q: %w", relPath, getErr)
			}
			f2, updErr := d.client.UpdateFile(ctx, relPath, manifest.FileSize, manifest.ContentHash, current.Version, chunkHashes)
			if updErr == nil {
				return f2, false, nil
			}
			if errors.As(updErr, &apiErr) && apiErr.StatusCode == 409 {
				return serverclient.File{}, true, nil
			}
			return serverclient.File{}, false, fmt.Errorf("transfer: create-fallback update %q: %w", relPath, updErr)
		}
		return serverclient.File{}, false, fmt.Errorf("transfer: create %q: %w", relPath, err)
	}

	f, err := d.client.UpdateFile(ctx, relPath, manifest.FileSize, manifest.ContentHash, int(parentVersion), chunkHashes)
	if err != nil {
		var apiErr *serverclient.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 409 {
			return serverclient.File{}, true, nil
		}
		return serverclient.File{}, false, fmt.Errorf("transfer: update %q: %w", relPath, err)
	}
	return f, false, nil
}

func chunkAAD(hash string, index int) []byte {
	return []byte(fmt.Sprintf("%s:%d", hash, index))
}

// workerpoolRetry adapts a (T, error)-returning network call into
// workerpool.RetryNetworkErrors, which only knows how to retry a bare
// func() error. Transport-level failures (connection refused, timeout,
// DNS) surface as net.Error through serverclient's wrapping and get
// retried automatically; a *serverclient.APIError (4xx/5xx) is a logical
// response, not a network failure, and is returned to the caller on the
// first attempt so callers can react to it (e.g. a conflict) without
// wasting a multi-attempt backoff on it.
func workerpoolRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var out T
	err := workerpool.RetryNetworkErrors(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
