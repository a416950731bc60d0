package coordinator

import (
	"context"
	"strings"

	"github.com/syncagent/syncagent/internal/eventqueue"
)

func isLocalKind(k eventqueue.Kind) bool  { return strings.HasPrefix(string(k), "LOCAL_") }
func isRemoteKind(k eventqueue.Kind) bool { return strings.HasPrefix(string(k), "REMOTE_") }

// reconcile applies the §4.11 decision matrix for an incoming event E
// against an existing in-flight transfer T on the same path.
func (c *Coordinator) reconcile(ctx context.Context, ev eventqueue.Event, t *TransferState) {
	switch ev.Kind {
	case eventqueue.KindTransferComplete, eventqueue.KindTransferFailed:
		c.finishTransfer(ev)
		return
	}

	switch {
	case isLocalKind(ev.Kind) && t.TransferType == TransferUpload:
		if ev.Kind == eventqueue.KindLocalDeleted {
			c.cancelAndReenqueue(ev, t)
		}
		// else: ignore — the in-flight upload already reflects newer content.

	case isLocalKind(ev.Kind) && t.TransferType == TransferDownload:
		c.cancelAndReenqueue(ev, t)

	case isRemoteKind(ev.Kind) && t.TransferType == TransferUpload:
		t.CancelRequested = true
		t.ConflictType = ConflictConcurrentEvent
		t.DetectedServerVersion = versionFromMetadata(ev)
		if t.cancel != nil {
			t.cancel()
		}
		if c.onConflict != nil {
			c.onConflict(ev.Path, t)
		}

	case isRemoteKind(ev.Kind) && t.TransferType == TransferDownload:
		// Ignore — the in-flight download will be superseded once it
		// completes, or this event is re-dispatched by a later scan.
	}
}

// cancelAndReenqueue requests cancellation of t and re-enqueues ev so it is
// picked up fresh once the cancelled transfer's completion callback fires
// and clears the transfers map entry.
func (c *Coordinator) cancelAndReenqueue(ev eventqueue.Event, t *TransferState) {
	t.CancelRequested = true
	if t.cancel != nil {
		t.cancel()
	}
	_ = c.queue.Put(ev)
}

func versionFromMetadata(ev eventqueue.Event) int64 {
	if ev.Metadata == nil {
		return 0
	}
	if v, ok := ev.Metadata["version"]; ok {
		if n, ok := v.(int64); ok {
			return n
		}
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	}
	return 0
}

// finishTransfer handles a TRANSFER_COMPLETE/TRANSFER_FAILED notification
// raised by the dispatcher's completion callback, updating localstate and
// clearing the path's entry from the transfers map.
func (c *Coordinator) finishTransfer(ev eventqueue.Event) {
	t, ok := c.transfers[ev.Path]
	if !ok {
		return
	}
	delete(c.transfers, ev.Path)

	success := ev.Kind == eventqueue.KindTransferComplete
	if !success {
		t.Status = StatusFailed
		if c.logger != nil {
			c.logger.Warn("transfer failed: " + ev.Path)
		}
		c.takeResult(ev.Path) // discard; nothing to apply on failure
		return
	}

	t.Status = StatusCompleted
	result, _ := c.takeResult(ev.Path)

	switch t.TransferType {
	case TransferDelete:
		_ = c.state.Delete(ev.Path)
	case TransferUpload, TransferDownload:
		_ = c.state.MarkSynced(ev.Path, result.ServerFileID, result.ServerVersion,
			result.ChunkHashes, result.LocalMtime, result.LocalSize)
	}
}
