// Package transfer implements the Uploader/Downloader/Deleter protocols
// (C13): the code that actually moves chunk blobs to and from the server,
// reconciles version conflicts, and reports back to the coordinator. A
// Dispatcher here is what internal/coordinator drives through its
// Dispatcher interface, with internal/workerpool providing the bounded
// concurrency and retry/cancellation plumbing underneath.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/syncagent/syncagent/internal/coordinator"
	"github.com/syncagent/syncagent/internal/eventqueue"
	"github.com/syncagent/syncagent/internal/localstate"
	"github.com/syncagent/syncagent/internal/observability"
	"github.com/syncagent/syncagent/internal/serverclient"
	"github.com/syncagent/syncagent/internal/workerpool"
)

// ErrVersionConflict is raised at commit time when the server's file
// version no longer matches the upload's parent_version.
var ErrVersionConflict = errors.New("transfer: version conflict")

// EarlyConflict is raised by the pre-upload or mid-transfer version check
// (§4.13 "Conflict resolution (upload-side)").
type EarlyConflict struct {
	Stage         string // always "PRE_TRANSFER"; the mid-transfer re-check reuses the same check
	ServerVersion int64
}

func (e *EarlyConflict) Error() string {
	return fmt.Sprintf("transfer: early conflict at %s, server version %d", e.Stage, e.ServerVersion)
}

// ErrRetryNeeded signals that a conflict-copy rename lost a race against a
// concurrent local write; the transfer fails with it and is not re-enqueued.
var ErrRetryNeeded = errors.New("transfer: retry needed, local file changed mid-rename")

// Dispatcher wires Uploader/Downloader/Deleter into a workerpool.Pool and
// implements coordinator.Dispatcher.
type Dispatcher struct {
	pool        *workerpool.Pool
	client      *serverclient.Client
	state       *localstate.Store
	key         []byte
	syncRoot    string
	machineName string
	logger      *observability.Logger
	metrics     *observability.Metrics
}

func New(pool *workerpool.Pool, client *serverclient.Client, state *localstate.Store,
	key []byte, syncRoot, machineName string, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		pool:        pool,
		client:      client,
		state:       state,
		key:         key,
		syncRoot:    syncRoot,
		machineName: machineName,
		logger:      logger,
		metrics:     metrics,
	}
}

// Dispatch submits ev's work to the worker pool and invokes onDone with the
// outcome once it's known, satisfying coordinator.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, t coordinator.TransferType, ev eventqueue.Event, onDone func(coordinator.Result)) {
	_ = d.pool.Submit(workerpool.Task{
		Path: ev.Path,
		Run: func(taskCtx context.Context) error {
			var result coordinator.Result
			var err error
			switch t {
			case coordinator.TransferUpload:
				result, err = d.upload(taskCtx, ev)
			case coordinator.TransferDownload:
				result, err = d.download(taskCtx, ev)
			case coordinator.TransferDelete:
				result, err = d.delete(taskCtx, ev)
			default:
				err = fmt.Errorf("transfer: unknown transfer type %q", t)
			}
			onDone(result)
			return err
		},
	})
}

func (d *Dispatcher) localPath(relPath string) string {
	return joinSyncRoot(d.syncRoot, relPath)
}
