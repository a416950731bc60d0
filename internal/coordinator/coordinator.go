// Package coordinator implements the client's single-threaded dispatch
// loop (C11): it drains the event queue and, applying the decision matrix
// of §4.11, either dispatches a new transfer to the worker pool or
// reconciles against one already in flight for the same path. The
// dispatch-loop shape (a goroutine ticking over a queue and invoking a
// callback per item) is grounded on the teacher's
// daemon/service/dtn_worker.go (DTNWorker.Start), generalized from a fixed
// polling interval to blocking on the queue's Get(timeout).
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/syncagent/syncagent/internal/eventqueue"
	"github.com/syncagent/syncagent/internal/localstate"
	"github.com/syncagent/syncagent/internal/observability"
)

// TransferType is the kind of work an event maps to.
type TransferType string

const (
	TransferUpload   TransferType = "UPLOAD"
	TransferDownload TransferType = "DOWNLOAD"
	TransferDelete   TransferType = "DELETE"
)

// ConflictType marks why a transfer was cancelled for reconciliation.
type ConflictType string

const ConflictConcurrentEvent ConflictType = "CONCURRENT_EVENT"

// TransferStatus is a transfer's lifecycle stage.
type TransferStatus string

const (
	StatusPending   TransferStatus = "PENDING"
	StatusRunning   TransferStatus = "RUNNING"
	StatusCompleted TransferStatus = "COMPLETED"
	StatusFailed    TransferStatus = "FAILED"
	StatusCancelled TransferStatus = "CANCELLED"
)

// TransferState is the coordinator's per-path bookkeeping entry (§4.11).
type TransferState struct {
	Event                  eventqueue.Event
	TransferType           TransferType
	Status                 TransferStatus
	CancelRequested        bool
	BaseVersion            int64
	DetectedServerVersion  int64
	ConflictType           ConflictType
	cancel                 context.CancelFunc
}

// Result carries what the coordinator needs to update localstate once a
// transfer finishes (§4.11: "the coordinator updates the corresponding
// local state"), since only the transfer itself knows the server's
// resulting file_id/version/chunk list.
type Result struct {
	Success       bool
	ServerFileID  int64
	ServerVersion int64
	ChunkHashes   []string
	LocalMtime    time.Time
	LocalSize     int64
}

// Dispatcher executes a transfer for a path and reports completion back
// to the coordinator via onDone. Implemented by internal/transfer.
type Dispatcher interface {
	Dispatch(ctx context.Context, t TransferType, ev eventqueue.Event, onDone func(Result))
}

// ConflictCallback is invoked when a REMOTE_* event collides with an
// in-flight UPLOAD (§4.11's conflict row).
type ConflictCallback func(path string, t *TransferState)

// Coordinator owns the TransferState map and the single dispatch loop.
type Coordinator struct {
	queue      *eventqueue.Queue
	state      *localstate.Store
	dispatcher Dispatcher
	onConflict ConflictCallback
	logger     *observability.Logger
	metrics    *observability.Metrics

	transfers map[string]*TransferState // guarded by the single-goroutine loop, no mutex needed

	resultsMu sync.Mutex
	results   map[string]Result // completion payloads, written from dispatcher callbacks on other goroutines
}

func New(queue *eventqueue.Queue, state *localstate.Store, dispatcher Dispatcher,
	onConflict ConflictCallback, logger *observability.Logger, metrics *observability.Metrics) *Coordinator {
	return &Coordinator{
		queue:      queue,
		state:      state,
		dispatcher: dispatcher,
		onConflict: onConflict,
		logger:     logger,
		metrics:    metrics,
		transfers:  make(map[string]*TransferState),
		results:    make(map[string]Result),
	}
}

func (c *Coordinator) storeResult(path string, r Result) {
	c.resultsMu.Lock()
	c.results[path] = r
	c.resultsMu.Unlock()
}

func (c *Coordinator) takeResult(path string) (Result, bool) {
	c.resultsMu.Lock()
	defer c.resultsMu.Unlock()
	r, ok := c.results[path]
	if ok {
		delete(c.results, path)
	}
	return r, ok
}

// Run drives the single dispatch loop until ctx is cancelled. It must run
// on one goroutine only — the decision matrix assumes no concurrent
// mutation of the transfers map (§4.11/§"Scheduling model").
func (c *Coordinator) Run(ctx context.Context) {
	const pollInterval = time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		ev, ok := c.queue.Get(pollInterval)
		if !ok {
			continue
		}
		c.handle(ctx, ev)
	}
}

func (c *Coordinator) handle(ctx context.Context, ev eventqueue.Event) {
	if c.metrics != nil {
		c.metrics.QueueDepth.Set(float64(c.queue.Depth()))
	}

	existing, inFlight := c.transfers[ev.Path]
	if !inFlight {
		c.startTransfer(ctx, ev)
		return
	}
	c.reconcile(ctx, ev, existing)
}

// startTransfer maps a fresh event to a transfer type and dispatches it.
func (c *Coordinator) startTransfer(ctx context.Context, ev eventqueue.Event) {
	tt, ok := transferTypeFor(ev.Kind)
	if !ok {
		return // TRANSFER_COMPLETE/TRANSFER_FAILED with no in-flight entry: nothing to do
	}

	childCtx, cancel := context.WithCancel(ctx)
	t := &TransferState{Event: ev, TransferType: tt, Status: StatusRunning, cancel: cancel}
	c.transfers[ev.Path] = t

	c.dispatcher.Dispatch(childCtx, tt, ev, func(r Result) {
		c.storeResult(ev.Path, r)
		_ = c.queue.Put(eventqueue.Event{
			Kind:     completionKind(r.Success),
			Path:     ev.Path,
			Metadata: map[string]any{"transfer_type": string(tt)},
		})
	})
}

func transferTypeFor(kind eventqueue.Kind) (TransferType, bool) {
	switch kind {
	case eventqueue.KindLocalCreated, eventqueue.KindLocalModified:
		return TransferUpload, true
	case eventqueue.KindLocalDeleted, eventqueue.KindRemoteDeleted:
		return TransferDelete, true
	case eventqueue.KindRemoteCreated, eventqueue.KindRemoteModified:
		return TransferDownload, true
	default:
		return "", false
	}
}

func completionKind(success bool) eventqueue.Kind {
	if success {
		return eventqueue.KindTransferComplete
	}
	return eventqueue.KindTransferFailed
}
