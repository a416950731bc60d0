package coordinator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncagent/syncagent/internal/eventqueue"
	"github.com/syncagent/syncagent/internal/localstate"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	dispatched []TransferType
	onDoneByPath map[string]func(Result)
	cancelled map[string]bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{onDoneByPath: make(map[string]func(Result)), cancelled: make(map[string]bool)}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, t TransferType, ev eventqueue.Event, onDone func(Result)) {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, t)
	f.onDoneByPath[ev.Path] = onDone
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		f.cancelled[ev.Path] = true
		f.mu.Unlock()
	}()
}

func (f *fakeDispatcher) complete(path string, r Result) {
	f.mu.Lock()
	onDone := f.onDoneByPath[path]
	f.mu.Unlock()
	if onDone != nil {
		onDone(r)
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeDispatcher, *eventqueue.Queue) {
	t.Helper()
	q, err := eventqueue.New(nil)
	require.NoError(t, err)

	state, err := localstate.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })

	disp := newFakeDispatcher()
	c := New(q, state, disp, nil, nil, nil)
	return c, disp, q
}

func TestStartTransfer_MapsLocalCreatedToUpload(t *testing.T) {
	c, disp, q := newTestCoordinator(t)
	require.NoError(t, q.Put(eventqueue.Event{Kind: eventqueue.KindLocalCreated, Path: "a.txt"}))

	ev, ok := q.GetNowait()
	require.True(t, ok)
	c.handle(context.Background(), ev)

	require.Len(t, disp.dispatched, 1)
	assert.Equal(t, TransferUpload, disp.dispatched[0])
	assert.Contains(t, c.transfers, "a.txt")
}

func TestReconcile_LocalDeletedCancelsInFlightUploadAndReenqueues(t *testing.T) {
	c, disp, q := newTestCoordinator(t)
	ctx := context.Background()

	c.handle(ctx, eventqueue.Event{Kind: eventqueue.KindLocalModified, Path: "a.txt"})
	require.Contains(t, c.transfers, "a.txt")

	c.handle(ctx, eventqueue.Event{Kind: eventqueue.KindLocalDeleted, Path: "a.txt"})

	assert.True(t, c.transfers["a.txt"].CancelRequested)

	time.Sleep(20 * time.Millisecond)
	disp.mu.Lock()
	assert.True(t, disp.cancelled["a.txt"])
	disp.mu.Unlock()

	ev, ok := q.GetNowait()
	require.True(t, ok)
	assert.Equal(t, eventqueue.KindLocalDeleted, ev.Kind, "the delete must be re-enqueued for fresh dispatch")
}

func TestReconcile_RemoteEventMarksConflictOnInFlightUpload(t *testing.T) {
	var conflictPath string
	q, err := eventqueue.New(nil)
	require.NoError(t, err)
	state, err := localstate.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer state.Close()

	disp := newFakeDispatcher()
	c := New(q, state, disp, func(path string, t *TransferState) { conflictPath = path }, nil, nil)

	ctx := context.Background()
	c.handle(ctx, eventqueue.Event{Kind: eventqueue.KindLocalModified, Path: "a.txt"})
	c.handle(ctx, eventqueue.Event{Kind: eventqueue.KindRemoteModified, Path: "a.txt"})

	assert.Equal(t, "a.txt", conflictPath)
	assert.Equal(t, ConflictConcurrentEvent, c.transfers["a.txt"].ConflictType)
}

func TestReconcile_RemoteEventIgnoredDuringInFlightDownload(t *testing.T) {
	c, disp, _ := newTestCoordinator(t)
	ctx := context.Background()

	c.handle(ctx, eventqueue.Event{Kind: eventqueue.KindRemoteCreated, Path: "a.txt"})
	require.Len(t, disp.dispatched, 1)

	c.handle(ctx, eventqueue.Event{Kind: eventqueue.KindRemoteModified, Path: "a.txt"})
	assert.Len(t, disp.dispatched, 1, "a second REMOTE_* event during an in-flight download must not dispatch again")
}

func TestFinishTransfer_MarksLocalStateSyncedOnUploadSuccess(t *testing.T) {
	c, disp, q := newTestCoordinator(t)
	ctx := context.Background()

	c.handle(ctx, eventqueue.Event{Kind: eventqueue.KindLocalCreated, Path: "a.txt"})
	disp.complete("a.txt", Result{Success: true, ServerFileID: 7, ServerVersion: 1, ChunkHashes: []string{"h1"}, LocalSize: 10})

	ev, ok := q.GetNowait()
	require.True(t, ok)
	assert.Equal(t, eventqueue.KindTransferComplete, ev.Kind)
	c.handle(ctx, ev)

	assert.NotContains(t, c.transfers, "a.txt")
	entry, err := c.state.Get("a.txt")
	require.NoError(t, err)
	assert.Equal(t, localstate.StatusSynced, entry.Status)
	assert.Equal(t, int64(7), entry.ServerFileID)
}

func TestFinishTransfer_RemovesLocalStateRowOnDeleteSuccess(t *testing.T) {
	c, disp, q := newTestCoordinator(t)
	ctx := context.Background()
	require.NoError(t, c.state.MarkSynced("a.txt", 1, 1, []string{"h"}, time.Now(), 1))

	c.handle(ctx, eventqueue.Event{Kind: eventqueue.KindLocalDeleted, Path: "a.txt"})
	disp.complete("a.txt", Result{Success: true})

	ev, ok := q.GetNowait()
	require.True(t, ok)
	c.handle(ctx, ev)

	_, err := c.state.Get("a.txt")
	assert.ErrorIs(t, err, localstate.ErrNotFound)
}
