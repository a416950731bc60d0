package eventqueue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_DequeuesInPriorityOrder(t *testing.T) {
	q, err := New(nil)
	require.NoError(t, err)

	require.NoError(t, q.Put(Event{Kind: KindRemoteModified, Path: "a"}))
	require.NoError(t, q.Put(Event{Kind: KindLocalCreated, Path: "b"}))
	require.NoError(t, q.Put(Event{Kind: KindLocalDeleted, Path: "c"}))

	ev, ok := q.GetNowait()
	require.True(t, ok)
	assert.Equal(t, KindLocalDeleted, ev.Kind, "LOCAL_DELETED is the most urgent")

	ev, ok = q.GetNowait()
	require.True(t, ok)
	assert.Equal(t, KindLocalCreated, ev.Kind)

	ev, ok = q.GetNowait()
	require.True(t, ok)
	assert.Equal(t, KindRemoteModified, ev.Kind)
}

func TestQueue_PutReplacesPendingEventForSamePath(t *testing.T) {
	q, err := New(nil)
	require.NoError(t, err)

	require.NoError(t, q.Put(Event{Kind: KindRemoteModified, Path: "a"}))
	require.NoError(t, q.Put(Event{Kind: KindLocalDeleted, Path: "a"}))

	ev, ok := q.GetNowait()
	require.True(t, ok)
	assert.Equal(t, KindLocalDeleted, ev.Kind, "the newer event must replace the older one regardless of priority")

	_, ok = q.GetNowait()
	assert.False(t, ok, "only one event per path may be pending")
}

func TestQueue_GetNowaitEmptyReturnsFalse(t *testing.T) {
	q, err := New(nil)
	require.NoError(t, err)
	_, ok := q.GetNowait()
	assert.False(t, ok)
}

func TestQueue_GetBlocksUntilTimeout(t *testing.T) {
	q, err := New(nil)
	require.NoError(t, err)

	start := time.Now()
	_, ok := q.Get(50 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestQueue_GetWakesOnPut(t *testing.T) {
	q, err := New(nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Put(Event{Kind: KindLocalModified, Path: "x"})
	}()

	ev, ok := q.Get(time.Second)
	require.True(t, ok)
	assert.Equal(t, "x", ev.Path)
}

func TestQueue_SurvivesRestartWithBoltDurable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")

	durable, err := OpenBoltDurable(dbPath)
	require.NoError(t, err)
	q, err := New(durable)
	require.NoError(t, err)
	require.NoError(t, q.Put(Event{Kind: KindLocalCreated, Path: "a.txt"}))
	require.NoError(t, durable.Close())

	durable2, err := OpenBoltDurable(dbPath)
	require.NoError(t, err)
	defer durable2.Close()
	q2, err := New(durable2)
	require.NoError(t, err)

	ev, ok := q2.GetNowait()
	require.True(t, ok)
	assert.Equal(t, "a.txt", ev.Path)
}

func TestQueue_Depth(t *testing.T) {
	q, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, q.Depth())
	require.NoError(t, q.Put(Event{Kind: KindLocalCreated, Path: "a"}))
	assert.Equal(t, 1, q.Depth())
}
