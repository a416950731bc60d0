package localstate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGet_UntrackedPathReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkSynced_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Truncate(time.Second)

	require.NoError(t, s.MarkSynced("notes.txt", 42, 3, []string{"aa", "bb"}, now, 1024))

	e, err := s.Get("notes.txt")
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, e.Status)
	assert.Equal(t, int64(42), e.ServerFileID)
	assert.Equal(t, int64(3), e.ServerVersion)
	assert.Equal(t, []string{"aa", "bb"}, e.ChunkHashes)
	assert.Equal(t, int64(1024), e.LocalSize)
	assert.NotNil(t, e.LastSyncedAt)
}

func TestMarkModified_CreatesRowIfUntracked(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MarkModified("new-file.txt"))

	e, err := s.Get("new-file.txt")
	require.NoError(t, err)
	assert.Equal(t, StatusModified, e.Status)
}

func TestMarkModified_UpdatesExistingRowWithoutLosingServerFields(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MarkSynced("notes.txt", 42, 3, []string{"aa"}, time.Now(), 10))
	require.NoError(t, s.MarkModified("notes.txt"))

	e, err := s.Get("notes.txt")
	require.NoError(t, err)
	assert.Equal(t, StatusModified, e.Status)
	assert.Equal(t, int64(42), e.ServerFileID, "marking modified must not clobber the server file id already on record")
}

func TestListByStatus_FiltersCorrectly(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MarkNew("a.txt"))
	require.NoError(t, s.MarkNew("b.txt"))
	require.NoError(t, s.MarkModified("c.txt"))

	newFiles, err := s.ListByStatus(StatusNew)
	require.NoError(t, err)
	assert.Len(t, newFiles, 2)

	modified, err := s.ListByStatus(StatusModified)
	require.NoError(t, err)
	assert.Len(t, modified, 1)
}

func TestDelete_RemovesEntryAndProgress(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MarkSynced("gone.txt", 1, 1, []string{"aa"}, time.Now(), 1))
	require.NoError(t, s.StartUpload("gone.txt", []string{"aa", "bb"}))

	require.NoError(t, s.Delete("gone.txt"))

	_, err := s.Get("gone.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	remaining, err := s.Remaining("gone.txt")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestUploadProgress_SurvivesAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.StartUpload("big.bin", []string{"c1", "c2", "c3"}))
	require.NoError(t, s.MarkChunkUploaded("big.bin", "c1"))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	remaining, err := reopened.Remaining("big.bin")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c2", "c3"}, remaining)
}

func TestStartUpload_ClearsStaleProgressFromPreviousAttempt(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.StartUpload("f.bin", []string{"old1", "old2"}))
	require.NoError(t, s.MarkChunkUploaded("f.bin", "old1"))

	require.NoError(t, s.StartUpload("f.bin", []string{"new1"}))

	remaining, err := s.Remaining("f.bin")
	require.NoError(t, err)
	assert.Equal(t, []string{"new1"}, remaining)
}

func TestCursor_DefaultsToZeroThenPersists(t *testing.T) {
	s := newTestStore(t)
	ts, err := s.GetCursor()
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.SetCursor(now))

	got, err := s.GetCursor()
	require.NoError(t, err)
	assert.True(t, got.Equal(now))
}
