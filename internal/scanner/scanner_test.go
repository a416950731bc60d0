package scanner

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncagent/syncagent/internal/localstate"
	"github.com/syncagent/syncagent/internal/serverclient"
	"github.com/syncagent/syncagent/internal/watcher"
)

func newTestScanner(t *testing.T, root string) (*Scanner, *localstate.Store) {
	t.Helper()
	state, err := localstate.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })

	ignore, err := watcher.LoadIgnoreSet(filepath.Join(root, ".syncignore"))
	require.NoError(t, err)

	return New(root, state, ignore, nil, nil, nil), state
}

func TestLocalScan_DetectsNewFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	s, state := newTestScanner(t, root)
	events, err := s.LocalScan()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, LocalCreated, events[0].Kind)
	assert.Equal(t, "a.txt", events[0].Path)

	entry, err := state.Get("a.txt")
	require.NoError(t, err)
	assert.Equal(t, localstate.StatusNew, entry.Status)
}

func TestLocalScan_DetectsModifiedFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	s, state := newTestScanner(t, root)
	require.NoError(t, state.MarkSynced("a.txt", 1, 1, []string{"h1"}, time.Now().Add(-time.Hour), 5))

	require.NoError(t, os.WriteFile(path, []byte("hello world!"), 0o644))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now()))

	events, err := s.LocalScan()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, LocalModified, events[0].Kind)
}

func TestLocalScan_DetectsDeletion(t *testing.T) {
	root := t.TempDir()
	s, state := newTestScanner(t, root)
	require.NoError(t, state.MarkSynced("gone.txt", 1, 1, []string{"h1"}, time.Now(), 5))

	events, err := s.LocalScan()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, LocalDeleted, events[0].Kind)
}

func TestLocalScan_SkipsIgnoredPaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".syncignore"), []byte("*.tmp\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scratch.tmp"), []byte("x"), 0o644))

	s, _ := newTestScanner(t, root)
	events, err := s.LocalScan()
	require.NoError(t, err)
	// .syncignore itself is an ordinary synced file; scratch.tmp is skipped.
	require.Len(t, events, 1)
	assert.Equal(t, ".syncignore", events[0].Path)
}

func TestRemoteScan_FallsBackToFullListingWithoutCursor(t *testing.T) {
	root := t.TempDir()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":1,"path":"remote.txt","size":10,"content_hash":"h","version":1}]`))
	}))
	defer server.Close()

	s, _ := newTestScanner(t, root)
	s.client = serverclient.New(server.URL, "tok", nil)

	events, err := s.RemoteScan(t.Context())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, RemoteCreated, events[0].Kind)
	assert.Equal(t, "remote.txt", events[0].Path)
}
