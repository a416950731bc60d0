package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncagent/syncagent/internal/coordinator"
	"github.com/syncagent/syncagent/internal/cryptutil"
	"github.com/syncagent/syncagent/internal/eventqueue"
	"github.com/syncagent/syncagent/internal/localstate"
	"github.com/syncagent/syncagent/internal/serverclient"
	"github.com/syncagent/syncagent/internal/workerpool"
)

// fakeFile is the fake server's internal record, kept separate from
// serverclient.File because the wire File type doesn't carry a chunk list
// (that's a separate endpoint, /api/chunks/{path}).
type fakeFile struct {
	serverclient.File
	ChunkHashes []string
}

// fakeServer is a minimal in-memory stand-in for the REST API (C4) used to
// exercise the Uploader/Downloader/Deleter protocols over real HTTP.
type fakeServer struct {
	mu     sync.Mutex
	files  map[string]fakeFile
	chunks map[string][]byte
	nextID int64
}

func newFakeServer(t *testing.T) (*httptest.Server, *fakeServer) {
	t.Helper()
	fs := &fakeServer{files: make(map[string]fakeFile), chunks: make(map[string][]byte)}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/storage/chunks/", func(w http.ResponseWriter, r *http.Request) {
		hash := strings.TrimPrefix(r.URL.Path, "/api/storage/chunks/")
		fs.mu.Lock()
		defer fs.mu.Unlock()
		switch r.Method {
		case http.MethodHead:
			if _, ok := fs.chunks[hash]; ok {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			fs.chunks[hash] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			blob, ok := fs.chunks[hash]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(blob)
		}
	})

	mux.HandleFunc("/api/chunks/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/chunks/")
		fs.mu.Lock()
		f, ok := fs.files[path]
		fs.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(f.ChunkHashes)
	})

	mux.HandleFunc("/api/files/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/files/")
		fs.mu.Lock()
		defer fs.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			f, ok := fs.files[path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(f.File)
		case http.MethodPut:
			var req struct {
				Size          int64    `json:"size"`
				ContentHash   string   `json:"content_hash"`
				ParentVersion int      `json:"parent_version"`
				Chunks        []string `json:"chunks"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			existing, ok := fs.files[path]
			if !ok || existing.Version != req.ParentVersion {
				w.WriteHeader(http.StatusConflict)
				return
			}
			existing.Version++
			existing.Size = req.Size
			existing.ContentHash = req.ContentHash
			existing.ChunkHashes = req.Chunks
			fs.files[path] = existing
			_ = json.NewEncoder(w).Encode(existing.File)
		case http.MethodDelete:
			if _, ok := fs.files[path]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(fs.files, path)
			w.WriteHeader(http.StatusNoContent)
		}
	})

	mux.HandleFunc("/api/files", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Path        string   `json:"path"`
			Size        int64    `json:"size"`
			ContentHash string   `json:"content_hash"`
			Chunks      []string `json:"chunks"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		fs.mu.Lock()
		defer fs.mu.Unlock()
		if _, exists := fs.files[req.Path]; exists {
			w.WriteHeader(http.StatusConflict)
			return
		}
		fs.nextID++
		f := fakeFile{
			File:        serverclient.File{ID: fs.nextID, Path: req.Path, Size: req.Size, ContentHash: req.ContentHash, Version: 1},
			ChunkHashes: req.Chunks,
		}
		fs.files[req.Path] = f
		_ = json.NewEncoder(w).Encode(f.File)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, fs
}

func (fs *fakeServer) putFile(path string, f fakeFile) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[path] = f
}

func (fs *fakeServer) putChunk(hash string, blob []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.chunks[hash] = blob
}

func (fs *fakeServer) hasFile(path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.files[path]
	return ok
}

func newTestDispatcher(t *testing.T, srv *httptest.Server) (*Dispatcher, *localstate.Store, string) {
	t.Helper()
	root := t.TempDir()
	state, err := localstate.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })

	client := serverclient.New(srv.URL, "test-token", nil)
	pool := workerpool.New(2, 8, nil, nil, nil)
	t.Cleanup(pool.Stop)

	key := make([]byte, cryptutil.KeySize)
	for i := range key {
		key[i] = byte(i)
	}

	d := New(pool, client, state, key, root, "machine-a", nil, nil)
	return d, state, root
}

func TestUpload_CreatesNewFileEndToEnd(t *testing.T) {
	srv, fs := newFakeServer(t)
	d, state, root := newTestDispatcher(t, srv)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world"), 0o644))

	done := make(chan coordinator.Result, 1)
	d.Dispatch(t.Context(), coordinator.TransferUpload, eventqueue.Event{Kind: eventqueue.KindLocalCreated, Path: "a.txt"}, func(r coordinator.Result) {
		done <- r
	})

	select {
	case r := <-done:
		assert.True(t, r.Success)
		assert.Equal(t, int64(1), r.ServerVersion)
		assert.NotEmpty(t, r.ChunkHashes)
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not complete")
	}

	// Marking the path SYNCED is the coordinator's job (it applies the
	// Result); the dispatcher commits the file and clears upload progress.
	assert.True(t, fs.hasFile("a.txt"))
	remaining, err := state.Remaining("a.txt")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDownload_WritesFileEndToEnd(t *testing.T) {
	srv, fs := newFakeServer(t)
	d, _, root := newTestDispatcher(t, srv)

	plaintext := []byte("remote file contents")
	blob, err := cryptutil.SealChunk(d.key, chunkAAD("h1", 0), plaintext)
	require.NoError(t, err)

	fs.putChunk("h1", blob)
	fs.putFile("b.txt", fakeFile{
		File:        serverclient.File{ID: 9, Path: "b.txt", Size: int64(len(plaintext)), ContentHash: "x", Version: 3},
		ChunkHashes: []string{"h1"},
	})

	done := make(chan coordinator.Result, 1)
	d.Dispatch(t.Context(), coordinator.TransferDownload, eventqueue.Event{Kind: eventqueue.KindRemoteCreated, Path: "b.txt"}, func(r coordinator.Result) {
		done <- r
	})

	select {
	case r := <-done:
		assert.True(t, r.Success)
		assert.Equal(t, int64(9), r.ServerFileID)
		assert.Equal(t, int64(3), r.ServerVersion)
	case <-time.After(5 * time.Second):
		t.Fatal("download did not complete")
	}

	got, err := os.ReadFile(filepath.Join(root, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDelete_LocalOriginated_RemovesServerRecordAndIsIdempotentOn404(t *testing.T) {
	srv, fs := newFakeServer(t)
	d, _, _ := newTestDispatcher(t, srv)

	fs.putFile("c.txt", fakeFile{File: serverclient.File{ID: 1, Path: "c.txt", Version: 1}})

	done := make(chan coordinator.Result, 1)
	d.Dispatch(t.Context(), coordinator.TransferDelete, eventqueue.Event{Kind: eventqueue.KindLocalDeleted, Path: "c.txt"}, func(r coordinator.Result) {
		done <- r
	})
	r := <-done
	assert.True(t, r.Success)
	assert.False(t, fs.hasFile("c.txt"))

	// Deleting again (server already 404s) must still report success.
	done2 := make(chan coordinator.Result, 1)
	d.Dispatch(t.Context(), coordinator.TransferDelete, eventqueue.Event{Kind: eventqueue.KindLocalDeleted, Path: "c.txt"}, func(r coordinator.Result) {
		done2 <- r
	})
	r2 := <-done2
	assert.True(t, r2.Success)
}

func TestUpload_FalseConflictAdoptsServerVersionWithoutRenaming(t *testing.T) {
	srv, fs := newFakeServer(t)
	d, state, root := newTestDispatcher(t, srv)

	content := []byte("same on both sides")
	localPath := filepath.Join(root, "d.txt")
	require.NoError(t, os.WriteFile(localPath, content, 0o644))

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	fs.putFile("d.txt", fakeFile{
		File:        serverclient.File{ID: 5, Path: "d.txt", Size: int64(len(content)), ContentHash: hash, Version: 7},
		ChunkHashes: []string{"h1"},
	})

	// Local state thinks it's still at version 1 (stale), forcing a
	// pre-upload EarlyConflict against the server's version 7.
	require.NoError(t, state.MarkSynced("d.txt", 5, 1, []string{"old"}, time.Now(), int64(len(content))))

	done := make(chan coordinator.Result, 1)
	d.Dispatch(t.Context(), coordinator.TransferUpload, eventqueue.Event{Kind: eventqueue.KindLocalModified, Path: "d.txt"}, func(r coordinator.Result) {
		done <- r
	})

	select {
	case r := <-done:
		assert.True(t, r.Success)
		assert.Equal(t, int64(7), r.ServerVersion)
	case <-time.After(5 * time.Second):
		t.Fatal("conflict resolution did not complete")
	}

	// The original file must still be in place — no conflict copy created.
	got, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	matches, _ := filepath.Glob(filepath.Join(root, "d.conflict-*"))
	assert.Empty(t, matches)
}
