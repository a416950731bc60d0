package restapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/syncagent/syncagent/internal/chunkstore"
	"github.com/syncagent/syncagent/internal/validation"
)

const maxChunkBytes = 32 << 20 // generous ceiling above the ~16 MiB max chunk size

func (s *Server) handlePutChunk(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	if err := validation.ChunkHash(hash); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.index != nil && s.index.Has(hash) {
		// Idempotent at the blob level: re-uploading an existing hash is a no-op.
		io.Copy(io.Discard, io.LimitReader(r.Body, maxChunkBytes))
		writeJSON(w, http.StatusCreated, map[string]string{"status": "already_present"})
		return
	}

	body := io.LimitReader(r.Body, maxChunkBytes+1)
	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty chunk body")
		return
	}
	if len(data) > maxChunkBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "chunk too large")
		return
	}

	if err := s.chunks.Put(hash, data); err != nil {
		s.logger.Error(err, "chunk store put failed")
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	if s.index != nil {
		_ = s.index.Record(hash)
	}
	if s.metrics != nil {
		s.metrics.ChunksUploaded.Inc()
		s.metrics.BytesTransferred.WithLabelValues("upload").Add(float64(len(data)))
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	if err := validation.ChunkHash(hash); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	blob, err := s.chunks.Get(hash)
	if errors.Is(err, chunkstore.ErrChunkNotFound) {
		writeError(w, http.StatusNotFound, "chunk not found")
		return
	}
	if err != nil {
		s.logger.Error(err, "chunk store get failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if s.metrics != nil {
		s.metrics.ChunksDownloaded.Inc()
		s.metrics.BytesTransferred.WithLabelValues("download").Add(float64(len(blob)))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

func (s *Server) handleHeadChunk(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	if err := validation.ChunkHash(hash); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	exists := s.index != nil && s.index.Has(hash)
	if !exists {
		var err error
		exists, err = s.chunks.Exists(hash)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	if exists {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) handleDeleteChunk(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	if err := validation.ChunkHash(hash); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	exists, err := s.chunks.Exists(hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "chunk not found")
		return
	}

	if err := s.chunks.Delete(hash); err != nil {
		s.logger.Error(err, "chunk store delete failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if s.index != nil {
		_ = s.index.Forget(hash)
	}
	writeNoContent(w)
}
