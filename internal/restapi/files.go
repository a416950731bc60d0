package restapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/syncagent/syncagent/internal/hub"
	"github.com/syncagent/syncagent/internal/metadatastore"
	"github.com/syncagent/syncagent/internal/validation"
)

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.meta.ListFiles()
	if err != nil {
		s.logger.Error(err, "list files failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	prefix := r.URL.Query().Get("prefix")
	out := make([]FileJSON, 0, len(files))
	for _, f := range files {
		if prefix != "" && !hasPrefix(f.Path, prefix) {
			continue
		}
		out = append(out, toFileJSON(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func hasPrefix(path, prefix string) bool {
	return len(path) >= len(prefix) && path[:len(prefix)] == prefix
}

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	var req createFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validation.FilePath(req.Path); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	machine := machineFromContext(r.Context())
	f, err := s.meta.CreateFile(req.Path, req.Size, req.ContentHash, req.Chunks, machine.ID)
	if errors.Is(err, metadatastore.ErrPathExists) {
		writeError(w, http.StatusConflict, "path already exists")
		return
	}
	if err != nil {
		s.logger.Error(err, "create_file failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.notifyChange(hub.ActionCreated, f.Path, machine.ID)
	if s.metrics != nil {
		s.metrics.ChangeLogAppendsTotal.Inc()
	}
	writeJSON(w, http.StatusCreated, toFileJSON(f))
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	f, err := s.meta.GetFile(path)
	if errors.Is(err, metadatastore.ErrFileNotFound) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.logger.Error(err, "get_file failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toFileJSON(f))
}

func (s *Server) handleUpdateFile(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	var req updateFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validation.ParentVersion(req.ParentVersion); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	machine := machineFromContext(r.Context())
	f, err := s.meta.UpdateFile(path, req.Size, req.ContentHash, req.ParentVersion, req.Chunks, machine.ID)
	switch {
	case errors.Is(err, metadatastore.ErrFileNotFound):
		writeError(w, http.StatusNotFound, "file not found")
		return
	case errors.Is(err, metadatastore.ErrVersionConflict):
		writeError(w, http.StatusConflict, "version conflict")
		return
	case err != nil:
		s.logger.Error(err, "update_file failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.notifyChange(hub.ActionUpdated, f.Path, machine.ID)
	if s.metrics != nil {
		s.metrics.ChangeLogAppendsTotal.Inc()
	}
	writeJSON(w, http.StatusOK, toFileJSON(f))
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	machine := machineFromContext(r.Context())

	err := s.meta.DeleteFile(path, machine.ID)
	if errors.Is(err, metadatastore.ErrFileNotFound) {
		// Idempotent delete: an already-deleted path is success (§7).
		writeNoContent(w)
		return
	}
	if err != nil {
		s.logger.Error(err, "delete_file failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.notifyChange(hub.ActionDeleted, path, machine.ID)
	if s.metrics != nil {
		s.metrics.ChangeLogAppendsTotal.Inc()
	}
	writeNoContent(w)
}

func (s *Server) handleGetFileChunks(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	f, err := s.meta.GetFile(path)
	if errors.Is(err, metadatastore.ErrFileNotFound) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.logger.Error(err, "get_file failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	hashes, err := s.meta.ChunksFor(f.ID)
	if err != nil {
		s.logger.Error(err, "chunks_for failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, hashes)
}

func (s *Server) handleListTrash(w http.ResponseWriter, r *http.Request) {
	// Trash listing reads the file rows whose deleted_at is set directly
	// from the metadata store; the change log is not consulted.
	files, err := s.meta.ListTrash()
	if err != nil {
		s.logger.Error(err, "list trash failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]FileJSON, 0, len(files))
	for _, f := range files {
		out = append(out, toFileJSON(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRestoreFile(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	machine := machineFromContext(r.Context())

	f, err := s.meta.RestoreFile(path)
	if errors.Is(err, metadatastore.ErrFileNotFound) {
		writeError(w, http.StatusNotFound, "file not found in trash")
		return
	}
	if err != nil {
		s.logger.Error(err, "restore_file failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.notifyChange(hub.ActionCreated, f.Path, machine.ID)
	writeJSON(w, http.StatusOK, toFileJSON(f))
}

func (s *Server) notifyChange(action hub.ChangeAction, path string, originMachineID int64) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastFileChange(action, path, originMachineID)
}
