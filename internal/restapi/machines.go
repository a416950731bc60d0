package restapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/syncagent/syncagent/internal/metadatastore"
	"github.com/syncagent/syncagent/internal/validation"
)

func (s *Server) handleRegisterMachine(w http.ResponseWriter, r *http.Request) {
	var req registerMachineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validation.NonEmpty(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rawToken, err := newBearerToken()
	if err != nil {
		s.logger.Error(err, "failed to generate bearer token")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	m, err := s.meta.RegisterMachine(req.Name, req.Platform, hashToken(req.Invitation), hashToken(rawToken))
	switch {
	case errors.Is(err, metadatastore.ErrInvalidToken):
		s.audit.AuthFailure(r.RemoteAddr, r.URL.Path, "invalid invitation")
		writeError(w, http.StatusUnauthorized, "invalid invitation")
		return
	case errors.Is(err, metadatastore.ErrDuplicateName):
		writeError(w, http.StatusConflict, "machine name already registered")
		return
	case err != nil:
		s.logger.Error(err, "register_machine failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.audit.MachineRegistered(m.ID, m.Name, m.Platform)
	writeJSON(w, http.StatusCreated, registerMachineResponse{Token: rawToken, Machine: toMachineJSON(m)})
}

func (s *Server) handleListMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := s.meta.ListMachines()
	if err != nil {
		s.logger.Error(err, "list machines failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]MachineJSON, 0, len(machines))
	for _, m := range machines {
		out = append(out, toMachineJSON(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteMachine(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid machine id")
		return
	}

	actor := machineFromContext(r.Context())
	if err := s.meta.DeleteMachine(id); err != nil {
		if errors.Is(err, metadatastore.ErrMachineNotFound) {
			writeError(w, http.StatusNotFound, "machine not found")
			return
		}
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	var actorID int64
	if actor != nil {
		actorID = actor.ID
	}
	s.audit.MachineDeleted(id, actorID)
	writeNoContent(w)
}

// newBearerToken generates a 256-bit random token, hex-encoded. Only its
// SHA-256 hash is ever persisted; the raw value is returned to the caller
// exactly once, at registration time.
func newBearerToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
