package restapi

import (
	"net/http"
	"strconv"
	"time"
)

const defaultChangesLimit = 200

func (s *Server) handleGetChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	since := time.Time{}
	if v := q.Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp, expected ISO-8601")
			return
		}
		since = parsed
	}

	limit := defaultChangesLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, hasMore, latest, err := s.meta.GetChanges(since, limit)
	if err != nil {
		s.logger.Error(err, "get_changes failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]changeJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toChangeJSON(e))
	}
	writeJSON(w, http.StatusOK, changesResponse{Changes: out, HasMore: hasMore, LatestTimestamp: latest})
}

func (s *Server) handleGetLatestChange(w http.ResponseWriter, r *http.Request) {
	latest, err := s.meta.LatestChangeTimestamp()
	if err != nil {
		s.logger.Error(err, "latest_change_timestamp failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]time.Time{"latest_timestamp": latest})
}
