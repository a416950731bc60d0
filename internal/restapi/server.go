// Package restapi implements the server's authenticated HTTP surface (C4):
// machines, files, chunk storage, trash, and the incremental change log.
package restapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/syncagent/syncagent/internal/audit"
	"github.com/syncagent/syncagent/internal/chunkstore"
	"github.com/syncagent/syncagent/internal/hub"
	"github.com/syncagent/syncagent/internal/metadatastore"
	"github.com/syncagent/syncagent/internal/observability"
	"github.com/syncagent/syncagent/internal/ratelimit"
)

// Server wires the metadata store, chunk store, and notification hub to
// gorilla/mux routes.
type Server struct {
	meta    *metadatastore.Store
	chunks  *chunkstore.Store
	index   *chunkstore.Index
	hub     *hub.Hub
	logger  *observability.Logger
	metrics *observability.Metrics
	audit   *audit.Log
	limits  *ratelimit.Registry
}

// New creates a Server. limits may be nil to disable rate limiting.
func New(meta *metadatastore.Store, chunks *chunkstore.Store, index *chunkstore.Index, h *hub.Hub,
	logger *observability.Logger, metrics *observability.Metrics, auditLog *audit.Log, limits *ratelimit.Registry) *Server {
	return &Server{meta: meta, chunks: chunks, index: index, hub: h, logger: logger, metrics: metrics, audit: auditLog, limits: limits}
}

// Router builds the full gorilla/mux router: health and registration are
// public, everything else requires bearer-token auth.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.metricsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/machines/register", s.handleRegisterMachine).Methods(http.MethodPost)

	// WebSocket routes authenticate themselves (client socket carries its
	// token in the path; dashboard socket relies on the out-of-band HTTP
	// admin session) since browser WebSocket clients cannot set a bearer
	// Authorization header on the handshake request.
	r.HandleFunc("/ws/client/{token}", s.handleClientSocket)
	r.HandleFunc("/ws/dashboard", s.handleDashboardSocket)

	auth := r.NewRoute().Subrouter()
	auth.Use(s.authMiddleware)

	auth.HandleFunc("/api/machines", s.handleListMachines).Methods(http.MethodGet)
	auth.HandleFunc("/api/machines/{id}", s.handleDeleteMachine).Methods(http.MethodDelete)

	auth.HandleFunc("/api/files", s.handleListFiles).Methods(http.MethodGet)
	auth.HandleFunc("/api/files", s.handleCreateFile).Methods(http.MethodPost)
	auth.HandleFunc("/api/files/{path:.*}", s.handleGetFile).Methods(http.MethodGet)
	auth.HandleFunc("/api/files/{path:.*}", s.handleUpdateFile).Methods(http.MethodPut)
	auth.HandleFunc("/api/files/{path:.*}", s.handleDeleteFile).Methods(http.MethodDelete)

	auth.HandleFunc("/api/chunks/{path:.*}", s.handleGetFileChunks).Methods(http.MethodGet)

	auth.HandleFunc("/api/storage/chunks/{hash}", s.handlePutChunk).Methods(http.MethodPut)
	auth.HandleFunc("/api/storage/chunks/{hash}", s.handleGetChunk).Methods(http.MethodGet)
	auth.HandleFunc("/api/storage/chunks/{hash}", s.handleHeadChunk).Methods(http.MethodHead)
	auth.HandleFunc("/api/storage/chunks/{hash}", s.handleDeleteChunk).Methods(http.MethodDelete)

	auth.HandleFunc("/api/trash", s.handleListTrash).Methods(http.MethodGet)
	auth.HandleFunc("/api/trash/{path:.*}/restore", s.handleRestoreFile).Methods(http.MethodPost)

	auth.HandleFunc("/api/changes", s.handleGetChanges).Methods(http.MethodGet)
	auth.HandleFunc("/api/changes/latest", s.handleGetLatestChange).Methods(http.MethodGet)

	return r
}

type ctxKey int

const machineCtxKey ctxKey = iota

func machineFromContext(ctx context.Context) *metadatastore.Machine {
	m, _ := ctx.Value(machineCtxKey).(*metadatastore.Machine)
	return m
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		if s.metrics != nil {
			route := routeTemplate(r)
			s.metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
			s.metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
