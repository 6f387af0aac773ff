// Package server exposes the job control surface over HTTP.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/intake/internal/apperr"
	"github.com/raphaelgruber/intake/internal/artifact"
	"github.com/raphaelgruber/intake/internal/metrics"
	"github.com/raphaelgruber/intake/internal/service"
	"github.com/raphaelgruber/intake/internal/store"
)

// DefaultWatchInterval is how often a watch connection polls the job record.
const DefaultWatchInterval = 500 * time.Millisecond

// Deps are the services behind the HTTP surface.
type Deps struct {
	Jobs      *service.JobService
	Extract   *service.ExtractService
	Validator *artifact.Validator
	Metrics   *metrics.Collector
	OpLog     store.OperationLog
	Logger    *slog.Logger

	WatchInterval time.Duration
}

// Server routes HTTP requests to the job and extract services.
type Server struct {
	jobs      *service.JobService
	extract   *service.ExtractService
	validator *artifact.Validator
	metrics   *metrics.Collector
	oplog     store.OperationLog
	logger    *slog.Logger

	watchInterval time.Duration
	upgrader      websocket.Upgrader
	router        *mux.Router
}

// New creates a server with all routes registered.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := d.WatchInterval
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	s := &Server{
		jobs:          d.Jobs,
		extract:       d.Extract,
		validator:     d.Validator,
		metrics:       d.Metrics,
		oplog:         d.OpLog,
		logger:        logger,
		watchInterval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // CLI clients send no Origin
			},
		},
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(RecoveryMiddleware(s.logger), LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/engagements/{id}/uploads", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/engagements/{id}/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/retry", s.handleRetry).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/watch", s.handleWatch).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/items", s.handleListItems).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/extract", s.handleExtract).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "route not found"})
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

// writeError maps err to a status and a sanitized message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", "path", r.URL.Path, "error", apperr.Sanitize(err.Error()))
	}
	writeJSON(w, status, errorResponse{Error: apperr.PublicMessage(err)})
}
