// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/proctor/internal/adapters/repository"
	"github.com/okian/proctor/internal/domain/exam"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	ViolationDependencies
	SessionDependencies
}

// Server wires HTTP routes for the proctoring backend.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	violationsHandler *ViolationsHandler
	sessionsHandler   *SessionsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(statsProvider),
		violationsHandler: NewViolationsHandler(deps),
		sessionsHandler:   NewSessionsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/violations", MetricsMiddleware(s.violationsHandler.HandlePostViolations, "violations"))
	mux.HandleFunc("/sessions", MetricsMiddleware(s.sessionsHandler.HandleCreate, "sessions"))
	mux.HandleFunc("/sessions/active", MetricsMiddleware(s.sessionsHandler.HandleFindActive, "sessions_active"))
	mux.HandleFunc("/sessions/", MetricsMiddleware(s.sessionsHandler.HandleSession, "session"))
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// classify maps store errors onto API kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, exam.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, exam.ErrActiveExists),
		errors.Is(err, repository.ErrSessionClosed),
		errors.Is(err, repository.ErrDuplicateID):
		return ErrConflict
	case errors.Is(err, exam.ErrInvalidKey), errors.Is(err, exam.ErrInvalidSession):
		return ErrBadRequest
	default:
		return ErrInternal
	}
}

// writeKind writes err with the status code of its kind.
func writeKind(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
