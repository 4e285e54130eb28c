package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/okian/proctor/internal/domain/exam"
	"github.com/okian/proctor/internal/domain/violation"
)

// SessionDependencies defines the session store operations exposed over HTTP.
type SessionDependencies interface {
	FindActive(ctx context.Context, key exam.Key) (exam.Session, error)
	CreateSession(ctx context.Context, sess exam.Session) (exam.Session, error)
	GetSession(ctx context.Context, id string) (exam.Session, error)
	UpdateSession(ctx context.Context, sess exam.Session) (exam.Session, error)
	Violations(ctx context.Context, sessionID string) ([]violation.Log, error)
}

// SessionsHandler handles session store requests.
type SessionsHandler struct {
	deps SessionDependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

// HandleFindActive handles GET /sessions/active?candidate_id=&job_id=&assessment_type=.
func (h *SessionsHandler) HandleFindActive(w http.ResponseWriter, r *http.Request) {
	const op = "api.find_active_session"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	key := exam.Key{
		CandidateID:    q.Get("candidate_id"),
		JobID:          q.Get("job_id"),
		AssessmentType: exam.AssessmentType(q.Get("assessment_type")),
	}
	if err := key.Validate(); err != nil {
		writeKind(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	sess, err := h.deps.FindActive(r.Context(), key)
	if err != nil {
		writeKind(w, WrapKind(op, classify(err), err))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandleCreate handles POST /sessions requests.
func (h *SessionsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_session"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var sess exam.Session
	if err := json.NewDecoder(r.Body).Decode(&sess); err != nil {
		writeKind(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := sess.Key().Validate(); err != nil {
		writeKind(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	created, err := h.deps.CreateSession(r.Context(), sess)
	if err != nil {
		writeKind(w, WrapKind(op, classify(err), err))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// HandleSession handles GET|PUT /sessions/{id} and GET /sessions/{id}/violations.
func (h *SessionsHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.session"
	path := strings.TrimPrefix(r.URL.Path, "/sessions/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeKind(w, NewKind(op, ErrBadRequest))
		return
	}

	switch {
	case rest == "violations" && r.Method == http.MethodGet:
		h.violations(w, r, id)
	case rest == "" && r.Method == http.MethodGet:
		sess, err := h.deps.GetSession(r.Context(), id)
		if err != nil {
			writeKind(w, WrapKind(op, classify(err), err))
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case rest == "" && r.Method == http.MethodPut:
		h.update(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (h *SessionsHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	const op = "api.update_session"
	var sess exam.Session
	if err := json.NewDecoder(r.Body).Decode(&sess); err != nil {
		writeKind(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if sess.ID == "" {
		sess.ID = id
	}
	if sess.ID != id {
		writeKind(w, NewKind(op, ErrBadRequest))
		return
	}
	updated, err := h.deps.UpdateSession(r.Context(), sess)
	if err != nil {
		writeKind(w, WrapKind(op, classify(err), err))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *SessionsHandler) violations(w http.ResponseWriter, r *http.Request, id string) {
	const op = "api.session_violations"
	logs, err := h.deps.Violations(r.Context(), id)
	if err != nil {
		writeKind(w, WrapKind(op, classify(err), err))
		return
	}
	if logs == nil {
		logs = []violation.Log{}
	}
	writeJSON(w, http.StatusOK, logs)
}
