package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/proctor/internal/domain/dedupe"
	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/pkg/metrics"
)

// maxBatchBytes bounds a single upload body.
const maxBatchBytes = 1 << 20

// ViolationDependencies defines what the violation sink needs.
type ViolationDependencies interface {
	dedupe.Deduper
	Enqueue(ctx context.Context, batch violation.Batch, fingerprint string) bool
}

// ViolationsHandler handles violation batch uploads.
type ViolationsHandler struct {
	deps ViolationDependencies
}

// NewViolationsHandler creates a new violations handler.
func NewViolationsHandler(deps ViolationDependencies) *ViolationsHandler {
	return &ViolationsHandler{deps: deps}
}

// HandlePostViolations handles POST /violations requests.
// A batch already accepted is acknowledged as a duplicate so client retries are idempotent.
func (h *ViolationsHandler) HandlePostViolations(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_violations"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var batch violation.Batch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBytes)).Decode(&batch); err != nil {
		metrics.RecordViolationRejected("decode")
		writeKind(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := batch.Validate(); err != nil {
		metrics.RecordViolationRejected("invalid")
		writeKind(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	fp := batch.Fingerprint()
	if h.deps.SeenAndRecord(r.Context(), fp) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}

	if ok := h.deps.Enqueue(r.Context(), batch, fp); !ok {
		// Rollback the "seen" status since enqueue failed
		h.deps.Unrecord(r.Context(), fp)
		metrics.RecordViolationRejected("backpressure")
		writeKind(w, NewKind(op, ErrBackpressure))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", Duplicate: false})
}
