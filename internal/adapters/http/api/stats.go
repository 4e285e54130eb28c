package api

import (
	"encoding/json"
	"net/http"

	"github.com/okian/proctor/pkg/logger"
)

// StatsProvider reports the backend's queue, dedupe and store counters.
type StatsProvider interface {
	GetStats() map[string]any
}

// StatsHandler serves GET /stats.
type StatsHandler struct {
	provider StatsProvider
	logger   logger.Logger
}

// NewStatsHandler creates a stats handler over provider.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider, logger: logger.Get().Named("api")}
}

// HandleStats encodes the counters before writing so a value that cannot be
// encoded yields a 500 instead of a truncated body.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	const op = "api.stats"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	body, err := json.Marshal(h.provider.GetStats())
	if err != nil {
		h.logger.Error(r.Context(), "encoding stats", logger.Error(err))
		writeKind(w, WrapKind(op, ErrInternal, err))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if _, err := w.Write(append(body, '\n')); err != nil {
		h.logger.Debug(r.Context(), "writing stats", logger.Error(err))
	}
}
