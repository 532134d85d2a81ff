package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quietdesk/scribe-engine/internal/models"
	"github.com/quietdesk/scribe-engine/internal/pipeline"
)

type StatsHandler struct {
	pipe    *pipeline.Pipeline
	manager *models.Manager
}

func NewStatsHandler(pipe *pipeline.Pipeline, manager *models.Manager) *StatsHandler {
	return &StatsHandler{pipe: pipe, manager: manager}
}

// GetStats returns a combined pipeline and model snapshot.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	statuses, active := h.manager.Snapshot()
	WriteJSON(w, http.StatusOK, map[string]any{
		"pipeline":     h.pipe.Status(),
		"active_model": active,
		"models":       statuses,
	})
}

// Routes registers stats routes on the given router.
func (h *StatsHandler) Routes(r chi.Router) {
	r.Get("/stats", h.GetStats)
}
