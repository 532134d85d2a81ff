package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quietdesk/scribe-engine/internal/models"
)

type ModelsHandler struct {
	catalog *models.Catalog
	manager *models.Manager
}

func NewModelsHandler(catalog *models.Catalog, manager *models.Manager) *ModelsHandler {
	return &ModelsHandler{catalog: catalog, manager: manager}
}

// modelView joins a catalog entry with its live status.
type modelView struct {
	Name      string              `json:"name"`
	SizeBytes int64               `json:"size_bytes"`
	Accuracy  models.AccuracyTier `json:"accuracy_tier"`
	Speed     models.SpeedTier    `json:"speed_tier"`
	Status    models.Status       `json:"status"`
	Active    bool                `json:"active"`
}

// ListModels returns every catalog model with status and which one is
// active.
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	statuses, active := h.manager.Snapshot()
	out := make([]modelView, 0, len(statuses))
	for _, d := range h.catalog.List() {
		out = append(out, modelView{
			Name:      d.Name,
			SizeBytes: d.SizeBytes,
			Accuracy:  d.Accuracy,
			Speed:     d.Speed,
			Status:    statuses[d.Name],
			Active:    d.Name == active,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"models": out,
		"active": active,
	})
}

// RequestDownload queues a model download. Repeated requests while
// one is queued or running are no-ops.
func (h *ModelsHandler) RequestDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	st, err := h.manager.RequestDownload(name)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"name":   name,
		"status": st,
	})
}

// SwitchModel loads the named model and makes it active. On failure
// the previous model keeps serving.
func (h *ModelsHandler) SwitchModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.manager.Switch(r.Context(), name); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"active": h.manager.Active(),
	})
}

// GetModelStatus returns one model's lifecycle status.
func (h *ModelsHandler) GetModelStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	st, ok := h.manager.Status(name)
	if !ok {
		WriteDomainError(w, models.ErrUnknownModel)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"name":   name,
		"status": st,
		"active": name == h.manager.Active(),
	})
}

// Routes registers model routes on the given router.
func (h *ModelsHandler) Routes(r chi.Router) {
	r.Get("/models", h.ListModels)
	r.Get("/models/{name}", h.GetModelStatus)
	r.Post("/models/{name}/download", h.RequestDownload)
	r.Post("/models/{name}/switch", h.SwitchModel)
}
