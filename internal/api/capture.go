package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quietdesk/scribe-engine/internal/pipeline"
	"github.com/quietdesk/scribe-engine/internal/settings"
)

type CaptureHandler struct {
	pipe *pipeline.Pipeline
}

func NewCaptureHandler(pipe *pipeline.Pipeline) *CaptureHandler {
	return &CaptureHandler{pipe: pipe}
}

// StartCapture begins a capture session. The body may carry capture
// settings to apply first; an empty body starts with the persisted
// ones.
func (h *CaptureHandler) StartCapture(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > 0 {
		var s settings.CaptureSettings
		if err := DecodeJSON(r, &s); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if err := h.pipe.ApplySettings(r.Context(), s); err != nil {
			WriteDomainError(w, err)
			return
		}
	}

	info, err := h.pipe.StartCapture(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, info)
}

// StopCapture ends the session. It returns once queued chunks have
// drained or the drain timeout discarded them.
func (h *CaptureHandler) StopCapture(w http.ResponseWriter, r *http.Request) {
	summary, err := h.pipe.StopCapture()
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// GetStatus reports whether capture is running and the worker's
// condition.
func (h *CaptureHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.pipe.Status())
}

// Routes registers capture routes on the given router.
func (h *CaptureHandler) Routes(r chi.Router) {
	r.Post("/capture/start", h.StartCapture)
	r.Post("/capture/stop", h.StopCapture)
	r.Get("/capture", h.GetStatus)
}
