package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quietdesk/scribe-engine/internal/audio"
	"github.com/quietdesk/scribe-engine/internal/pipeline"
	"github.com/quietdesk/scribe-engine/internal/settings"
)

type DevicesHandler struct {
	registry *audio.Registry
	pipe     *pipeline.Pipeline
}

func NewDevicesHandler(registry *audio.Registry, pipe *pipeline.Pipeline) *DevicesHandler {
	return &DevicesHandler{registry: registry, pipe: pipe}
}

// ListDevices returns a fresh enumeration snapshot. Hot-plugged
// devices appear on the next call; there is no change watching.
func (h *DevicesHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.registry.Devices()
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"total":   len(devices),
	})
}

type selectRequest struct {
	Name string `json:"name"`
}

// SelectDevice persists a microphone choice by name.
func (h *DevicesHandler) SelectDevice(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := h.pipe.SelectMic(req.Name); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.registry.Settings())
}

// GetSettings returns the persisted capture settings.
func (h *DevicesHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.registry.Settings())
}

// UpdateSettings replaces the capture settings. A named microphone
// must exist in a fresh snapshot; the system-audio toggle is applied
// to a running session immediately.
func (h *DevicesHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var s settings.CaptureSettings
	if err := DecodeJSON(r, &s); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if s.SelectedMicDevice != nil {
		if err := h.validateMic(*s.SelectedMicDevice); err != nil {
			WriteDomainError(w, err)
			return
		}
	}
	if err := h.pipe.ApplySettings(r.Context(), s); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.registry.Settings())
}

func (h *DevicesHandler) validateMic(name string) error {
	devices, err := h.registry.Devices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		if d.Direction == audio.DirectionInput && d.Name == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", audio.ErrDeviceNotFound, name)
}

// Routes registers device and settings routes on the given router.
func (h *DevicesHandler) Routes(r chi.Router) {
	r.Get("/devices", h.ListDevices)
	r.Post("/devices/select", h.SelectDevice)
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.UpdateSettings)
}
