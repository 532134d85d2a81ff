package api

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/quietdesk/scribe-engine/internal/audio"
	"github.com/quietdesk/scribe-engine/internal/models"
	"github.com/quietdesk/scribe-engine/internal/pipeline"
)

// Pinger reports whether the transcription backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionChecker reports broker connectivity. Nil means the broker
// was never configured.
type ConnectionChecker interface {
	IsConnected() bool
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	engine    Pinger
	mqtt      ConnectionChecker
	manager   *models.Manager
	pipe      *pipeline.Pipeline
	registry  *audio.Registry
	modelsDir string
	version   string
	startTime time.Time
}

func NewHealthHandler(engine Pinger, mqtt ConnectionChecker, manager *models.Manager, pipe *pipeline.Pipeline, registry *audio.Registry, modelsDir, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		engine:    engine,
		mqtt:      mqtt,
		manager:   manager,
		pipe:      pipe,
		registry:  registry,
		modelsDir: modelsDir,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Model storage check. Without it neither downloads nor loads can work.
	if info, err := os.Stat(h.modelsDir); err != nil || !info.IsDir() {
		checks["models_dir"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["models_dir"] = "ok"
	}

	// Whisper server check. Capture keeps running without it, so this
	// only degrades.
	if h.engine != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.engine.Ping(ctx)
		cancel()
		if err != nil {
			checks["whisper"] = "unreachable"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["whisper"] = "ok"
		}
	}

	// Audio host check. No input devices is worth surfacing, but the
	// engine still serves model and settings operations.
	if h.registry != nil {
		devices, err := h.registry.Devices()
		switch {
		case err != nil:
			checks["audio"] = "error"
			if status == "healthy" {
				status = "degraded"
			}
		case len(devices) == 0:
			checks["audio"] = "no_devices"
			if status == "healthy" {
				status = "degraded"
			}
		default:
			checks["audio"] = "ok"
		}
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// Active model check
	if h.manager != nil {
		if active := h.manager.Active(); active != "" {
			checks["model"] = active
		} else {
			checks["model"] = "none"
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	// Capture state is informational only.
	if h.pipe != nil {
		if h.pipe.Status().Capturing {
			checks["capture"] = "active"
		} else {
			checks["capture"] = "idle"
		}
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
