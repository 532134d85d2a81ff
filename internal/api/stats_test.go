package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/quietdesk/scribe-engine/internal/models"
	"github.com/quietdesk/scribe-engine/internal/pipeline"
)

func TestGetStats(t *testing.T) {
	t.Run("combines_pipeline_and_model_state", func(t *testing.T) {
		rig := newTestRig(t, rigOptions{})
		rec := rig.do("GET", "/api/v1/stats", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body struct {
			Pipeline    pipeline.Status          `json:"pipeline"`
			ActiveModel string                   `json:"active_model"`
			Models      map[string]models.Status `json:"models"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("JSON decode: %v", err)
		}
		if body.Pipeline.Capturing {
			t.Error("fresh rig reports active capture")
		}
		if body.ActiveModel != "" {
			t.Errorf("active_model = %q, want none", body.ActiveModel)
		}
		if len(body.Models) != 5 {
			t.Errorf("models = %d, want 5", len(body.Models))
		}
	})

	t.Run("reflects_a_running_session", func(t *testing.T) {
		rig := newTestRig(t, rigOptions{})
		if rec := rig.do("POST", "/api/v1/capture/start", ""); rec.Code != http.StatusOK {
			t.Fatalf("start: %d", rec.Code)
		}
		rec := rig.do("GET", "/api/v1/stats", "")
		var body struct {
			Pipeline pipeline.Status `json:"pipeline"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("JSON decode: %v", err)
		}
		if !body.Pipeline.Capturing || body.Pipeline.Session == nil {
			t.Errorf("pipeline = %+v, want an active session", body.Pipeline)
		}
	})
}
