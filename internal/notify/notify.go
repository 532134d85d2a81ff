// Package notify surfaces engine milestones as desktop notifications.
// The engine runs headless behind a UI, so long-running outcomes like
// a finished model download deserve a nudge even when the UI is
// closed. Notification failures are ignored.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/gen2brain/beeep"

	"github.com/quietdesk/scribe-engine/internal/events"
)

const appName = "Scribe Engine"

// Notifier sends desktop notifications when enabled.
type Notifier struct {
	enabled bool
}

// New creates a Notifier.
func New(enabled bool) *Notifier {
	return &Notifier{enabled: enabled}
}

// CaptureStarted announces a new capture session.
func (n *Notifier) CaptureStarted(mic string, systemAudio bool) {
	msg := "Recording from " + mic
	if mic == "" {
		msg = "Recording"
	}
	if systemAudio {
		msg += " and system audio"
	}
	n.notify("Capture started", msg)
}

// CaptureStopped announces the end of a session.
func (n *Notifier) CaptureStopped(segments int64) {
	n.notify("Capture stopped", fmt.Sprintf("%d transcript segments", segments))
}

// ModelReady announces a completed model download.
func (n *Notifier) ModelReady(name string) {
	n.notify("Model ready", name+" is available for transcription")
}

// ModelFailed announces a failed model download.
func (n *Notifier) ModelFailed(name, reason string) {
	if len(reason) > 100 {
		reason = reason[:100] + "..."
	}
	n.notify("Model download failed", name+": "+reason)
}

// Degraded announces that transcription is failing repeatedly.
func (n *Notifier) Degraded() {
	n.notify("Transcription degraded", "The speech engine keeps failing; audio is being dropped")
}

// Watch subscribes to the bus and raises notifications for milestone
// events. Returns a stop function.
func (n *Notifier) Watch(bus *events.Bus) func() {
	ch, cancel := bus.Subscribe(events.Filter{Types: []string{
		events.TypeSessionStarted,
		events.TypeSessionEnded,
		events.TypeModelStatus,
		events.TypePipelineStatus,
	}})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			n.handle(e)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (n *Notifier) handle(e events.Event) {
	switch e.Type {
	case events.TypeSessionStarted:
		var p events.SessionPayload
		if json.Unmarshal(e.Data, &p) == nil {
			n.CaptureStarted(p.MicDevice, p.SystemAudio)
		}
	case events.TypeSessionEnded:
		var p events.SessionPayload
		if json.Unmarshal(e.Data, &p) == nil {
			n.CaptureStopped(p.Segments)
		}
	case events.TypeModelStatus:
		var p events.ModelStatusPayload
		if json.Unmarshal(e.Data, &p) != nil {
			return
		}
		switch p.State {
		case "available":
			n.ModelReady(p.Name)
		case "error":
			n.ModelFailed(p.Name, p.Error)
		}
	case events.TypePipelineStatus:
		var p events.PipelineStatusPayload
		if json.Unmarshal(e.Data, &p) == nil && p.State == "degraded" {
			n.Degraded()
		}
	}
}

func (n *Notifier) notify(title, message string) {
	if !n.enabled {
		return
	}
	_ = beeep.Notify(appName+": "+title, message, "")
}
