// Package events carries the engine's observable event stream: every
// transcript segment and lifecycle signal flows through the Bus, which
// feeds the SSE endpoint, the MQTT publisher and anything else that
// subscribes.
package events

import "encoding/json"

// Event types published on the bus.
const (
	TypeSegment        = "segment"
	TypeSessionStarted = "session_started"
	TypeSessionEnded   = "session_ended"
	TypePipelineStatus = "pipeline_status"
	TypeDroppedChunk   = "dropped_chunk"
	TypeModelStatus    = "model_status"
	TypeDeviceLost     = "device_lost"
)

// Event is one bus message, ready for SSE framing.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Session   string          `json:"session,omitempty"`
	Model     string          `json:"model,omitempty"`
	Source    string          `json:"source,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Filter narrows a subscription. Empty slices match everything.
type Filter struct {
	Types    []string
	Sessions []string
	Models   []string
}

// SegmentPayload is the data of a TypeSegment event.
type SegmentPayload struct {
	ID         string  `json:"id"`
	Session    string  `json:"session"`
	Sequence   int64   `json:"sequence"`
	Source     string  `json:"source"`
	Text       string  `json:"text"`
	Start      string  `json:"start"`
	End        string  `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
	Model      string  `json:"model,omitempty"`
}

// DroppedChunkPayload is the data of a TypeDroppedChunk event: the
// operational "dropped chunk" signal.
type DroppedChunkPayload struct {
	Sequence   int64  `json:"sequence"`
	Source     string `json:"source"`
	QueueDepth int    `json:"queue_depth"`
	Stage      string `json:"stage"`
}

// PipelineStatusPayload is the data of a TypePipelineStatus event.
type PipelineStatusPayload struct {
	Session string `json:"session,omitempty"`
	State   string `json:"state"`
	Reason  string `json:"reason,omitempty"`
}

// ModelStatusPayload is the data of a TypeModelStatus event.
type ModelStatusPayload struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Progress int    `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`
	Active   bool   `json:"active,omitempty"`
}

// SessionPayload is the data of session start/end events.
type SessionPayload struct {
	Session     string `json:"session"`
	MicDevice   string `json:"mic_device,omitempty"`
	SystemAudio bool   `json:"system_audio"`
	Segments    int64  `json:"segments,omitempty"`
	Discarded   int    `json:"discarded,omitempty"`
}

// DeviceLostPayload is the data of a TypeDeviceLost event: a capture
// source died mid-session while the pipeline kept going.
type DeviceLostPayload struct {
	Session string `json:"session"`
	Device  string `json:"device"`
	Source  string `json:"source"`
	Error   string `json:"error"`
}
