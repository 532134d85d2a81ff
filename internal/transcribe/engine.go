// Package transcribe drains the chunk queue through the speech engine
// and turns audio into transcript segments. The engine itself is an
// external collaborator reached through the Engine interface; this
// package owns the consumer loop, the active-model handle and the
// failure accounting around it.
package transcribe

import (
	"context"
	"errors"
	"time"
)

// ErrEngine classifies per-chunk engine invocation failures. They are
// absorbed by the worker: the chunk is discarded, the failure counted,
// and only a streak of them escalates.
var ErrEngine = errors.New("engine failure")

// ErrSwitchFailed reports a model switch whose replacement failed to
// initialize. The previous model stays active.
var ErrSwitchFailed = errors.New("model switch failed")

// Segment is one recognized span within a chunk, with offsets relative
// to the chunk's start.
type Segment struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// ModelHandle is a loaded inference context. At most one handle is
// active at a time; the worker serializes every Infer call against the
// swap that retires the handle, so Close never races an inference.
type ModelHandle interface {
	Infer(ctx context.Context, samples []float32) ([]Segment, error)
	ModelPath() string
	Close() error
}

// Engine loads model files into inference handles. Load fully
// initializes the replacement before the caller swaps it in; a Load
// error leaves whatever handle was active untouched.
type Engine interface {
	Load(ctx context.Context, modelPath string) (ModelHandle, error)
	Name() string
}
