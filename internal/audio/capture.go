package audio

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceUnavailable reports a capture device that could not be
// opened or disappeared mid-stream. Recoverable: the pipeline keeps
// running on whatever sources remain.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// ErrDeviceNotFound reports a selection request naming a device absent
// from the current enumeration snapshot.
var ErrDeviceNotFound = errors.New("audio device not found")

// Frame is one hardware callback's worth of raw audio in the device's
// native format. Normalization to engine format happens downstream in
// the mixer.
type Frame struct {
	Samples    []float32
	SampleRate int
	Channels   int
	CapturedAt time.Time
	Source     SourceTag
}

// CaptureSource wraps one physical or virtual audio input. Start
// launches a dedicated goroutine pulling hardware frames; the source
// must never block on the rest of the pipeline, so an unread Frames
// channel drops frames rather than stalling the device callback.
//
// Start acquires exclusive access to the underlying device; Stop
// releases it on every path and closes the Frames channel. Stop is
// synchronous: no frame is delivered after it returns.
type CaptureSource interface {
	Start(ctx context.Context) error
	Frames() <-chan Frame
	Stop() error
	Tag() SourceTag
	DeviceName() string
}
