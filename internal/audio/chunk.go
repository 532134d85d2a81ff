package audio

import (
	"encoding/json"
	"fmt"
	"time"
)

// EngineSampleRate is the only sample rate the speech engine accepts.
// Everything upstream is resampled to it.
const EngineSampleRate = 16000

// SourceTag identifies which capture path produced a chunk.
type SourceTag int

const (
	SourceMicrophone SourceTag = iota
	SourceSystemAudio
	SourceMixed
)

var sourceTagNames = map[SourceTag]string{
	SourceMicrophone:  "microphone",
	SourceSystemAudio: "system_audio",
	SourceMixed:       "mixed",
}

func (t SourceTag) String() string {
	if name, ok := sourceTagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("source(%d)", int(t))
}

// MarshalJSON emits the tag as its string name.
func (t SourceTag) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the string names produced by MarshalJSON.
func (t *SourceTag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for tag, name := range sourceTagNames {
		if name == s {
			*t = tag
			return nil
		}
	}
	return fmt.Errorf("unknown source tag %q", s)
}

// Chunk is one unit of normalized audio handed from capture to
// transcription. It is created once, then handed off producer to queue
// to consumer; no stage mutates it after production.
type Chunk struct {
	// Sequence is assigned by the mixer and strictly increases across
	// all sources for the life of the process.
	Sequence int64

	// CapturedAt is the wall-clock time of the first sample.
	CapturedAt time.Time

	Source     SourceTag
	Samples    []float32
	SampleRate int
}

// Duration returns the chunk's length in time.
func (c *Chunk) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// End returns the wall-clock time just past the last sample.
func (c *Chunk) End() time.Time {
	return c.CapturedAt.Add(c.Duration())
}
