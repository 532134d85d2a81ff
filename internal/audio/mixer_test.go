package audio

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func waitChunk(t *testing.T, ch <-chan *Chunk) *Chunk {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a chunk")
		return nil
	}
}

func assertNoChunk(t *testing.T, ch <-chan *Chunk) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected chunk seq %d source %s", c.Sequence, c.Source)
	case <-time.After(100 * time.Millisecond):
	}
}

func engineFrame(tag SourceTag, at time.Time, samples ...float32) Frame {
	return Frame{
		Samples:    samples,
		SampleRate: EngineSampleRate,
		Channels:   1,
		CapturedAt: at,
		Source:     tag,
	}
}

func TestParseMixMode(t *testing.T) {
	cases := []struct {
		name   string
		in     string
		want   MixMode
		wantOK bool
	}{
		{"empty_defaults_to_tagged", "", MixTagged, true},
		{"tagged", "tagged", MixTagged, true},
		{"sum", "sum", MixSum, true},
		{"unknown_rejected", "blend", MixTagged, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseMixMode(tc.in)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("ParseMixMode(%q) = %v, %v, want %v, %v", tc.in, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestMixerTagged(t *testing.T) {
	t.Run("cuts_fixed_windows_with_increasing_sequences", func(t *testing.T) {
		chunks := make(chan *Chunk, 16)
		m := NewMixer(MixerOptions{
			ChunkSamples: 4,
			Mode:         MixTagged,
			OnChunk:      func(c *Chunk) { chunks <- c },
			Log:          zerolog.Nop(),
		})

		frames := make(chan Frame, 4)
		m.Attach(SourceMicrophone, frames)

		t0 := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
		frames <- engineFrame(SourceMicrophone, t0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

		first := waitChunk(t, chunks)
		if first.Sequence != 1 || first.Source != SourceMicrophone {
			t.Errorf("first chunk seq %d source %s, want 1 microphone", first.Sequence, first.Source)
		}
		if len(first.Samples) != 4 || first.Samples[0] != 1 {
			t.Errorf("first chunk samples = %v, want [1 2 3 4]", first.Samples)
		}
		if !first.CapturedAt.Equal(t0) {
			t.Errorf("first chunk start = %v, want %v", first.CapturedAt, t0)
		}

		second := waitChunk(t, chunks)
		if second.Sequence != 2 {
			t.Errorf("second chunk seq = %d, want 2", second.Sequence)
		}
		wantStart := t0.Add(4 * time.Second / EngineSampleRate)
		if !second.CapturedAt.Equal(wantStart) {
			t.Errorf("second chunk start = %v, want %v", second.CapturedAt, wantStart)
		}

		// Closing the source flushes its two-sample tail.
		close(frames)
		tail := waitChunk(t, chunks)
		if tail.Sequence != 3 || len(tail.Samples) != 2 {
			t.Errorf("tail chunk seq %d len %d, want seq 3 len 2", tail.Sequence, len(tail.Samples))
		}
		if tail.Samples[0] != 9 || tail.Samples[1] != 10 {
			t.Errorf("tail samples = %v, want [9 10]", tail.Samples)
		}

		m.Stop()
		assertNoChunk(t, chunks)
	})

	t.Run("interleaves_sources_by_arrival", func(t *testing.T) {
		chunks := make(chan *Chunk, 16)
		m := NewMixer(MixerOptions{
			ChunkSamples: 4,
			Mode:         MixTagged,
			OnChunk:      func(c *Chunk) { chunks <- c },
			Log:          zerolog.Nop(),
		})

		mic := make(chan Frame, 4)
		sys := make(chan Frame, 4)
		m.Attach(SourceMicrophone, mic)
		m.Attach(SourceSystemAudio, sys)

		t0 := time.Now()
		mic <- engineFrame(SourceMicrophone, t0, 1, 1, 1, 1)
		first := waitChunk(t, chunks)
		sys <- engineFrame(SourceSystemAudio, t0, 2, 2, 2, 2)
		second := waitChunk(t, chunks)

		if first.Source != SourceMicrophone || second.Source != SourceSystemAudio {
			t.Errorf("sources = %s, %s, want microphone, system_audio", first.Source, second.Source)
		}
		if first.Sequence != 1 || second.Sequence != 2 {
			t.Errorf("sequences = %d, %d, want 1, 2", first.Sequence, second.Sequence)
		}

		close(mic)
		close(sys)
		m.Stop()
	})

	t.Run("source_attached_mid_stream_joins_cleanly", func(t *testing.T) {
		chunks := make(chan *Chunk, 16)
		m := NewMixer(MixerOptions{
			ChunkSamples: 4,
			Mode:         MixTagged,
			OnChunk:      func(c *Chunk) { chunks <- c },
			Log:          zerolog.Nop(),
		})

		mic := make(chan Frame, 4)
		m.Attach(SourceMicrophone, mic)
		mic <- engineFrame(SourceMicrophone, time.Now(), 1, 1, 1, 1)
		first := waitChunk(t, chunks)

		// System audio toggled on mid-session.
		sys := make(chan Frame, 4)
		m.Attach(SourceSystemAudio, sys)
		sys <- engineFrame(SourceSystemAudio, time.Now(), 2, 2, 2, 2)
		second := waitChunk(t, chunks)

		if first.Source != SourceMicrophone || first.Sequence != 1 {
			t.Errorf("pre-toggle chunk seq %d source %s, want 1 microphone", first.Sequence, first.Source)
		}
		if second.Source != SourceSystemAudio || second.Sequence != 2 {
			t.Errorf("post-toggle chunk seq %d source %s, want 2 system_audio", second.Sequence, second.Source)
		}

		close(mic)
		close(sys)
		m.Stop()
	})

	t.Run("sequence_counter_spans_mixers", func(t *testing.T) {
		var seq atomic.Int64
		chunks := make(chan *Chunk, 16)

		first := NewMixer(MixerOptions{
			ChunkSamples: 4,
			Seq:          &seq,
			OnChunk:      func(c *Chunk) { chunks <- c },
			Log:          zerolog.Nop(),
		})
		mic := make(chan Frame, 1)
		first.Attach(SourceMicrophone, mic)
		mic <- engineFrame(SourceMicrophone, time.Now(), 1, 1, 1, 1)
		if c := waitChunk(t, chunks); c.Sequence != 1 {
			t.Fatalf("first session chunk seq = %d, want 1", c.Sequence)
		}
		close(mic)
		first.Stop()

		second := NewMixer(MixerOptions{
			ChunkSamples: 4,
			Seq:          &seq,
			OnChunk:      func(c *Chunk) { chunks <- c },
			Log:          zerolog.Nop(),
		})
		mic2 := make(chan Frame, 1)
		second.Attach(SourceMicrophone, mic2)
		mic2 <- engineFrame(SourceMicrophone, time.Now(), 2, 2, 2, 2)
		if c := waitChunk(t, chunks); c.Sequence != 2 {
			t.Errorf("second session chunk seq = %d, want 2", c.Sequence)
		}
		close(mic2)
		second.Stop()
	})

	t.Run("normalizes_native_frames", func(t *testing.T) {
		chunks := make(chan *Chunk, 16)
		m := NewMixer(MixerOptions{
			ChunkSamples: 1,
			Mode:         MixTagged,
			OnChunk:      func(c *Chunk) { chunks <- c },
			Log:          zerolog.Nop(),
		})

		frames := make(chan Frame, 1)
		m.Attach(SourceMicrophone, frames)
		// Stereo at 32 kHz: downmixes to [0.5, 0.25], resamples to [0.5].
		frames <- Frame{
			Samples:    []float32{0.25, 0.75, -0.5, 1.0},
			SampleRate: 32000,
			Channels:   2,
			CapturedAt: time.Now(),
			Source:     SourceMicrophone,
		}

		c := waitChunk(t, chunks)
		if len(c.Samples) != 1 || c.Samples[0] != 0.5 {
			t.Errorf("normalized samples = %v, want [0.5]", c.Samples)
		}
		if c.SampleRate != EngineSampleRate {
			t.Errorf("sample rate = %d, want %d", c.SampleRate, EngineSampleRate)
		}

		close(frames)
		m.Stop()
	})
}

func TestMixerSum(t *testing.T) {
	t.Run("sums_aligned_windows_with_clipping", func(t *testing.T) {
		chunks := make(chan *Chunk, 16)
		m := NewMixer(MixerOptions{
			ChunkSamples: 4,
			Mode:         MixSum,
			Wait:         time.Hour,
			OnChunk:      func(c *Chunk) { chunks <- c },
			Log:          zerolog.Nop(),
		})

		mic := make(chan Frame, 4)
		sys := make(chan Frame, 4)
		m.Attach(SourceMicrophone, mic)
		m.Attach(SourceSystemAudio, sys)

		t0 := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
		mic <- engineFrame(SourceMicrophone, t0, 0.5, 0.5, 0.75, -0.75)
		sys <- engineFrame(SourceSystemAudio, t0.Add(time.Millisecond), 0.5, 0.25, 0.75, -0.75)

		c := waitChunk(t, chunks)
		if c.Source != SourceMixed {
			t.Fatalf("source = %s, want mixed", c.Source)
		}
		want := []float32{1, 0.75, 1, -1}
		if len(c.Samples) != len(want) {
			t.Fatalf("len = %d, want %d", len(c.Samples), len(want))
		}
		for i := range want {
			if c.Samples[i] != want[i] {
				t.Errorf("samples[%d] = %v, want %v", i, c.Samples[i], want[i])
			}
		}
		if !c.CapturedAt.Equal(t0) {
			t.Errorf("start = %v, want the earlier source start %v", c.CapturedAt, t0)
		}

		close(mic)
		close(sys)
		m.Stop()
	})

	t.Run("single_stream_keeps_its_own_tag", func(t *testing.T) {
		chunks := make(chan *Chunk, 16)
		m := NewMixer(MixerOptions{
			ChunkSamples: 4,
			Mode:         MixSum,
			OnChunk:      func(c *Chunk) { chunks <- c },
			Log:          zerolog.Nop(),
		})

		mic := make(chan Frame, 4)
		m.Attach(SourceMicrophone, mic)
		mic <- engineFrame(SourceMicrophone, time.Now(), 1, 1, 1, 1)

		c := waitChunk(t, chunks)
		if c.Source != SourceMicrophone {
			t.Errorf("source = %s, want microphone for a mic-only session", c.Source)
		}

		close(mic)
		m.Stop()
	})

	t.Run("drops_partial_sibling_after_wait", func(t *testing.T) {
		chunks := make(chan *Chunk, 16)
		var mu sync.Mutex
		var droppedTag SourceTag
		var droppedSamples int
		m := NewMixer(MixerOptions{
			ChunkSamples: 4,
			Mode:         MixSum,
			Wait:         50 * time.Millisecond,
			OnChunk:      func(c *Chunk) { chunks <- c },
			OnDrop: func(tag SourceTag, n int) {
				mu.Lock()
				droppedTag, droppedSamples = tag, n
				mu.Unlock()
			},
			Log: zerolog.Nop(),
		})

		mic := make(chan Frame, 4)
		sys := make(chan Frame, 4)
		m.Attach(SourceMicrophone, mic)
		m.Attach(SourceSystemAudio, sys)

		sys <- engineFrame(SourceSystemAudio, time.Now(), 0.25, 0.25)
		mic <- engineFrame(SourceMicrophone, time.Now(), 0.5, 0.5, 0.5, 0.5)

		c := waitChunk(t, chunks)
		if c.Source != SourceMixed {
			t.Errorf("source = %s, want mixed", c.Source)
		}
		if len(c.Samples) != 4 || c.Samples[0] != 0.5 {
			t.Errorf("samples = %v, want the full mic window", c.Samples)
		}
		mu.Lock()
		if droppedTag != SourceSystemAudio || droppedSamples != 2 {
			t.Errorf("dropped %d samples from %s, want 2 from system_audio", droppedSamples, droppedTag)
		}
		mu.Unlock()

		close(mic)
		close(sys)
		m.Stop()
	})
}
