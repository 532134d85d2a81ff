package audio

import (
	"bytes"
	"testing"

	"github.com/go-audio/wav"
)

func TestWAVBytes(t *testing.T) {
	t.Run("roundtrips_16bit_mono_pcm", func(t *testing.T) {
		b, err := WAVBytes([]float32{0, 0.5, -0.5, 1}, EngineSampleRate)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}

		dec := wav.NewDecoder(bytes.NewReader(b))
		buf, err := dec.FullPCMBuffer()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if dec.SampleRate != EngineSampleRate {
			t.Errorf("sample rate = %d, want %d", dec.SampleRate, EngineSampleRate)
		}
		if dec.NumChans != 1 {
			t.Errorf("channels = %d, want 1", dec.NumChans)
		}
		want := []int{0, 16383, -16383, 32767}
		if len(buf.Data) != len(want) {
			t.Fatalf("samples = %d, want %d", len(buf.Data), len(want))
		}
		for i := range want {
			if buf.Data[i] != want[i] {
				t.Errorf("sample[%d] = %d, want %d", i, buf.Data[i], want[i])
			}
		}
	})

	t.Run("clips_out_of_range_samples", func(t *testing.T) {
		b, err := WAVBytes([]float32{2, -2}, EngineSampleRate)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		buf, err := wav.NewDecoder(bytes.NewReader(b)).FullPCMBuffer()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if buf.Data[0] != 32767 || buf.Data[1] != -32767 {
			t.Errorf("samples = %v, want [32767 -32767]", buf.Data)
		}
	})

	t.Run("writes_riff_header", func(t *testing.T) {
		b, err := WAVBytes([]float32{0.25}, 8000)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if len(b) < 12 {
			t.Fatalf("wav too short: %d bytes", len(b))
		}
		if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
			t.Errorf("header = %q %q, want RIFF WAVE", b[0:4], b[8:12])
		}
	})
}
