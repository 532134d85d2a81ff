package audio

import (
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV writes samples as a 16-bit PCM mono WAV. Float samples are
// assumed in [-1, 1]; anything beyond clips.
func EncodeWAV(w io.WriteSeeker, samples []float32, rate int) error {
	enc := wav.NewEncoder(w, rate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		buf.Data[i] = int(clip(s) * 32767)
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// WAVBytes encodes samples into an in-memory WAV, for handing chunks
// to HTTP collaborators without touching disk.
func WAVBytes(samples []float32, rate int) ([]byte, error) {
	var ws bufferSeeker
	if err := EncodeWAV(&ws, samples, rate); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// bufferSeeker adapts a byte slice to io.WriteSeeker; the wav encoder
// seeks back to patch the header on Close.
type bufferSeeker struct {
	buf []byte
	pos int
}

func (b *bufferSeeker) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.buf) {
		grown := make([]byte, need)
		copy(grown, b.buf)
		b.buf = grown
	}
	copy(b.buf[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *bufferSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.buf)) + offset
	default:
		return 0, fmt.Errorf("bad whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek %d", next)
	}
	b.pos = int(next)
	return next, nil
}
