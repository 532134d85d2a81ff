package audio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// MixMode selects how simultaneous microphone and system-audio streams
// combine into the chunk stream.
type MixMode string

const (
	// MixTagged emits per-source chunks interleaved by arrival order.
	MixTagged MixMode = "tagged"
	// MixSum sums window-aligned samples from both sources into Mixed
	// chunks, hard-clipped to [-1, 1].
	MixSum MixMode = "sum"
)

// ParseMixMode validates a configured mode string, defaulting to
// MixTagged for the empty string.
func ParseMixMode(s string) (MixMode, bool) {
	switch MixMode(s) {
	case "":
		return MixTagged, true
	case MixTagged, MixSum:
		return MixMode(s), true
	}
	return MixTagged, false
}

// DefaultChunkSamples is one second of engine-rate audio.
const DefaultChunkSamples = EngineSampleRate

// MixerOptions configures a Mixer.
type MixerOptions struct {
	// ChunkSamples is the fixed chunk length in engine-rate samples.
	ChunkSamples int
	Mode         MixMode
	// Wait bounds how long a full window waits for its sibling source
	// in sum mode before the sibling's partial window is dropped.
	// Defaults to one chunk duration.
	Wait time.Duration
	// Seq is the process-wide chunk sequence counter. Shared so
	// sequences keep increasing across capture sessions.
	Seq *atomic.Int64
	// OnChunk receives each finished chunk, in sequence order, from
	// the mixer goroutine.
	OnChunk func(*Chunk)
	// OnDrop is told about samples the mixer itself discarded
	// (partial sibling windows in sum mode). May be nil.
	OnDrop func(tag SourceTag, samples int)
	Log    zerolog.Logger
}

type mixerMsg struct {
	frame  Frame
	attach bool
	detach bool
	tag    SourceTag
}

// Mixer fans in raw frames from the attached capture sources,
// normalizes them to mono 16 kHz float32, cuts fixed-length chunks and
// assigns globally unique increasing sequence numbers at emission.
// Sources attach and detach while the mixer runs; a mid-session
// system-audio toggle never disturbs chunks already emitted.
type Mixer struct {
	opts MixerOptions
	log  zerolog.Logger

	in   chan mixerMsg
	stop chan struct{}
	done chan struct{}

	pumps sync.WaitGroup

	// owned by the mixer goroutine
	streams map[SourceTag]*streamState
}

type streamState struct {
	pending []float32
	start   time.Time // capture time of pending[0]
	readyAt time.Time // when a full window was first observed (sum mode)
}

// advanceBy consumes n samples off the front of the pending buffer and
// moves the stream's start time forward by their duration.
func (s *streamState) advanceBy(n int) {
	s.pending = s.pending[n:]
	s.start = s.start.Add(time.Duration(n) * time.Second / EngineSampleRate)
	s.readyAt = time.Time{}
	if len(s.pending) == 0 {
		s.pending = nil
	}
}

// NewMixer builds a mixer and starts its goroutine.
func NewMixer(opts MixerOptions) *Mixer {
	if opts.ChunkSamples <= 0 {
		opts.ChunkSamples = DefaultChunkSamples
	}
	if opts.Mode == "" {
		opts.Mode = MixTagged
	}
	if opts.Wait <= 0 {
		opts.Wait = time.Duration(opts.ChunkSamples) * time.Second / EngineSampleRate
	}
	if opts.Seq == nil {
		opts.Seq = &atomic.Int64{}
	}
	m := &Mixer{
		opts:    opts,
		log:     opts.Log.With().Str("component", "mixer").Logger(),
		in:      make(chan mixerMsg, 32),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		streams: make(map[SourceTag]*streamState),
	}
	go m.run()
	return m
}

// Attach registers a stream and starts pumping the source's frames
// into the mixer. Registration happens before any frame so sum mode
// knows a sibling exists even while it is still silent. The pump exits
// when the source closes its channel, detaching the stream and
// flushing its tail.
func (m *Mixer) Attach(tag SourceTag, frames <-chan Frame) {
	select {
	case m.in <- mixerMsg{attach: true, tag: tag}:
	case <-m.stop:
		return
	}
	m.pumps.Add(1)
	go func() {
		defer m.pumps.Done()
		for f := range frames {
			select {
			case m.in <- mixerMsg{frame: f, tag: tag}:
			case <-m.stop:
				return
			}
		}
		select {
		case m.in <- mixerMsg{detach: true, tag: tag}:
		case <-m.stop:
		}
	}()
}

// Stop flushes every attached stream's tail and shuts the mixer down.
// After Stop returns no further OnChunk call is made. Sources must be
// stopped first so their pumps have drained.
func (m *Mixer) Stop() {
	m.pumps.Wait()
	close(m.stop)
	<-m.done
}

func (m *Mixer) run() {
	defer close(m.done)

	// Sibling-wait deadline for sum mode. Armed only while exactly one
	// live stream holds a full window.
	deadline := time.NewTimer(time.Hour)
	if !deadline.Stop() {
		<-deadline.C
	}
	armed := false
	disarm := func() {
		if armed && !deadline.Stop() {
			select {
			case <-deadline.C:
			default:
			}
		}
		armed = false
	}

	for {
		select {
		case msg := <-m.in:
			switch {
			case msg.attach:
				m.register(msg.tag)
			case msg.detach:
				m.detach(msg.tag)
			default:
				m.ingest(msg.frame)
			}
		case <-deadline.C:
			armed = false
			m.forceEmit()
		case <-m.stop:
			disarm()
			m.drainIn()
			for tag := range m.streams {
				m.flushTail(tag)
			}
			return
		}

		if m.opts.Mode != MixSum {
			m.emitTagged()
			continue
		}
		m.emitSum()
		disarm()
		if at, ok := m.lonelyWindowSince(); ok {
			wait := m.opts.Wait - time.Since(at)
			if wait <= 0 {
				m.forceEmit()
			} else {
				deadline.Reset(wait)
				armed = true
			}
		}
	}
}

// drainIn consumes whatever the pumps enqueued before stop closed.
func (m *Mixer) drainIn() {
	for {
		select {
		case msg := <-m.in:
			switch {
			case msg.attach:
				m.register(msg.tag)
			case msg.detach:
				m.detach(msg.tag)
			default:
				m.ingest(msg.frame)
			}
		default:
			return
		}
	}
}

func (m *Mixer) register(tag SourceTag) {
	if _, ok := m.streams[tag]; !ok {
		m.streams[tag] = &streamState{}
	}
}

func (m *Mixer) ingest(f Frame) {
	norm := ToEngineFormat(f.Samples, f.SampleRate, f.Channels)
	if len(norm) == 0 {
		return
	}
	s, ok := m.streams[f.Source]
	if !ok {
		s = &streamState{}
		m.streams[f.Source] = s
	}
	if len(s.pending) == 0 {
		s.start = f.CapturedAt
	}
	s.pending = append(s.pending, norm...)
}

func (m *Mixer) detach(tag SourceTag) {
	m.flushTail(tag)
	delete(m.streams, tag)
}

// flushTail emits a stream's remaining partial chunk under its own tag
// so session tails are not lost.
func (m *Mixer) flushTail(tag SourceTag) {
	s, ok := m.streams[tag]
	if !ok || len(s.pending) == 0 {
		return
	}
	m.emit(tag, s.pending, s.start)
	s.pending = nil
}

// emitTagged cuts full windows per stream independently.
func (m *Mixer) emitTagged() {
	n := m.opts.ChunkSamples
	for tag, s := range m.streams {
		for len(s.pending) >= n {
			m.cut(tag, s, n)
		}
	}
}

// emitSum cuts Mixed windows while every attached stream has a full
// one. With a single attached stream, windows keep that stream's own
// tag so a mic-only session never reports Mixed chunks.
func (m *Mixer) emitSum() {
	n := m.opts.ChunkSamples
	for {
		if len(m.streams) == 0 {
			return
		}
		if len(m.streams) == 1 {
			emitted := false
			for tag, s := range m.streams {
				if len(s.pending) >= n {
					m.cut(tag, s, n)
					emitted = true
				}
			}
			if !emitted {
				return
			}
			continue
		}
		for _, s := range m.streams {
			if len(s.pending) < n {
				return
			}
		}
		m.cutMixed(n)
	}
}

// forceEmit resolves a sum-mode stall after the sibling wait expired:
// partial sibling windows are dropped and the full window goes out as
// Mixed, favoring liveness over completeness.
func (m *Mixer) forceEmit() {
	n := m.opts.ChunkSamples
	if len(m.streams) < 2 {
		return
	}
	var full *streamState
	for _, s := range m.streams {
		if len(s.pending) >= n {
			full = s
			break
		}
	}
	if full == nil {
		return
	}
	for tag, s := range m.streams {
		if s == full || len(s.pending) == 0 {
			continue
		}
		dropped := len(s.pending)
		s.pending = nil
		s.readyAt = time.Time{}
		if m.opts.OnDrop != nil {
			m.opts.OnDrop(tag, dropped)
		}
		m.log.Debug().Str("source", tag.String()).Int("samples", dropped).
			Msg("dropped partial window waiting on sibling source")
	}
	window := append([]float32(nil), full.pending[:n]...)
	start := full.start
	full.advanceBy(n)
	for i := range window {
		window[i] = clip(window[i])
	}
	m.emitChunk(&Chunk{
		CapturedAt: start,
		Source:     SourceMixed,
		Samples:    window,
		SampleRate: EngineSampleRate,
	})
	m.emitSum()
}

// lonelyWindowSince reports when the single full window currently
// waiting on a short sibling first became ready.
func (m *Mixer) lonelyWindowSince() (time.Time, bool) {
	n := m.opts.ChunkSamples
	if len(m.streams) < 2 {
		return time.Time{}, false
	}
	var full *streamState
	anyShort := false
	for _, s := range m.streams {
		if len(s.pending) >= n {
			if s.readyAt.IsZero() {
				s.readyAt = time.Now()
			}
			full = s
		} else {
			anyShort = true
		}
	}
	if full == nil || !anyShort {
		return time.Time{}, false
	}
	return full.readyAt, true
}

// cut emits one full window from a single stream under its own tag.
func (m *Mixer) cut(tag SourceTag, s *streamState, n int) {
	samples := append([]float32(nil), s.pending[:n]...)
	start := s.start
	s.advanceBy(n)
	m.emit(tag, samples, start)
}

// cutMixed sums one full window from every attached stream into a
// Mixed chunk, clipping to [-1, 1].
func (m *Mixer) cutMixed(n int) {
	out := make([]float32, n)
	start := time.Time{}
	for _, s := range m.streams {
		if start.IsZero() || s.start.Before(start) {
			start = s.start
		}
		for i := 0; i < n; i++ {
			out[i] += s.pending[i]
		}
		s.advanceBy(n)
	}
	for i := range out {
		out[i] = clip(out[i])
	}
	m.emitChunk(&Chunk{
		CapturedAt: start,
		Source:     SourceMixed,
		Samples:    out,
		SampleRate: EngineSampleRate,
	})
}

func (m *Mixer) emit(tag SourceTag, samples []float32, start time.Time) {
	m.emitChunk(&Chunk{
		CapturedAt: start,
		Source:     tag,
		Samples:    samples,
		SampleRate: EngineSampleRate,
	})
}

func (m *Mixer) emitChunk(c *Chunk) {
	c.Sequence = m.opts.Seq.Add(1)
	if m.opts.OnChunk != nil {
		m.opts.OnChunk(c)
	}
}
