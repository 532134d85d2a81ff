// Package pipeline wires capture sources, the mixer, the chunk queue
// and the transcription worker into one session-oriented unit, and
// fans every observable signal out to the log, the metrics registry
// and the event bus.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quietdesk/scribe-engine/internal/audio"
	"github.com/quietdesk/scribe-engine/internal/events"
	"github.com/quietdesk/scribe-engine/internal/metrics"
	"github.com/quietdesk/scribe-engine/internal/settings"
	"github.com/quietdesk/scribe-engine/internal/transcribe"
)

var (
	// ErrCaptureActive rejects a second start while a session runs.
	ErrCaptureActive = errors.New("capture already active")
	// ErrNotCapturing rejects stop and toggle calls with no session.
	ErrNotCapturing = errors.New("no capture session active")
)

// SourceOpener builds capture sources for enumerated devices. The
// portaudio host satisfies it through NewPortAudioOpener; tests plug
// in fakes.
type SourceOpener interface {
	OpenSource(device audio.DeviceDescriptor, tag audio.SourceTag, onFailure func(error)) audio.CaptureSource
}

type portAudioOpener struct{ h *audio.Host }

func (o portAudioOpener) OpenSource(d audio.DeviceDescriptor, t audio.SourceTag, f func(error)) audio.CaptureSource {
	return o.h.OpenSource(d, t, f)
}

// NewPortAudioOpener adapts the portaudio host to the SourceOpener
// boundary.
func NewPortAudioOpener(h *audio.Host) SourceOpener { return portAudioOpener{h: h} }

// Options configures a Pipeline.
type Options struct {
	Registry *audio.Registry
	Opener   SourceOpener
	Bus      *events.Bus

	QueueCapacity     int
	BacklogCapacity   int
	ChunkSamples      int
	MixMode           audio.MixMode
	MixWait           time.Duration
	PopTimeout        time.Duration
	DegradedThreshold int
	// StopDrainTimeout bounds how long stop waits for queued chunks to
	// finish transcribing before discarding them.
	StopDrainTimeout time.Duration

	// DebugDumpDir, when set, writes every emitted chunk as a WAV file
	// for capture debugging.
	DebugDumpDir string

	Log zerolog.Logger
}

// SessionInfo describes a running capture session.
type SessionInfo struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	MicDevice   string    `json:"mic_device,omitempty"`
	SystemAudio bool      `json:"system_audio"`
	MixMode     string    `json:"mix_mode"`
}

// SessionSummary is returned when a session stops.
type SessionSummary struct {
	ID        string `json:"id"`
	Segments  int64  `json:"segments"`
	Discarded int    `json:"discarded"`
}

// Status is the pipeline's externally visible state.
type Status struct {
	Capturing   bool             `json:"capturing"`
	Session     *SessionInfo     `json:"session,omitempty"`
	WorkerState string           `json:"worker_state"`
	Stats       transcribe.Stats `json:"stats"`
	Subscribers int              `json:"subscribers"`
}

type session struct {
	info    SessionInfo
	mixer   *audio.Mixer
	sources map[audio.SourceTag]audio.CaptureSource
	failed  map[audio.SourceTag]bool

	segments atomic.Int64
}

type dumpReq struct {
	chunk   *audio.Chunk
	session string
}

// Pipeline owns the chunk queue and the transcription worker for the
// whole process lifetime; capture sessions come and go around them.
// Chunk sequence numbers keep increasing across sessions.
type Pipeline struct {
	opts     Options
	log      zerolog.Logger
	registry *audio.Registry
	opener   SourceOpener
	bus      *events.Bus

	queue  *audio.Queue
	worker *transcribe.Worker
	seq    atomic.Int64

	mu       sync.Mutex
	sess     *session
	sessID   string
	stopping bool

	dumpCh chan dumpReq
}

// New builds the pipeline and its worker. Start launches consumption.
func New(opts Options) *Pipeline {
	if opts.StopDrainTimeout <= 0 {
		opts.StopDrainTimeout = 5 * time.Second
	}
	if opts.MixMode == "" {
		opts.MixMode = audio.MixTagged
	}
	p := &Pipeline{
		opts:     opts,
		log:      opts.Log.With().Str("component", "pipeline").Logger(),
		registry: opts.Registry,
		opener:   opts.Opener,
		bus:      opts.Bus,
	}
	p.queue = audio.NewQueue(opts.QueueCapacity, func(ev audio.Eviction) {
		p.reportDrop(ev, "queue")
	})
	p.worker = transcribe.NewWorker(transcribe.WorkerOptions{
		Queue:             p.queue,
		PopTimeout:        opts.PopTimeout,
		BacklogCapacity:   opts.BacklogCapacity,
		DegradedThreshold: opts.DegradedThreshold,
		OnResult:          p.onResult,
		OnState:           p.onWorkerState,
		OnBacklogEvict: func(ev audio.Eviction) {
			p.reportDrop(ev, "backlog")
		},
		Log: opts.Log,
	})
	if opts.DebugDumpDir != "" {
		p.dumpCh = make(chan dumpReq, 16)
		go p.dumpLoop()
	}
	return p
}

// Worker exposes the transcription worker for model swaps.
func (p *Pipeline) Worker() *transcribe.Worker { return p.worker }

// Start launches the transcription worker.
func (p *Pipeline) Start() {
	p.worker.Start()
}

// Shutdown stops any running session and then the worker.
func (p *Pipeline) Shutdown() {
	if _, err := p.StopCapture(); err != nil && !errors.Is(err, ErrNotCapturing) {
		p.log.Warn().Err(err).Msg("stopping capture during shutdown")
	}
	p.worker.Stop()
}

// StartCapture resolves the configured devices, opens their sources
// and begins feeding the queue. It fails with ErrDeviceUnavailable
// only when no source at all could start; a session with at least one
// live source proceeds and the missing source is reported.
func (p *Pipeline) StartCapture(ctx context.Context) (SessionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != nil || p.stopping {
		return SessionInfo{}, ErrCaptureActive
	}

	cfg := p.registry.Settings()
	sess := &session{
		info: SessionInfo{
			ID:        uuid.NewString(),
			StartedAt: time.Now().UTC(),
			MixMode:   string(p.opts.MixMode),
		},
		sources: make(map[audio.SourceTag]audio.CaptureSource),
		failed:  make(map[audio.SourceTag]bool),
	}
	sess.mixer = audio.NewMixer(audio.MixerOptions{
		ChunkSamples: p.opts.ChunkSamples,
		Mode:         p.opts.MixMode,
		Wait:         p.opts.MixWait,
		Seq:          &p.seq,
		OnChunk:      p.enqueue,
		OnDrop:       p.onMixDrop,
		Log:          p.opts.Log,
	})

	var micErr error
	if dev, err := p.registry.ResolveMic(); err != nil {
		micErr = err
	} else {
		micErr = p.attach(ctx, sess, dev, audio.SourceMicrophone)
		if micErr == nil {
			sess.info.MicDevice = dev.Name
		}
	}
	if micErr != nil {
		p.log.Warn().Err(micErr).Msg("microphone source did not start")
	}

	var sysErr error
	if cfg.SystemAudioEnabled {
		if dev, err := p.registry.ResolveSystemSource(); err != nil {
			sysErr = err
		} else {
			sysErr = p.attach(ctx, sess, dev, audio.SourceSystemAudio)
		}
		if sysErr == nil {
			sess.info.SystemAudio = true
		} else {
			p.log.Warn().Err(sysErr).Msg("system-audio source did not start")
		}
	}

	if len(sess.sources) == 0 {
		sess.mixer.Stop()
		if micErr == nil {
			micErr = fmt.Errorf("%w: no capture source", audio.ErrDeviceUnavailable)
		}
		return SessionInfo{}, micErr
	}

	p.sess = sess
	p.sessID = sess.info.ID
	p.bus.Publish(events.TypeSessionStarted, events.Event{Session: sess.info.ID}, events.SessionPayload{
		Session:     sess.info.ID,
		MicDevice:   sess.info.MicDevice,
		SystemAudio: sess.info.SystemAudio,
	})
	p.log.Info().
		Str("session", sess.info.ID).
		Str("mic", sess.info.MicDevice).
		Bool("system_audio", sess.info.SystemAudio).
		Str("mix_mode", sess.info.MixMode).
		Msg("capture started")
	return sess.info, nil
}

// attach opens and starts one source and plugs it into the mixer.
func (p *Pipeline) attach(ctx context.Context, sess *session, dev audio.DeviceDescriptor, tag audio.SourceTag) error {
	src := p.opener.OpenSource(dev, tag, p.failureFunc(sess, dev.Name, tag))
	if err := src.Start(ctx); err != nil {
		return err
	}
	sess.sources[tag] = src
	sess.mixer.Attach(tag, src.Frames())
	return nil
}

// StopCapture stops every source, flushes the mixer, waits out the
// queue drain and ends the session. Synchronous: when it returns, no
// further chunk from this session is emitted.
func (p *Pipeline) StopCapture() (SessionSummary, error) {
	p.mu.Lock()
	sess := p.sess
	if sess == nil || p.stopping {
		p.mu.Unlock()
		return SessionSummary{}, ErrNotCapturing
	}
	p.stopping = true
	p.mu.Unlock()

	// stopping is set, so no toggle mutates sess.sources from here on.
	for _, src := range sess.sources {
		if err := src.Stop(); err != nil {
			p.log.Warn().Err(err).Str("device", src.DeviceName()).Msg("source stop failed")
		}
	}
	sess.mixer.Stop()
	p.queue.Close()
	discarded := p.worker.DrainWait(p.opts.StopDrainTimeout)
	p.queue.Reset()

	summary := SessionSummary{
		ID:        sess.info.ID,
		Segments:  sess.segments.Load(),
		Discarded: discarded,
	}
	p.bus.Publish(events.TypeSessionEnded, events.Event{Session: sess.info.ID}, events.SessionPayload{
		Session:     sess.info.ID,
		MicDevice:   sess.info.MicDevice,
		SystemAudio: sess.info.SystemAudio,
		Segments:    summary.Segments,
		Discarded:   summary.Discarded,
	})
	p.log.Info().
		Str("session", sess.info.ID).
		Int64("segments", summary.Segments).
		Int("discarded", summary.Discarded).
		Dur("elapsed", time.Since(sess.info.StartedAt)).
		Msg("capture stopped")

	p.mu.Lock()
	p.sess = nil
	p.sessID = ""
	p.stopping = false
	p.mu.Unlock()
	return summary, nil
}

// ApplySettings persists new capture settings and, when a session is
// running, attaches or detaches the system-audio source live. Chunks
// already queued are untouched.
func (p *Pipeline) ApplySettings(ctx context.Context, s settings.CaptureSettings) error {
	if err := p.registry.Apply(s); err != nil {
		return err
	}
	return p.reconcileSystemSource(ctx, s.SystemAudioEnabled)
}

// SetSystemAudio persists the toggle and reconciles the live session.
func (p *Pipeline) SetSystemAudio(ctx context.Context, enabled bool) error {
	if err := p.registry.ToggleSystemAudio(enabled); err != nil {
		return err
	}
	return p.reconcileSystemSource(ctx, enabled)
}

func (p *Pipeline) reconcileSystemSource(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess := p.sess
	if sess == nil || p.stopping {
		return nil
	}

	src, attached := sess.sources[audio.SourceSystemAudio]
	switch {
	case enabled && !attached:
		dev, err := p.registry.ResolveSystemSource()
		if err != nil {
			return err
		}
		if err := p.attach(ctx, sess, dev, audio.SourceSystemAudio); err != nil {
			return err
		}
		sess.info.SystemAudio = true
		p.log.Info().Str("session", sess.info.ID).Str("device", dev.Name).Msg("system audio attached mid-session")
	case !enabled && attached:
		src.Stop()
		delete(sess.sources, audio.SourceSystemAudio)
		delete(sess.failed, audio.SourceSystemAudio)
		sess.info.SystemAudio = false
		p.log.Info().Str("session", sess.info.ID).Msg("system audio detached mid-session")
	}
	return nil
}

// SelectMic persists a microphone choice. It applies at the next
// session start.
func (p *Pipeline) SelectMic(name string) error {
	return p.registry.Select(name)
}

// Status snapshots the pipeline.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	var info *SessionInfo
	if p.sess != nil {
		cp := p.sess.info
		info = &cp
	}
	p.mu.Unlock()

	return Status{
		Capturing:   info != nil,
		Session:     info,
		WorkerState: string(p.worker.State()),
		Stats:       p.worker.Stats(),
		Subscribers: p.bus.SubscriberCount(),
	}
}

// failureFunc builds the callback a source invokes after a fatal
// device error mid-session. The session keeps running on whatever
// sources remain.
func (p *Pipeline) failureFunc(sess *session, device string, tag audio.SourceTag) func(error) {
	return func(cause error) {
		p.mu.Lock()
		if p.sess != sess || p.stopping {
			p.mu.Unlock()
			return
		}
		sess.failed[tag] = true
		live := 0
		for t := range sess.sources {
			if !sess.failed[t] {
				live++
			}
		}
		p.mu.Unlock()

		p.log.Warn().
			Err(cause).
			Str("session", sess.info.ID).
			Str("device", device).
			Str("source", tag.String()).
			Int("live_sources", live).
			Msg("capture source lost")
		p.bus.Publish(events.TypeDeviceLost, events.Event{Session: sess.info.ID, Source: tag.String()}, events.DeviceLostPayload{
			Session: sess.info.ID,
			Device:  device,
			Source:  tag.String(),
			Error:   cause.Error(),
		})
		if live == 0 {
			p.bus.Publish(events.TypePipelineStatus, events.Event{Session: sess.info.ID}, events.PipelineStatusPayload{
				Session: sess.info.ID,
				State:   "stalled",
				Reason:  "all capture sources lost",
			})
		}
	}
}

// enqueue receives finished chunks from the mixer goroutine.
func (p *Pipeline) enqueue(c *audio.Chunk) {
	if p.dumpCh != nil {
		select {
		case p.dumpCh <- dumpReq{chunk: c, session: p.sessionID()}:
		default:
		}
	}
	metrics.ChunksCapturedTotal.WithLabelValues(c.Source.String()).Inc()
	p.queue.Push(c)
}

// reportDrop is the eviction sink shared by the queue and the
// worker's backlog: evictions are logged, metered and published, not
// treated as errors.
func (p *Pipeline) reportDrop(ev audio.Eviction, stage string) {
	reason := metrics.DropQueueEvicted
	if stage == "backlog" {
		reason = metrics.DropBacklogEvicted
	}
	metrics.ChunksDroppedTotal.WithLabelValues(reason).Inc()
	p.log.Debug().
		Int64("sequence", ev.Sequence).
		Str("source", ev.Source.String()).
		Int("depth", ev.Depth).
		Str("stage", stage).
		Msg("chunk evicted")
	p.bus.Publish(events.TypeDroppedChunk, events.Event{Session: p.sessionID(), Source: ev.Source.String()}, events.DroppedChunkPayload{
		Sequence:   ev.Sequence,
		Source:     ev.Source.String(),
		QueueDepth: ev.Depth,
		Stage:      stage,
	})
}

func (p *Pipeline) onMixDrop(tag audio.SourceTag, samples int) {
	metrics.ChunksDroppedTotal.WithLabelValues(metrics.DropMixerPartial).Inc()
	p.log.Debug().
		Str("source", tag.String()).
		Int("samples", samples).
		Msg("partial window dropped by mixer")
}

// onResult receives each transcript segment from the worker goroutine
// and publishes it on the bus.
func (p *Pipeline) onResult(res transcribe.Result) {
	p.mu.Lock()
	sess := p.sess
	sessID := p.sessID
	p.mu.Unlock()
	if sess != nil {
		sess.segments.Add(1)
	}

	model := modelNameFromPath(res.Model)
	p.bus.Publish(events.TypeSegment, events.Event{
		Session: sessID,
		Model:   model,
		Source:  res.Source.String(),
	}, events.SegmentPayload{
		ID:         uuid.NewString(),
		Session:    sessID,
		Sequence:   res.Sequence,
		Source:     res.Source.String(),
		Text:       res.Text,
		Start:      res.Start.UTC().Format(time.RFC3339Nano),
		End:        res.End.UTC().Format(time.RFC3339Nano),
		Confidence: res.Confidence,
		Model:      model,
	})
}

func (p *Pipeline) onWorkerState(state transcribe.State, reason string) {
	p.bus.Publish(events.TypePipelineStatus, events.Event{Session: p.sessionID()}, events.PipelineStatusPayload{
		Session: p.sessionID(),
		State:   string(state),
		Reason:  reason,
	})
}

func (p *Pipeline) sessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessID
}

// Metrics collector hooks.

func (p *Pipeline) QueueDepth() int      { return p.queue.Len() }
func (p *Pipeline) BacklogDepth() int    { return p.worker.Stats().BacklogDepth }
func (p *Pipeline) SubscriberCount() int { return p.bus.SubscriberCount() }

func (p *Pipeline) CaptureActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess != nil
}

func (p *Pipeline) SourceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return 0
	}
	live := 0
	for t := range p.sess.sources {
		if !p.sess.failed[t] {
			live++
		}
	}
	return live
}

// dumpLoop writes chunks to WAV files off the mixer goroutine. Dumps
// are dropped rather than ever stalling capture.
func (p *Pipeline) dumpLoop() {
	for req := range p.dumpCh {
		dir := filepath.Join(p.opts.DebugDumpDir, req.session)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			p.log.Warn().Err(err).Msg("debug dump dir")
			continue
		}
		name := fmt.Sprintf("%06d-%s.wav", req.chunk.Sequence, req.chunk.Source)
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			p.log.Warn().Err(err).Str("file", name).Msg("debug dump create")
			continue
		}
		if err := audio.EncodeWAV(f, req.chunk.Samples, req.chunk.SampleRate); err != nil {
			p.log.Warn().Err(err).Str("file", name).Msg("debug dump write")
		}
		f.Close()
	}
}

func modelNameFromPath(path string) string {
	if path == "" {
		return ""
	}
	base := strings.TrimSuffix(filepath.Base(path), ".bin")
	return strings.TrimPrefix(base, "ggml-")
}
