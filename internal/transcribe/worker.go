package transcribe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/quietdesk/scribe-engine/internal/audio"
	"github.com/quietdesk/scribe-engine/internal/metrics"
)

// State is the worker's externally visible condition.
type State string

const (
	StateIdle         State = "idle"
	StateRunning      State = "running"
	StateWaitingModel State = "waiting_model"
	StateDegraded     State = "degraded"
)

// DefaultDegradedThreshold is how many consecutive engine failures
// escalate to a Degraded pipeline status.
const DefaultDegradedThreshold = 5

// DefaultPopTimeout bounds the idle wait on an empty queue.
const DefaultPopTimeout = 100 * time.Millisecond

// Result is one finished transcript segment with absolute timing
// derived from the chunk's capture time, never from when consumption
// happened to run.
type Result struct {
	Sequence   int64
	Source     audio.SourceTag
	Text       string
	Start      time.Time
	End        time.Time
	Confidence float64
	Model      string
}

// WorkerOptions configures the transcription worker.
type WorkerOptions struct {
	Queue *audio.Queue
	// PopTimeout bounds each empty-queue wait. Defaults to
	// DefaultPopTimeout.
	PopTimeout time.Duration
	// BacklogCapacity bounds the chunks held while no model is loaded.
	// Defaults to the queue's capacity.
	BacklogCapacity int
	// DegradedThreshold is the consecutive-failure count that flips
	// the worker to StateDegraded. Defaults to
	// DefaultDegradedThreshold.
	DegradedThreshold int
	// OnResult receives each emitted segment, from the worker
	// goroutine.
	OnResult func(Result)
	// OnState is called once per state transition.
	OnState func(state State, reason string)
	// OnBacklogEvict reports chunks dropped from the waiting-for-model
	// backlog.
	OnBacklogEvict audio.EvictFunc
	Log            zerolog.Logger
}

// Worker is the queue's single consumer. It owns the active model
// handle: every inference runs under the handle mutex, so a swap can
// never close a handle mid-call, and chunks already queued keep
// flowing through whichever handle is active when they are popped.
type Worker struct {
	opts    WorkerOptions
	queue   *audio.Queue
	backlog *audio.Queue
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	handleMu sync.Mutex
	handle   ModelHandle

	stateMu sync.Mutex
	state   State

	processed atomic.Int64
	failed    atomic.Int64
	inflight  atomic.Bool
	streak    int // consecutive engine failures, worker goroutine only
}

// NewWorker builds a worker; Start launches its loop.
func NewWorker(opts WorkerOptions) *Worker {
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = DefaultPopTimeout
	}
	if opts.DegradedThreshold <= 0 {
		opts.DegradedThreshold = DefaultDegradedThreshold
	}
	if opts.BacklogCapacity <= 0 {
		opts.BacklogCapacity = opts.Queue.Cap()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		opts:   opts,
		queue:  opts.Queue,
		log:    opts.Log.With().Str("component", "worker").Logger(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateIdle,
	}
	w.backlog = audio.NewQueue(opts.BacklogCapacity, opts.OnBacklogEvict)
	return w
}

// Start launches the consumer loop.
func (w *Worker) Start() {
	go w.run()
	w.log.Info().
		Int("queue_capacity", w.queue.Cap()).
		Int("backlog_capacity", w.backlog.Cap()).
		Msg("transcription worker started")
}

// Stop halts the loop and closes the active handle.
func (w *Worker) Stop() {
	w.cancel()
	<-w.done

	w.handleMu.Lock()
	h := w.handle
	w.handle = nil
	w.handleMu.Unlock()
	if h != nil {
		h.Close()
	}
	w.log.Info().
		Int64("processed", w.processed.Load()).
		Int64("failed", w.failed.Load()).
		Msg("transcription worker stopped")
}

// Swap installs a fully initialized handle and retires the previous
// one, waiting out any inference in flight. Returns the old handle's
// model path.
func (w *Worker) Swap(h ModelHandle) string {
	w.handleMu.Lock()
	old := w.handle
	w.handle = h
	w.handleMu.Unlock()

	prev := ""
	if old != nil {
		prev = old.ModelPath()
		old.Close()
	}
	return prev
}

// ActiveModel returns the active handle's model path, or "" when no
// model is loaded.
func (w *Worker) ActiveModel() string {
	w.handleMu.Lock()
	defer w.handleMu.Unlock()
	if w.handle == nil {
		return ""
	}
	return w.handle.ModelPath()
}

// State returns the worker's current state.
func (w *Worker) State() State {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.state
}

// Stats is a point-in-time counters snapshot.
type Stats struct {
	Processed    int64 `json:"processed"`
	Failed       int64 `json:"failed"`
	QueueDepth   int   `json:"queue_depth"`
	BacklogDepth int   `json:"backlog_depth"`
}

// Stats snapshots the worker's counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Processed:    w.processed.Load(),
		Failed:       w.failed.Load(),
		QueueDepth:   w.queue.Len(),
		BacklogDepth: w.backlog.Len(),
	}
}

// DrainWait blocks until the queue is empty and no inference is in
// flight, or until timeout. It then discards the backlog (chunks that
// never saw a model) and, on timeout, whatever remains in the queue.
// Returns the number of chunks discarded.
func (w *Worker) DrainWait(timeout time.Duration) int {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline.C:
			discarded := w.queue.Reset() + w.backlog.Reset()
			if discarded > 0 {
				w.log.Warn().Int("discarded", discarded).Msg("drain timed out, discarding remaining chunks")
			}
			return discarded
		case <-tick.C:
			if w.queue.Len() == 0 && !w.inflight.Load() {
				return w.backlog.Reset()
			}
		}
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		if w.ctx.Err() != nil {
			return
		}

		// Backlogged chunks are older than anything in the queue, so
		// they go first once a model is available.
		if w.ActiveModel() != "" {
			if c := w.backlog.Pop(); c != nil {
				w.process(c)
				continue
			}
		}

		c := w.queue.PopWait(w.ctx, w.opts.PopTimeout)
		if c == nil {
			continue
		}
		w.process(c)
	}
}

func (w *Worker) process(c *audio.Chunk) {
	w.inflight.Store(true)
	defer w.inflight.Store(false)

	w.handleMu.Lock()
	h := w.handle
	if h == nil {
		w.handleMu.Unlock()
		w.backlog.Push(c)
		w.setState(StateWaitingModel, "no model loaded")
		return
	}
	// Inference runs under the handle mutex: exclusive engine access,
	// and Swap cannot retire this handle mid-call.
	start := time.Now()
	segments, err := h.Infer(w.ctx, c.Samples)
	model := h.ModelPath()
	w.handleMu.Unlock()
	metrics.InferenceDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.TranscribeFailuresTotal.Inc()
		w.noteFailure(c, err)
		return
	}
	metrics.ChunksTranscribedTotal.Inc()
	w.noteSuccess()

	for _, s := range segments {
		text := CleanSegmentText(s.Text)
		if text == "" {
			continue
		}
		end := s.End
		if end == 0 {
			end = c.Duration()
		}
		res := Result{
			Sequence:   c.Sequence,
			Source:     c.Source,
			Text:       text,
			Start:      c.CapturedAt.Add(s.Start),
			End:        c.CapturedAt.Add(end),
			Confidence: s.Confidence,
			Model:      model,
		}
		if w.opts.OnResult != nil {
			w.opts.OnResult(res)
		}
	}
	w.log.Debug().
		Int64("sequence", c.Sequence).
		Str("source", c.Source.String()).
		Int("segments", len(segments)).
		Msg("chunk transcribed")
}

// noteFailure logs and counts one discarded chunk. A streak reaching
// the threshold escalates to Degraded, reported exactly once per
// transition.
func (w *Worker) noteFailure(c *audio.Chunk, err error) {
	w.failed.Add(1)
	w.streak++
	w.log.Warn().Err(err).
		Int64("sequence", c.Sequence).
		Str("source", c.Source.String()).
		Int("streak", w.streak).
		Msg("engine failed, chunk discarded")
	if w.streak == w.opts.DegradedThreshold {
		w.setState(StateDegraded, "consecutive engine failures")
	}
}

func (w *Worker) noteSuccess() {
	w.processed.Add(1)
	w.streak = 0
	w.setState(StateRunning, "")
}

func (w *Worker) setState(s State, reason string) {
	w.stateMu.Lock()
	if w.state == s {
		w.stateMu.Unlock()
		return
	}
	// Degraded is sticky against the routine Running/WaitingModel
	// churn; only a successful inference clears it.
	if w.state == StateDegraded && s == StateWaitingModel {
		w.stateMu.Unlock()
		return
	}
	w.state = s
	w.stateMu.Unlock()

	if w.opts.OnState != nil {
		w.opts.OnState(s, reason)
	}
}
