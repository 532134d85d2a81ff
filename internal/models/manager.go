package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quietdesk/scribe-engine/internal/fetch"
	"github.com/quietdesk/scribe-engine/internal/metrics"
	"github.com/quietdesk/scribe-engine/internal/transcribe"
)

var (
	// ErrUnknownModel is returned for names not in the catalog.
	ErrUnknownModel = errors.New("unknown model")
	// ErrModelNotAvailable is returned when an operation needs the
	// model file on disk and it is not there.
	ErrModelNotAvailable = errors.New("model not available")
)

// sizeTolerancePct is how far a downloaded file may deviate from the
// catalog size before the download is rejected.
const sizeTolerancePct = 5

// Swapper receives a freshly loaded model handle and retires the one
// in use. Satisfied by transcribe.Worker.
type Swapper interface {
	Swap(h transcribe.ModelHandle) string
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Catalog  *Catalog
	Resolver *fetch.Resolver
	Engine   transcribe.Engine
	Worker   Swapper

	// MirrorURL, when set, replaces the catalog download host. The
	// file name is appended to it, so both https:// and s3:// bases
	// work through the fetch resolver.
	MirrorURL string

	// OnStatus fires after every status change, outside the manager
	// lock. OnSwitch fires after the active model changes.
	OnStatus func(name string, st Status)
	OnSwitch func(prev, next string)

	Log zerolog.Logger
}

// Manager tracks the lifecycle of every catalog model and serializes
// downloads so at most one transfer runs at a time. Requests for other
// models queue behind it and keep their current status until started.
type Manager struct {
	catalog  *Catalog
	resolver *fetch.Resolver
	engine   transcribe.Engine
	worker   Swapper
	mirror   string
	onStatus func(string, Status)
	onSwitch func(string, string)
	log      zerolog.Logger

	mu       sync.Mutex
	statuses map[string]Status
	pending  map[string]bool
	active   string

	switchMu sync.Mutex

	requests chan string
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewManager builds a manager and seeds statuses from the files
// already on disk. Start must be called before downloads run.
func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{
		catalog:  opts.Catalog,
		resolver: opts.Resolver,
		engine:   opts.Engine,
		worker:   opts.Worker,
		mirror:   strings.TrimSuffix(opts.MirrorURL, "/"),
		onStatus: opts.OnStatus,
		onSwitch: opts.OnSwitch,
		log:      opts.Log.With().Str("component", "models").Logger(),
		statuses: make(map[string]Status),
		pending:  make(map[string]bool),
		requests: make(chan string, len(opts.Catalog.List())),
		done:     make(chan struct{}),
	}
	for _, d := range m.catalog.List() {
		if _, err := os.Stat(d.FilePath); err == nil {
			m.statuses[d.Name] = Available()
		} else {
			m.statuses[d.Name] = Missing()
		}
	}
	return m
}

// Start launches the download loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.downloadLoop(ctx)
	m.log.Info().
		Str("dir", m.catalog.Dir()).
		Int("models", len(m.catalog.List())).
		Msg("model manager started")
}

// Stop cancels any in-flight download and waits for the loop to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
	m.log.Info().Msg("model manager stopped")
}

// RequestDownload queues a download for name. Requests for models that
// are already available, downloading, or queued are no-ops. The
// returned status is the model's state after the call.
func (m *Manager) RequestDownload(name string) (Status, error) {
	if _, ok := m.catalog.Get(name); !ok {
		return Status{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}

	m.mu.Lock()
	st := m.statuses[name]
	if st.State == StateAvailable || m.pending[name] {
		m.mu.Unlock()
		return st, nil
	}
	m.pending[name] = true
	m.mu.Unlock()

	// Cannot block: capacity equals the catalog size and pending
	// dedupes, so at most one slot per model is ever used.
	m.requests <- name
	m.log.Info().Str("model", name).Msg("download queued")
	return st, nil
}

// Switch loads name into the engine and swaps it into the worker. The
// previously active model keeps serving until the new load succeeds;
// a failed load leaves it untouched.
func (m *Manager) Switch(ctx context.Context, name string) error {
	desc, ok := m.catalog.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}

	m.mu.Lock()
	st := m.statuses[name]
	cur := m.active
	m.mu.Unlock()
	if st.State != StateAvailable {
		return fmt.Errorf("%w: %s is %s", ErrModelNotAvailable, name, st.State)
	}
	if cur == name {
		return nil
	}

	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	start := time.Now()
	handle, err := m.engine.Load(ctx, desc.FilePath)
	if err != nil {
		m.log.Error().Err(err).Str("model", name).Msg("model load failed, keeping previous")
		return fmt.Errorf("%w: load %s: %v", transcribe.ErrSwitchFailed, name, err)
	}
	m.worker.Swap(handle)

	m.mu.Lock()
	prev := m.active
	m.active = name
	m.mu.Unlock()

	m.log.Info().
		Str("model", name).
		Str("previous", prev).
		Dur("load_time", time.Since(start)).
		Msg("active model switched")
	if m.onSwitch != nil {
		m.onSwitch(prev, name)
	}
	return nil
}

// Active returns the name of the model currently serving inference,
// or "" when none has been activated.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Status returns the status of one model.
func (m *Manager) Status(name string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[name]
	return st, ok
}

// Snapshot returns a copy of every model status plus the active name.
func (m *Manager) Snapshot() (map[string]Status, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out, m.active
}

// Rescan reconciles statuses with the files on disk. Models being
// downloaded keep their status; models in error keep the error until
// a retry or the file shows up externally.
func (m *Manager) Rescan() {
	type change struct {
		name string
		st   Status
	}
	var changes []change

	m.mu.Lock()
	for _, d := range m.catalog.List() {
		cur := m.statuses[d.Name]
		if cur.State == StateDownloading {
			continue
		}
		_, err := os.Stat(d.FilePath)
		switch {
		case err == nil && cur.State != StateAvailable:
			m.statuses[d.Name] = Available()
			changes = append(changes, change{d.Name, Available()})
		case err != nil && cur.State == StateAvailable:
			m.statuses[d.Name] = Missing()
			changes = append(changes, change{d.Name, Missing()})
		}
	}
	m.mu.Unlock()

	for _, c := range changes {
		m.log.Info().
			Str("model", c.name).
			Str("state", string(c.st.State)).
			Msg("model state changed on disk")
		m.notify(c.name, c.st)
	}
}

func (m *Manager) downloadLoop(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-m.requests:
			m.download(ctx, name)
		}
	}
}

func (m *Manager) download(ctx context.Context, name string) {
	defer func() {
		m.mu.Lock()
		delete(m.pending, name)
		m.mu.Unlock()
	}()

	desc, _ := m.catalog.Get(name)
	url := desc.URL
	if m.mirror != "" {
		url = m.mirror + "/" + desc.FileName
	}

	m.setStatus(name, Downloading(0))
	m.log.Info().Str("model", name).Str("url", url).Msg("download started")

	fetcher, err := m.resolver.For(url)
	if err != nil {
		m.setStatus(name, Errored(err.Error()))
		metrics.ModelDownloadsTotal.WithLabelValues(metrics.DownloadFailed).Inc()
		m.log.Error().Err(err).Str("model", name).Msg("download failed")
		return
	}

	start := time.Now()
	err = fetcher.Fetch(ctx, url, desc.FilePath, func(pct int) {
		m.advanceProgress(name, pct)
	})
	if err != nil {
		m.setStatus(name, Errored(err.Error()))
		metrics.ModelDownloadsTotal.WithLabelValues(metrics.DownloadFailed).Inc()
		m.log.Error().Err(err).Str("model", name).Msg("download failed")
		return
	}

	fi, err := os.Stat(desc.FilePath)
	if err != nil {
		m.setStatus(name, Errored(err.Error()))
		metrics.ModelDownloadsTotal.WithLabelValues(metrics.DownloadFailed).Inc()
		m.log.Error().Err(err).Str("model", name).Msg("downloaded file missing")
		return
	}
	if !sizeWithinTolerance(desc.SizeBytes, fi.Size()) {
		os.Remove(desc.FilePath)
		msg := fmt.Sprintf("size validation failed: got %d bytes, expected %d", fi.Size(), desc.SizeBytes)
		m.setStatus(name, Errored(msg))
		metrics.ModelDownloadsTotal.WithLabelValues(metrics.DownloadInvalid).Inc()
		m.log.Error().
			Str("model", name).
			Int64("got_bytes", fi.Size()).
			Int64("expected_bytes", desc.SizeBytes).
			Msg("download rejected by size validation")
		return
	}

	m.setStatus(name, Available())
	metrics.ModelDownloadsTotal.WithLabelValues(metrics.DownloadOK).Inc()
	m.log.Info().
		Str("model", name).
		Int64("bytes", fi.Size()).
		Dur("elapsed", time.Since(start)).
		Msg("download complete")
}

// advanceProgress raises the progress of an in-flight download. It
// never lowers it and ignores updates once the download left the
// downloading state.
func (m *Manager) advanceProgress(name string, pct int) {
	m.mu.Lock()
	cur := m.statuses[name]
	if cur.State != StateDownloading || pct <= cur.Progress {
		m.mu.Unlock()
		return
	}
	st := Downloading(pct)
	m.statuses[name] = st
	m.mu.Unlock()
	m.notify(name, st)
}

func (m *Manager) setStatus(name string, st Status) {
	m.mu.Lock()
	m.statuses[name] = st
	m.mu.Unlock()
	m.notify(name, st)
}

func (m *Manager) notify(name string, st Status) {
	if m.onStatus != nil {
		m.onStatus(name, st)
	}
}

func sizeWithinTolerance(expected, actual int64) bool {
	if expected <= 0 {
		return true
	}
	diff := expected - actual
	if diff < 0 {
		diff = -diff
	}
	return diff*100 <= expected*sizeTolerancePct
}
