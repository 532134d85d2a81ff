package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quietdesk/scribe-engine/internal/audio"
	"github.com/quietdesk/scribe-engine/internal/config"
	"github.com/quietdesk/scribe-engine/internal/events"
	"github.com/quietdesk/scribe-engine/internal/fetch"
	"github.com/quietdesk/scribe-engine/internal/models"
	"github.com/quietdesk/scribe-engine/internal/pipeline"
	"github.com/quietdesk/scribe-engine/internal/settings"
	"github.com/quietdesk/scribe-engine/internal/transcribe"
)

type fakeEnum struct {
	devices []audio.DeviceDescriptor
	def     audio.DeviceDescriptor
	defErr  error
}

func (f *fakeEnum) Devices() ([]audio.DeviceDescriptor, error)    { return f.devices, nil }
func (f *fakeEnum) DefaultInput() (audio.DeviceDescriptor, error) { return f.def, f.defErr }

type memStore struct {
	mu  sync.Mutex
	cur settings.CaptureSettings
}

func (m *memStore) Load() (settings.CaptureSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur, nil
}

func (m *memStore) Save(cs settings.CaptureSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur = cs
	return nil
}

type fakeSource struct {
	tag    audio.SourceTag
	device string
	frames chan audio.Frame

	mu      sync.Mutex
	stopped bool
}

func (s *fakeSource) Start(ctx context.Context) error { return nil }
func (s *fakeSource) Frames() <-chan audio.Frame      { return s.frames }
func (s *fakeSource) Tag() audio.SourceTag            { return s.tag }
func (s *fakeSource) DeviceName() string              { return s.device }

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.frames)
	}
	return nil
}

type fakeOpener struct {
	mu      sync.Mutex
	sources map[audio.SourceTag]*fakeSource
}

func (o *fakeOpener) OpenSource(d audio.DeviceDescriptor, tag audio.SourceTag, onFailure func(error)) audio.CaptureSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := &fakeSource{tag: tag, device: d.Name, frames: make(chan audio.Frame, 16)}
	o.sources[tag] = s
	return s
}

func (o *fakeOpener) source(tag audio.SourceTag) *fakeSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sources[tag]
}

type fakeHandle struct{ path string }

func (h fakeHandle) Infer(context.Context, []float32) ([]transcribe.Segment, error) {
	return []transcribe.Segment{{Text: "ok", End: 50 * time.Millisecond}}, nil
}
func (h fakeHandle) ModelPath() string { return h.path }
func (h fakeHandle) Close() error      { return nil }

type fakeEngine struct {
	mu      sync.Mutex
	loadErr error
}

func (e *fakeEngine) Load(ctx context.Context, path string) (transcribe.ModelHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	return fakeHandle{path: path}, nil
}
func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) failWith(err error) {
	e.mu.Lock()
	e.loadErr = err
	e.mu.Unlock()
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

type fakeMQTT struct{ connected bool }

func (m fakeMQTT) IsConnected() bool { return m.connected }

// rigOptions tweaks the server under test. Zero values give a healthy
// default rig: two input devices, no auth token, no broker.
type rigOptions struct {
	authToken string
	modelsDir string
	enum      *fakeEnum
	store     *memStore
	pingErr   error
	mqtt      ConnectionChecker
}

type testRig struct {
	handler  http.Handler
	pipe     *pipeline.Pipeline
	registry *audio.Registry
	catalog  *models.Catalog
	manager  *models.Manager
	bus      *events.Bus
	opener   *fakeOpener
	store    *memStore
	engine   *fakeEngine
}

func newTestRig(t *testing.T, opts rigOptions) *testRig {
	t.Helper()
	if opts.enum == nil {
		opts.enum = &fakeEnum{
			devices: []audio.DeviceDescriptor{
				{Name: "Built-in Microphone", Direction: audio.DirectionInput, Default: true},
				{Name: "USB Microphone", Direction: audio.DirectionInput},
				{Name: "Monitor of Built-in Audio", Direction: audio.DirectionInput},
			},
			def: audio.DeviceDescriptor{Name: "Built-in Microphone", Direction: audio.DirectionInput, Default: true},
		}
	}
	if opts.store == nil {
		opts.store = &memStore{}
	}
	if opts.modelsDir == "" {
		opts.modelsDir = t.TempDir()
	}

	registry, err := audio.NewRegistry(audio.RegistryOptions{Enum: opts.enum, Store: opts.store, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	bus := events.NewBus(128)
	opener := &fakeOpener{sources: make(map[audio.SourceTag]*fakeSource)}
	pipe := pipeline.New(pipeline.Options{
		Registry:         registry,
		Opener:           opener,
		Bus:              bus,
		QueueCapacity:    10,
		BacklogCapacity:  10,
		ChunkSamples:     800,
		MixMode:          audio.MixTagged,
		PopTimeout:       20 * time.Millisecond,
		StopDrainTimeout: time.Second,
		Log:              zerolog.Nop(),
	})
	pipe.Start()
	t.Cleanup(pipe.Shutdown)

	catalog := models.NewCatalog(opts.modelsDir)
	engine := &fakeEngine{}
	// The manager's download loop is never started: downloads queue but
	// no transfer runs, so tests stay off the network.
	manager := models.NewManager(models.ManagerOptions{
		Catalog:  catalog,
		Resolver: fetch.NewResolver(fetch.S3Options{}, zerolog.Nop()),
		Engine:   engine,
		Worker:   pipe.Worker(),
		Log:      zerolog.Nop(),
	})

	cfg := &config.Config{
		ListenAddr:  "127.0.0.1:0",
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 5 * time.Second,
		ModelsDir:   opts.modelsDir,
		AuthToken:   opts.authToken,
		CORSOrigins: "*",
	}
	srv := NewServer(cfg, Deps{
		Registry:  registry,
		Pipeline:  pipe,
		Catalog:   catalog,
		Manager:   manager,
		Bus:       bus,
		Engine:    fakePinger{err: opts.pingErr},
		MQTT:      opts.mqtt,
		Version:   "test",
		StartTime: time.Now(),
	}, zerolog.Nop())

	return &testRig{
		handler:  srv.http.Handler,
		pipe:     pipe,
		registry: registry,
		catalog:  catalog,
		manager:  manager,
		bus:      bus,
		opener:   opener,
		store:    opts.store,
		engine:   engine,
	}
}

// do runs one request through the full middleware and routing stack.
func (rig *testRig) do(method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	return rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServerRouting(t *testing.T) {
	t.Run("health_needs_no_token", func(t *testing.T) {
		rig := newTestRig(t, rigOptions{authToken: "sekrit"})
		rec := rig.do("GET", "/api/v1/health", "")
		if rec.Code == http.StatusUnauthorized {
			t.Fatal("health endpoint must not require auth")
		}
	})

	t.Run("api_routes_require_the_token", func(t *testing.T) {
		rig := newTestRig(t, rigOptions{authToken: "sekrit"})
		rec := rig.do("GET", "/api/v1/models", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401 without token", rec.Code)
		}

		req := httptest.NewRequest("GET", "/api/v1/models", nil)
		req.Header.Set("Authorization", "Bearer sekrit")
		rec2 := httptest.NewRecorder()
		rig.handler.ServeHTTP(rec2, req)
		if rec2.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 with token", rec2.Code)
		}
	})

	t.Run("metrics_endpoint_is_served", func(t *testing.T) {
		rig := newTestRig(t, rigOptions{})
		rec := rig.do("GET", "/metrics", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "# HELP") {
			t.Error("metrics body is not prometheus exposition format")
		}
	})

	t.Run("unknown_route_is_404", func(t *testing.T) {
		rig := newTestRig(t, rigOptions{})
		rec := rig.do("GET", "/api/v1/nonsense", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("responses_carry_a_request_id", func(t *testing.T) {
		rig := newTestRig(t, rigOptions{})
		rec := rig.do("GET", "/api/v1/capture", "")
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID header")
		}
	})
}
