package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/quietdesk/scribe-engine/internal/audio"
)

// ServerEngineOptions configures the whisper-server adapter.
type ServerEngineOptions struct {
	// BaseURL of a local whisper server exposing /load and /inference.
	BaseURL string
	Timeout time.Duration
	// Language hint for decoding; empty lets the server auto-detect.
	Language    string
	Temperature float64
}

// ServerEngine talks to a local whisper server: POST /load swaps the
// served model file, POST /inference transcribes one WAV upload. The
// inference computation itself lives entirely on the server side.
type ServerEngine struct {
	opts   ServerEngineOptions
	client *http.Client
}

// NewServerEngine creates the adapter. No request is made until Load.
func NewServerEngine(opts ServerEngineOptions) *ServerEngine {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &ServerEngine{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// Name identifies the adapter in logs and health checks.
func (e *ServerEngine) Name() string { return "whisper-server" }

// BaseURL returns the configured server address.
func (e *ServerEngine) BaseURL() string { return e.opts.BaseURL }

// Ping reports whether the server answers at all. Used by the health
// endpoint; any HTTP response counts as alive.
func (e *ServerEngine) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(e.opts.BaseURL, "/")+"/", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("whisper server unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Load checks the model file exists locally, then asks the server to
// load it. Returns a handle bound to that model path on success; any
// failure leaves the caller's previously active handle untouched.
func (e *ServerEngine) Load(ctx context.Context, modelPath string) (ModelHandle, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("model", modelPath); err != nil {
		return nil, fmt.Errorf("build load request: %w", err)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(e.opts.BaseURL, "/")+"/load", &buf)
	if err != nil {
		return nil, fmt.Errorf("create load request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load model (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return &serverHandle{engine: e, modelPath: modelPath}, nil
}

type serverHandle struct {
	engine    *ServerEngine
	modelPath string
	closed    bool
}

func (h *serverHandle) ModelPath() string { return h.modelPath }

// Close retires the handle client-side. The server keeps whatever
// model it currently serves; the next Load replaces it.
func (h *serverHandle) Close() error {
	h.closed = true
	return nil
}

// inferenceResponse is the whisper server's verbose JSON shape.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text         string  `json:"text"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// Infer uploads the chunk as a WAV and parses the returned segments.
// Offsets come back relative to the uploaded audio's start.
func (h *serverHandle) Infer(ctx context.Context, samples []float32) ([]Segment, error) {
	if h.closed {
		return nil, fmt.Errorf("%w: handle closed", ErrEngine)
	}
	wavData, err := audio.WAVBytes(samples, audio.EngineSampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrEngine, err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrEngine, err)
	}
	w.WriteField("response_format", "verbose_json")
	w.WriteField("temperature", fmt.Sprintf("%.2f", h.engine.opts.Temperature))
	if lang := h.engine.opts.Language; lang != "" {
		w.WriteField("language", lang)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(h.engine.opts.BaseURL, "/")+"/inference", &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrEngine, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := h.engine.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrEngine, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrEngine, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed inferenceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrEngine, err)
	}

	out := make([]Segment, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		out = append(out, Segment{
			Text:       s.Text,
			Start:      time.Duration(s.Start * float64(time.Second)),
			End:        time.Duration(s.End * float64(time.Second)),
			Confidence: logprobConfidence(s.AvgLogprob),
		})
	}
	if len(out) == 0 && strings.TrimSpace(parsed.Text) != "" {
		// Some server builds return plain text without segment timing.
		out = append(out, Segment{Text: parsed.Text})
	}
	return out, nil
}

// logprobConfidence maps an average token log-probability to (0, 1].
func logprobConfidence(avgLogprob float64) float64 {
	if avgLogprob >= 0 {
		return 1
	}
	return math.Exp(avgLogprob)
}
