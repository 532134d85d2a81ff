package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/quietdesk/scribe-engine/internal/events"
	"github.com/quietdesk/scribe-engine/internal/metrics"
	"github.com/quietdesk/scribe-engine/internal/pipeline"
)

// keepaliveInterval paces SSE comment frames so idle connections
// survive proxies and timeouts.
const keepaliveInterval = 15 * time.Second

type StreamHandler struct {
	bus  *events.Bus
	pipe *pipeline.Pipeline
}

func NewStreamHandler(bus *events.Bus, pipe *pipeline.Pipeline) *StreamHandler {
	return &StreamHandler{bus: bus, pipe: pipe}
}

// StreamEvents opens an SSE connection and pushes filtered engine
// events until the client disconnects.
func (h *StreamHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	filter := events.Filter{
		Types:    QueryStringList(r, "types"),
		Sessions: QueryStringList(r, "session"),
		Models:   QueryStringList(r, "model"),
	}

	writeSSEHeaders(w)

	// Replay missed events if Last-Event-ID is provided
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, e := range h.bus.ReplaySince(lastEventID, filter) {
			writeSSE(w, e)
		}
	}
	// Commit the headers now so clients see the stream open instead of
	// blocking until the first event.
	flusher.Flush()

	ch, cancel := h.bus.Subscribe(filter)
	defer cancel()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, e)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// StreamTranscript serves one capture session's segments as a finite
// SSE stream: segments already emitted are replayed from the ring,
// live ones follow, and the stream closes when the session ends.
func (h *StreamHandler) StreamTranscript(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sessID, ok := QueryString(r, "session")
	if !ok {
		st := h.pipe.Status()
		if st.Session == nil {
			WriteDomainError(w, pipeline.ErrNotCapturing)
			return
		}
		sessID = st.Session.ID
	}

	filter := events.Filter{
		Types:    []string{events.TypeSegment, events.TypeSessionEnded},
		Sessions: []string{sessID},
	}

	writeSSEHeaders(w)

	// A fresh connection replays the session so far; a reconnect with
	// Last-Event-ID resumes where it left off.
	for _, e := range h.bus.ReplaySince(r.Header.Get("Last-Event-ID"), filter) {
		writeSSE(w, e)
		if e.Type == events.TypeSessionEnded {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	ch, cancel := h.bus.Subscribe(filter)
	defer cancel()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Str("session", sessID).Msg("transcript stream opened")

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, e)
			flusher.Flush()
			if e.Type == events.TypeSessionEnded {
				log.Info().Str("session", sessID).Msg("transcript stream complete")
				return
			}
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSE(w http.ResponseWriter, e events.Event) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
	metrics.SSEEventsPublishedTotal.Inc()
}

// Routes registers stream routes on the given router.
func (h *StreamHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
	r.Get("/transcript/stream", h.StreamTranscript)
}
