package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/quietdesk/scribe-engine/internal/audio"
	"github.com/quietdesk/scribe-engine/internal/config"
	"github.com/quietdesk/scribe-engine/internal/events"
	"github.com/quietdesk/scribe-engine/internal/metrics"
	"github.com/quietdesk/scribe-engine/internal/models"
	"github.com/quietdesk/scribe-engine/internal/pipeline"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Deps holds the components the HTTP surface exposes.
type Deps struct {
	Registry  *audio.Registry
	Pipeline  *pipeline.Pipeline
	Catalog   *models.Catalog
	Manager   *models.Manager
	Bus       *events.Bus
	Engine    Pinger
	MQTT      ConnectionChecker
	Version   string
	StartTime time.Time
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint — no auth
		health := NewHealthHandler(deps.Engine, deps.MQTT, deps.Manager, deps.Pipeline, deps.Registry, cfg.ModelsDir, deps.Version, deps.StartTime)
		r.Get("/health", health.ServeHTTP)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			NewDevicesHandler(deps.Registry, deps.Pipeline).Routes(r)
			NewCaptureHandler(deps.Pipeline).Routes(r)
			NewModelsHandler(deps.Catalog, deps.Manager).Routes(r)
			NewStreamHandler(deps.Bus, deps.Pipeline).Routes(r)
			NewStatsHandler(deps.Pipeline, deps.Manager).Routes(r)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		http: &http.Server{
			Addr:        cfg.ListenAddr,
			Handler:     r,
			ReadTimeout: cfg.ReadTimeout,
			// WriteTimeout stays zero: SSE streams outlive any fixed deadline.
			IdleTimeout: cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
