package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/quietdesk/scribe-engine/internal/api"
	"github.com/quietdesk/scribe-engine/internal/audio"
	"github.com/quietdesk/scribe-engine/internal/config"
	"github.com/quietdesk/scribe-engine/internal/events"
	"github.com/quietdesk/scribe-engine/internal/fetch"
	"github.com/quietdesk/scribe-engine/internal/metrics"
	"github.com/quietdesk/scribe-engine/internal/models"
	"github.com/quietdesk/scribe-engine/internal/mqttclient"
	"github.com/quietdesk/scribe-engine/internal/notify"
	"github.com/quietdesk/scribe-engine/internal/pipeline"
	"github.com/quietdesk/scribe-engine/internal/settings"
	"github.com/quietdesk/scribe-engine/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.ListenAddr, "listen", "", "control API listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flag.StringVar(&overrides.ModelsDir, "models-dir", "", "directory for downloaded model files")
	flag.StringVar(&overrides.SettingsPath, "settings", "", "path to the capture settings file")
	flag.StringVar(&overrides.WhisperURL, "whisper-url", "", "base URL of the whisper server")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	log := zerolog.New(out).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("scribe-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Audio host
	audioLog := log.With().Str("component", "audio").Logger()
	host, err := audio.NewHost(audioLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audio host")
	}
	defer host.Close()

	// Device registry over persisted capture settings
	store := settings.NewFileStore(cfg.SettingsPath)
	registry, err := audio.NewRegistry(audio.RegistryOptions{
		Enum:  host,
		Store: store,
		Log:   audioLog,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load capture settings")
	}

	// Event bus
	bus := events.NewBus(cfg.EventRingSize)

	// Capture and transcription pipeline
	pipe := pipeline.New(pipeline.Options{
		Registry:          registry,
		Opener:            pipeline.NewPortAudioOpener(host),
		Bus:               bus,
		QueueCapacity:     cfg.QueueCapacity,
		BacklogCapacity:   cfg.BacklogCapacity,
		ChunkSamples:      cfg.ChunkSamples(),
		MixMode:           audio.MixMode(cfg.MixMode),
		MixWait:           cfg.ChunkDuration(),
		PopTimeout:        cfg.PopTimeout,
		DegradedThreshold: cfg.DegradedThreshold,
		StopDrainTimeout:  cfg.StopDrainTimeout,
		DebugDumpDir:      cfg.DebugDumpDir,
		Log:               log,
	})
	prometheus.MustRegister(metrics.NewCollector(pipe))

	// Whisper server engine
	engine := transcribe.NewServerEngine(transcribe.ServerEngineOptions{
		BaseURL:  cfg.WhisperURL,
		Timeout:  cfg.WhisperTimeout,
		Language: cfg.WhisperLanguage,
	})

	// Model catalog and lifecycle manager
	modelLog := log.With().Str("component", "models").Logger()
	catalog := models.NewCatalog(cfg.ModelsDir)
	if n := models.SweepTempFiles(cfg.ModelsDir, modelLog); n > 0 {
		modelLog.Info().Int("removed", n).Msg("swept stale partial downloads")
	}
	resolver := fetch.NewResolver(fetch.S3Options{
		Endpoint:       cfg.S3Endpoint,
		Region:         cfg.S3Region,
		AccessKey:      cfg.S3AccessKey,
		SecretKey:      cfg.S3SecretKey,
		ForcePathStyle: cfg.S3ForcePathStyle,
	}, modelLog)
	manager := models.NewManager(models.ManagerOptions{
		Catalog:   catalog,
		Resolver:  resolver,
		Engine:    engine,
		Worker:    pipe.Worker(),
		MirrorURL: cfg.ModelMirrorURL,
		OnStatus: func(name string, st models.Status) {
			bus.Publish(events.TypeModelStatus, events.Event{Model: name}, events.ModelStatusPayload{
				Name:     name,
				State:    string(st.State),
				Progress: st.Progress,
				Error:    st.Error,
			})
		},
		OnSwitch: func(prev, next string) {
			bus.Publish(events.TypeModelStatus, events.Event{Model: next}, events.ModelStatusPayload{
				Name:   next,
				State:  string(models.StateAvailable),
				Active: true,
			})
		},
		Log: modelLog,
	})
	manager.Start(ctx)
	defer manager.Stop()

	// Watch the models dir so files dropped in by hand get picked up.
	watcher, err := models.NewWatcher(cfg.ModelsDir, manager, modelLog)
	if err != nil {
		log.Warn().Err(err).Msg("models dir watcher unavailable")
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	// Load the default model if it is already on disk. Failure is not
	// fatal: the worker holds chunks in its backlog until a model loads.
	if st, ok := manager.Status(cfg.DefaultModel); !ok {
		log.Warn().Str("model", cfg.DefaultModel).Msg("default model not in catalog")
	} else if st.State == models.StateAvailable {
		if err := manager.Switch(ctx, cfg.DefaultModel); err != nil {
			log.Warn().Err(err).Str("model", cfg.DefaultModel).Msg("default model load failed")
		}
	} else {
		log.Info().Str("model", cfg.DefaultModel).Str("state", string(st.State)).
			Msg("default model not on disk yet")
	}

	// MQTT (optional)
	var mqttPub *mqttclient.Publisher
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqttPub, err = mqttclient.Connect(mqttclient.PublisherOptions{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         mqttLog,
		})
		if err != nil {
			log.Warn().Err(err).Msg("mqtt broker unreachable, continuing without it")
			mqttPub = nil
		} else {
			mqttPub.Run(bus)
			defer mqttPub.Close()
		}
	}

	// Desktop notifications (optional)
	stopNotify := notify.New(cfg.NotifyDesktop).Watch(bus)
	defer stopNotify()

	pipe.Start()
	defer pipe.Shutdown()

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	deps := api.Deps{
		Registry:  registry,
		Pipeline:  pipe,
		Catalog:   catalog,
		Manager:   manager,
		Bus:       bus,
		Engine:    engine,
		Version:   version,
		StartTime: startTime,
	}
	if mqttPub != nil {
		deps.MQTT = mqttPub
	}
	srv := api.NewServer(cfg, deps, httpLog)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with bounded timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("scribe-engine stopped")
}
