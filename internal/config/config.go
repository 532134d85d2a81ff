package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/quietdesk/scribe-engine/internal/audio"
)

type Config struct {
	// ListenAddr binds the control API. Loopback by default: the
	// daemon is a local companion process, not a network service.
	ListenAddr  string        `env:"LISTEN_ADDR" envDefault:"127.0.0.1:8790"`
	ReadTimeout time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	IdleTimeout time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	WhisperURL      string        `env:"WHISPER_URL" envDefault:"http://127.0.0.1:8178"`
	WhisperTimeout  time.Duration `env:"WHISPER_TIMEOUT" envDefault:"30s"`
	WhisperLanguage string        `env:"WHISPER_LANGUAGE"`

	// ModelsDir and SettingsPath default to the platform cache and
	// config dirs when empty; see Load.
	ModelsDir    string `env:"MODELS_DIR"`
	SettingsPath string `env:"SETTINGS_PATH"`
	DefaultModel string `env:"DEFAULT_MODEL" envDefault:"base"`

	ModelMirrorURL   string `env:"MODEL_MIRROR_URL"`
	S3Endpoint       string `env:"S3_ENDPOINT"`
	S3Region         string `env:"S3_REGION" envDefault:"us-east-1"`
	S3AccessKey      string `env:"S3_ACCESS_KEY"`
	S3SecretKey      string `env:"S3_SECRET_KEY"`
	S3ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE" envDefault:"false"`

	QueueCapacity     int           `env:"QUEUE_CAPACITY" envDefault:"10"`
	BacklogCapacity   int           `env:"BACKLOG_CAPACITY" envDefault:"10"`
	ChunkMs           int           `env:"CHUNK_MS" envDefault:"1000"`
	MixMode           string        `env:"MIX_MODE" envDefault:"tagged"`
	PopTimeout        time.Duration `env:"POP_TIMEOUT" envDefault:"100ms"`
	DegradedThreshold int           `env:"DEGRADED_THRESHOLD" envDefault:"5"`
	StopDrainTimeout  time.Duration `env:"STOP_DRAIN_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	EventRingSize     int           `env:"EVENT_RING_SIZE" envDefault:"512"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"scribe"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"scribe-engine"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	NotifyDesktop bool   `env:"NOTIFY_DESKTOP" envDefault:"false"`
	DebugDumpDir  string `env:"DEBUG_DUMP_DIR"`
	AuthToken     string `env:"AUTH_TOKEN"`
	CORSOrigins   string `env:"CORS_ORIGINS" envDefault:"*"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"json"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile      string
	ListenAddr   string
	LogLevel     string
	ModelsDir    string
	SettingsPath string
	WhisperURL   string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.ListenAddr != "" {
		cfg.ListenAddr = overrides.ListenAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.ModelsDir != "" {
		cfg.ModelsDir = overrides.ModelsDir
	}
	if overrides.SettingsPath != "" {
		cfg.SettingsPath = overrides.SettingsPath
	}
	if overrides.WhisperURL != "" {
		cfg.WhisperURL = overrides.WhisperURL
	}

	if err := resolveDataPaths(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveDataPaths fills in platform defaults for paths the user did
// not set.
func resolveDataPaths(cfg *Config) error {
	if cfg.ModelsDir == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("resolving cache dir: %w", err)
		}
		cfg.ModelsDir = filepath.Join(cache, "scribe-engine", "models")
	}
	if cfg.SettingsPath == "" {
		conf, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("resolving config dir: %w", err)
		}
		cfg.SettingsPath = filepath.Join(conf, "scribe-engine", "settings.json")
	}
	return nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.QueueCapacity < 1 {
		return fmt.Errorf("QUEUE_CAPACITY must be at least 1, got %d", c.QueueCapacity)
	}
	if c.BacklogCapacity < 1 {
		return fmt.Errorf("BACKLOG_CAPACITY must be at least 1, got %d", c.BacklogCapacity)
	}
	if c.ChunkMs < 100 || c.ChunkMs > 10000 {
		return fmt.Errorf("CHUNK_MS must be between 100 and 10000, got %d", c.ChunkMs)
	}
	if c.PopTimeout < 50*time.Millisecond || c.PopTimeout > 200*time.Millisecond {
		return fmt.Errorf("POP_TIMEOUT must be between 50ms and 200ms, got %s", c.PopTimeout)
	}
	if c.DegradedThreshold < 1 {
		return fmt.Errorf("DEGRADED_THRESHOLD must be at least 1, got %d", c.DegradedThreshold)
	}
	if _, ok := audio.ParseMixMode(c.MixMode); !ok {
		return fmt.Errorf("MIX_MODE must be %q or %q, got %q", audio.MixTagged, audio.MixSum, c.MixMode)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("LOG_FORMAT must be \"json\" or \"console\", got %q", c.LogFormat)
	}
	return nil
}

// ChunkDuration is the nominal wall-clock span of one chunk.
func (c *Config) ChunkDuration() time.Duration {
	return time.Duration(c.ChunkMs) * time.Millisecond
}

// ChunkSamples is the chunk size in engine-rate samples.
func (c *Config) ChunkSamples() int {
	return c.ChunkMs * audio.EngineSampleRate / 1000
}
