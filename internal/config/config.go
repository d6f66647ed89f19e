package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the complete runtime configuration, loaded from the environment.
type Config struct {
	AppEnv    string `envconfig:"APP_ENV" default:"development"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	HTTPListenAddr string `envconfig:"HTTP_LISTEN_ADDR" default:":8080"`
	PublicBaseURL  string `envconfig:"PUBLIC_BASE_URL"`
	PublicBasePath string `envconfig:"PUBLIC_BASE_PATH"`
	AdminToken     string `envconfig:"ADMIN_TOKEN"`

	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"avatar_studio"`

	// DatabaseURL selects Postgres; when empty the SQLite file at SQLitePath is used.
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	SupabaseSchema string `envconfig:"SUPABASE_SCHEMA" default:"public"`
	SQLitePath     string `envconfig:"SQLITE_PATH" default:"data/studio.db"`

	SupabaseURL        string `envconfig:"SUPABASE_URL"`
	SupabaseServiceKey string `envconfig:"SUPABASE_SERVICE_KEY"`
	AudioBucket        string `envconfig:"AUDIO_BUCKET" default:"audio_files"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RedisTLS      bool          `envconfig:"REDIS_TLS" default:"false"`
	PlanCacheTTL  time.Duration `envconfig:"PLAN_CACHE_TTL" default:"5m"`

	CatalogCacheTTL time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"1h"`

	HeyGenBaseURL      string        `envconfig:"HEYGEN_BASE_URL" default:"https://api.heygen.com"`
	HeyGenAPIKey       string        `envconfig:"HEYGEN_API_KEY"`
	HeyGenTimeout      time.Duration `envconfig:"HEYGEN_TIMEOUT" default:"30s"`
	HeyGenDefaultVoice string        `envconfig:"HEYGEN_DEFAULT_VOICE"`

	ElevenLabsBaseURL string        `envconfig:"ELEVENLABS_BASE_URL" default:"https://api.elevenlabs.io"`
	ElevenLabsAPIKey  string        `envconfig:"ELEVENLABS_API_KEY"`
	ElevenLabsModel   string        `envconfig:"ELEVENLABS_MODEL" default:"eleven_multilingual_v2"`
	ElevenLabsTimeout time.Duration `envconfig:"ELEVENLABS_TIMEOUT" default:"60s"`

	OpenAIBaseURL string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com"`
	OpenAIAPIKey  string        `envconfig:"OPENAI_API_KEY"`
	OpenAIModel   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAITimeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`

	BFLBaseURL string        `envconfig:"BFL_BASE_URL" default:"https://api.bfl.ml"`
	BFLAPIKey  string        `envconfig:"BFL_API_KEY"`
	BFLModel   string        `envconfig:"BFL_MODEL" default:"flux-pro-1.1"`
	BFLTimeout time.Duration `envconfig:"BFL_TIMEOUT" default:"30s"`

	VideoPollInterval    time.Duration `envconfig:"VIDEO_POLL_INTERVAL" default:"5s"`
	LookPollInterval     time.Duration `envconfig:"LOOK_POLL_INTERVAL" default:"5s"`
	LookPollAttempts     int           `envconfig:"LOOK_POLL_ATTEMPTS" default:"20"`
	MotionPollInterval   time.Duration `envconfig:"MOTION_POLL_INTERVAL" default:"5s"`
	MotionPollAttempts   int           `envconfig:"MOTION_POLL_ATTEMPTS" default:"60"`
	ImagePollInterval    time.Duration `envconfig:"IMAGE_POLL_INTERVAL" default:"3s"`
	ImagePollAttempts    int           `envconfig:"IMAGE_POLL_ATTEMPTS" default:"40"`
	PollTransportRetries int           `envconfig:"POLL_TRANSPORT_RETRIES" default:"0"`

	SweepSchedule string        `envconfig:"SWEEP_SCHEDULE" default:"@every 1m"`
	StaleAfter    time.Duration `envconfig:"STALE_AFTER" default:"2h"`

	TranslationRetention time.Duration `envconfig:"TRANSLATION_RETENTION" default:"24h"`

	AutomationRetryMax int           `envconfig:"AUTOMATION_RETRY_MAX" default:"3"`
	AutomationTimeout  time.Duration `envconfig:"AUTOMATION_TIMEOUT" default:"10s"`
}

// Load reads the configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" && strings.TrimSpace(c.SQLitePath) == "" {
		return errors.New("either DATABASE_URL or SQLITE_PATH must be set")
	}
	if c.VideoPollInterval <= 0 || c.LookPollInterval <= 0 || c.MotionPollInterval <= 0 || c.ImagePollInterval <= 0 {
		return errors.New("poll intervals must be positive")
	}
	if c.PollTransportRetries < 0 {
		return errors.New("POLL_TRANSPORT_RETRIES must not be negative")
	}
	return nil
}

// UsePostgres reports whether the Supabase Postgres repository should be used.
func (c *Config) UsePostgres() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}
