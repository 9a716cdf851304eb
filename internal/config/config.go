package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Config is the full runtime configuration, populated from the environment.
type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Empty DSN selects the in-memory store (local development).
	DatabaseDSN string `envconfig:"DATABASE_DSN"`

	FacebookAPIURL string `envconfig:"FB_API_URL" default:"https://graph.facebook.com/v18.0"`
	FacebookToken  string `envconfig:"FB_ACCESS_TOKEN"`

	AmoCRMBaseURL string `envconfig:"AMOCRM_BASE_URL"`
	AmoCRMToken   string `envconfig:"AMOCRM_TOKEN"`

	AdminToken string `envconfig:"ADMIN_TOKEN"`

	SinkURL    string `envconfig:"SINK_URL"`
	SinkSecret string `envconfig:"SINK_SECRET"`

	SyncInterval     time.Duration `envconfig:"SYNC_INTERVAL" default:"10m"`
	StaleAfter       time.Duration `envconfig:"STALE_AFTER" default:"15m"`
	StuckAfter       time.Duration `envconfig:"STUCK_AFTER" default:"8m"`
	FetchConcurrency int           `envconfig:"FETCH_CONCURRENCY" default:"4"`
	MaxWindowDays    int           `envconfig:"MAX_WINDOW_DAYS" default:"90"`

	HTTPTimeout   time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	RetryAttempts int           `envconfig:"RETRY_ATTEMPTS" default:"3"`

	// USD -> KZT. A configured constant, deliberately not a live feed.
	ExchangeRateKZT float64 `envconfig:"EXCHANGE_RATE_KZT" default:"475"`

	// Team credited when no UTM mapping matches. Empty disables the
	// fallback and unmatched records are only counted, not attributed.
	DefaultTeam string `envconfig:"DEFAULT_TEAM" default:"unattributed"`
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, using environment variables")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.FetchConcurrency < 1 {
		cfg.FetchConcurrency = 1
	}
	return &cfg, nil
}
