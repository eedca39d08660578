package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration. Values come from the
// environment; a local .env file is honored for development.
type Config struct {
	Addr     string `env:"GEMMA_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	PostgresURL string `env:"POSTGRES_URL"`
	RedisURL    string `env:"REDIS_URL"`

	// KafkaBrokers enables the audit outbox publisher when non-empty.
	KafkaBrokers  []string      `env:"KAFKA_BROKERS" envSeparator:","`
	AuditTopic    string        `env:"AUDIT_TOPIC" envDefault:"gemma.audit"`
	OutboxPollGap time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`

	JWTSigningKey string        `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	TokenTTL      time.Duration `env:"TOKEN_TTL" envDefault:"12h"`

	// PointsPerEuro scales sale amounts into points before flooring.
	PointsPerEuro float64 `env:"POINTS_PER_EURO" envDefault:"1.0"`

	// LevelsFile and TiersFile optionally override the built-in level and
	// referral reward tables with YAML configuration.
	LevelsFile string `env:"LEVELS_FILE"`
	TiersFile  string `env:"REFERRAL_TIERS_FILE"`
	PrizesFile string `env:"PRIZES_FILE"`

	// TapDebounceWindow suppresses duplicate hardware reads of the same tag.
	TapDebounceWindow time.Duration `env:"TAP_DEBOUNCE_WINDOW" envDefault:"1500ms"`
	// ScanSessionTimeout bounds how long a terminal waits for a credential.
	ScanSessionTimeout time.Duration `env:"SCAN_SESSION_TIMEOUT" envDefault:"30s"`

	// BridgeStream is the Redis Stream the hardware bridge publishes tap
	// events to. Empty disables the bridge listener (HTTP-only deployments).
	BridgeStream      string        `env:"BRIDGE_STREAM" envDefault:"nfc_taps"`
	BridgeBaseBackoff time.Duration `env:"BRIDGE_BASE_BACKOFF" envDefault:"500ms"`
	BridgeMaxBackoff  time.Duration `env:"BRIDGE_MAX_BACKOFF" envDefault:"30s"`

	// SearchRatePerSecond throttles free-text customer search per terminal.
	SearchRatePerSecond float64 `env:"SEARCH_RATE_PER_SECOND" envDefault:"5"`
	SearchRateBurst     int     `env:"SEARCH_RATE_BURST" envDefault:"10"`

	// PromoStart/PromoEnd define the promotional multiplier window during
	// which referral bonuses are doubled (RFC 3339). Both empty disables it.
	PromoStart string `env:"PROMO_MULTIPLIER_START"`
	PromoEnd   string `env:"PROMO_MULTIPLIER_END"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// PromoWindow parses the configured promotional window. ok is false when no
// window is configured.
func (c *Config) PromoWindow() (start, end time.Time, ok bool, err error) {
	if c.PromoStart == "" || c.PromoEnd == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	start, err = time.Parse(time.RFC3339, c.PromoStart)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("parse PROMO_MULTIPLIER_START: %w", err)
	}
	end, err = time.Parse(time.RFC3339, c.PromoEnd)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("parse PROMO_MULTIPLIER_END: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, false, fmt.Errorf("promo window must end after it starts")
	}
	return start, end, true, nil
}
