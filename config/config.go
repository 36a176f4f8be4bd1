package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port        string `env:"PORT" envDefault:"8090"`
	Environment string `env:"ENVIRONMENT" envDefault:"production"`

	// Redis configuration
	RedisURL string `env:"REDIS_URL" envDefault:"localhost:6379"`

	// PubNub configuration
	PubNubPublishKey   string `env:"PUBNUB_PUBLISH_KEY"`
	PubNubSubscribeKey string `env:"PUBNUB_SUBSCRIBE_KEY"`
	PubNubSecretKey    string `env:"PUBNUB_SECRET_KEY"`

	// Payment gateway
	PaymentWebhookSecret    string `env:"PAYMENT_WEBHOOK_SECRET"`
	EnablePaymentSimulation bool   `env:"ENABLE_PAYMENT_SIMULATION" envDefault:"false"`

	// Ticketing storage
	DBPath string `env:"TICKETING_DB_PATH" envDefault:"pb_data/ticketing.db"`

	// Scanning
	ScanAllowPending bool          `env:"SCAN_ALLOW_PENDING" envDefault:"false"`
	ScanRateLimit    int           `env:"SCAN_RATE_LIMIT" envDefault:"120"`
	ScanRateWindow   time.Duration `env:"SCAN_RATE_WINDOW" envDefault:"1m"`
	ScanMaxAttempts  int           `env:"SCAN_MAX_ATTEMPTS" envDefault:"3"`

	// Issuance
	CodeMaxAttempts int `env:"CODE_MAX_ATTEMPTS" envDefault:"10"`

	// Caching
	AvailabilityCacheTTL time.Duration `env:"AVAILABILITY_CACHE_TTL" envDefault:"30s"`

	// Monitoring
	EnableMetrics          bool          `env:"ENABLE_METRICS" envDefault:"true"`
	MetricsRefreshInterval time.Duration `env:"METRICS_REFRESH_INTERVAL" envDefault:"1m"`
	OTelEndpoint           string        `env:"OTEL_ENDPOINT"`
}

// LoadConfig reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.ScanRateLimit <= 0:
		return fmt.Errorf("SCAN_RATE_LIMIT must be positive, got %d", c.ScanRateLimit)
	case c.ScanRateWindow <= 0:
		return fmt.Errorf("SCAN_RATE_WINDOW must be positive, got %s", c.ScanRateWindow)
	case c.ScanMaxAttempts <= 0:
		return fmt.Errorf("SCAN_MAX_ATTEMPTS must be positive, got %d", c.ScanMaxAttempts)
	case c.CodeMaxAttempts <= 0:
		return fmt.Errorf("CODE_MAX_ATTEMPTS must be positive, got %d", c.CodeMaxAttempts)
	case c.MetricsRefreshInterval <= 0:
		return fmt.Errorf("METRICS_REFRESH_INTERVAL must be positive, got %s", c.MetricsRefreshInterval)
	case !c.IsDevelopment() && c.PaymentWebhookSecret == "":
		return errors.New("PAYMENT_WEBHOOK_SECRET is required outside development")
	case !c.IsDevelopment() && c.EnablePaymentSimulation:
		return errors.New("ENABLE_PAYMENT_SIMULATION is only allowed in development")
	}
	return nil
}

// SimulatePayments reports whether the unauthenticated settlement endpoint is routed.
func (c *Config) SimulatePayments() bool {
	return c.IsDevelopment() && c.EnablePaymentSimulation
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
