package domain

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier" env:"KESTREL_TIER" envDefault:"community"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Anomaly detector settings
	Anomaly AnomalyConfig `json:"anomaly"`

	// AsyncWorker enables background batch processing off the event bus.
	AsyncWorker bool `json:"asyncWorker" env:"KESTREL_ASYNC_WORKER"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" env:"KESTREL_HOST" envDefault:"0.0.0.0"`
	Port         int    `json:"port" env:"KESTREL_PORT" envDefault:"8080"`
	ReadTimeout  int    `json:"readTimeout" env:"KESTREL_READ_TIMEOUT" envDefault:"30"`   // seconds
	WriteTimeout int    `json:"writeTimeout" env:"KESTREL_WRITE_TIMEOUT" envDefault:"30"` // seconds
}

// AnomalyConfig holds isolation-forest detector settings.
type AnomalyConfig struct {
	// Contamination is the expected outlier proportion in a batch.
	Contamination float64 `json:"contamination" env:"KESTREL_ANOMALY_CONTAMINATION" envDefault:"0.1"`

	// Seed fixes the detector's randomness for reproducible labels.
	Seed int64 `json:"seed" env:"KESTREL_ANOMALY_SEED" envDefault:"42"`

	// Trees is the ensemble size.
	Trees int `json:"trees" env:"KESTREL_ANOMALY_TREES" envDefault:"100"`

	// SampleSize is the per-tree subsample size.
	SampleSize int `json:"sampleSize" env:"KESTREL_ANOMALY_SAMPLE_SIZE" envDefault:"256"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" env:"KESTREL_LOG_LEVEL" envDefault:"info"`    // debug, info, warn, error
	Format string `json:"format" env:"KESTREL_LOG_FORMAT" envDefault:"json"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" env:"KESTREL_TRACING_ENABLED"`
	ServiceName string `json:"serviceName" env:"KESTREL_TRACING_SERVICE" envDefault:"kestrel"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// LoadConfig reads configuration from KESTREL_* environment variables,
// falling back to Community tier defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment config: %w", err)
	}

	if cfg.Tier == TierPro {
		applyProDefaults(cfg)
	}

	return cfg, nil
}

// applyProDefaults fills in Pro tier backends where the environment left
// the Community defaults in place.
func applyProDefaults(cfg *Config) {
	if cfg.Repository.Driver == "sqlite" {
		cfg.Repository.Driver = "postgres"
	}
	if cfg.Cache.Type == "memory" {
		cfg.Cache.Type = "redis"
		cfg.Cache.EnableTwoPhase = true
		cfg.Cache.LocalMaxSize = 1000
	}
	if cfg.Cache.RedisAddr == "" {
		cfg.Cache.RedisAddr = "localhost:6379"
	}
	if cfg.EventBus.Type == "channel" {
		cfg.EventBus.Type = "nats"
	}
	if cfg.EventBus.NATSUrl == "" {
		cfg.EventBus.NATSUrl = "nats://localhost:4222"
	}
	cfg.Tracing.Enabled = true
}
