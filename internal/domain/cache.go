package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require sessionID for strict per-session isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, sessionID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, sessionID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, sessionID string, key string) error

	// GetReport retrieves a cached validation report.
	GetReport(ctx context.Context, sessionID string, batchID string) (*ValidationReport, error)

	// SetReport caches a validation report for fast batch-report reads.
	SetReport(ctx context.Context, sessionID string, batchID string, report *ValidationReport, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used to track validation request volume per session in a rolling window.
	IncrementCounter(ctx context.Context, sessionID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `env:"KESTREL_CACHE_TYPE" envDefault:"memory"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `env:"KESTREL_CACHE_LOCAL_MAX_SIZE" envDefault:"10000"`
	LocalTTL     time.Duration `env:"KESTREL_CACHE_LOCAL_TTL" envDefault:"5m"`

	// Redis settings (Pro tier)
	RedisAddr     string `env:"KESTREL_REDIS_ADDR"`
	RedisPassword string `env:"KESTREL_REDIS_PASSWORD"`
	RedisDB       int    `env:"KESTREL_REDIS_DB"`

	// Two-phase settings
	EnableTwoPhase bool `env:"KESTREL_CACHE_TWO_PHASE"` // If true, check local first, then Redis
}
