// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
)

// Repository defines the interface for data persistence.
// All methods require sessionID for strict per-session isolation.
// Policy sets are deliberately NOT persisted: they live in memory for the
// lifetime of a session only.
type Repository interface {
	// Batch operations
	SaveBatch(ctx context.Context, sessionID string, batch *Batch, records []DealRecord) error
	GetBatch(ctx context.Context, sessionID string, batchID string) (*Batch, error)
	ListBatches(ctx context.Context, sessionID string) ([]*Batch, error)
	GetBatchRecords(ctx context.Context, sessionID string, batchID string) ([]DealRecord, error)

	// Validation reports
	SaveReport(ctx context.Context, sessionID string, report *ValidationReport) error
	GetReport(ctx context.Context, sessionID string, reportID string) (*ValidationReport, error)
	GetReportByBatch(ctx context.Context, sessionID string, batchID string) (*ValidationReport, error)

	// Custom check configurations (global, not session scoped)
	SaveCheckConfig(ctx context.Context, check *CheckConfig) error
	ListCheckConfigs(ctx context.Context) ([]*CheckConfig, error)
	DeleteCheckConfig(ctx context.Context, checkID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `env:"KESTREL_DB_DRIVER" envDefault:"sqlite"`

	// SQLite specific
	SQLitePath string `env:"KESTREL_SQLITE_PATH" envDefault:"./kestrel.db"`

	// PostgreSQL specific
	PostgresHost     string `env:"KESTREL_PG_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"KESTREL_PG_PORT" envDefault:"5432"`
	PostgresUser     string `env:"KESTREL_PG_USER"`
	PostgresPassword string `env:"KESTREL_PG_PASSWORD"`
	PostgresDB       string `env:"KESTREL_PG_DB" envDefault:"kestrel"`
	PostgresSSLMode  string `env:"KESTREL_PG_SSLMODE"`

	// Connection pool settings
	MaxOpenConns int `env:"KESTREL_DB_MAX_OPEN_CONNS"`
	MaxIdleConns int `env:"KESTREL_DB_MAX_IDLE_CONNS"`
}
