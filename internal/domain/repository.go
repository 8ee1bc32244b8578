// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Application operations
	CreateApplication(ctx context.Context, app *Application) error
	GetApplication(ctx context.Context, appID string) (*Application, error)
	ListApplications(ctx context.Context) ([]*Application, error)
	UpdateApplicationStatus(ctx context.Context, appID string, status string) error
	ApplicationExists(ctx context.Context, appID string) (bool, error)

	// Form record operations. SaveFormRecord is an idempotent upsert keyed by
	// (applicationId, step): Data is fully replaced and LastUpdated refreshed.
	SaveFormRecord(ctx context.Context, appID string, step string, data map[string]any) error
	GetFormRecord(ctx context.Context, appID string, step string) (*FormRecord, error)
	GetFormRecords(ctx context.Context, appID string) ([]*FormRecord, error)

	// Screening rule operations
	SaveScreeningRule(ctx context.Context, rule *ScreeningRule) error
	GetScreeningRule(ctx context.Context, ruleID string) (*ScreeningRule, error)
	ListScreeningRules(ctx context.Context) ([]*ScreeningRule, error)

	// Risk snapshot audit trail
	SaveRiskSnapshot(ctx context.Context, snap *RiskSnapshot) error
	LatestRiskSnapshot(ctx context.Context, appID string) (*RiskSnapshot, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
