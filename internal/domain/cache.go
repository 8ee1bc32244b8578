package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// Progress results are cached per application with a short TTL and invalidated
// on every form save; risk score results are never cached.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetProgress retrieves a cached progress result for an application.
	GetProgress(ctx context.Context, appID string) (*ProgressResult, error)

	// SetProgress caches a progress result for an application.
	SetProgress(ctx context.Context, appID string, result *ProgressResult, ttl time.Duration) error

	// InvalidateProgress drops the cached progress result for an application.
	InvalidateProgress(ctx context.Context, appID string) error

	// IncrementCounter atomically increments a counter and returns the new
	// value. Used to track autosave bursts per (application, step).
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// ProgressTTL bounds how stale a cached progress result may be.
	ProgressTTL time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
