package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NoOpCache is a cache implementation that does nothing.
// Used as a fallback when Redis is unavailable - all operations succeed
// but no actual caching occurs (always cache miss).
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache instance
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// GetRetrieval always returns nil (cache miss)
func (c *NoOpCache) GetRetrieval(ctx context.Context, key string) (*Retrieval, error) {
	return nil, nil
}

// SetRetrieval does nothing and always succeeds
func (c *NoOpCache) SetRetrieval(ctx context.Context, key string, result *Retrieval, ttl time.Duration) error {
	return nil
}

// InvalidateActivity does nothing and always succeeds
func (c *NoOpCache) InvalidateActivity(ctx context.Context, activityID uuid.UUID) error {
	return nil
}

// Close does nothing and always succeeds
func (c *NoOpCache) Close() error {
	return nil
}
