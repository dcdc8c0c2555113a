package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockCache is a mock implementation of the Cache interface for testing
type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetRetrieval(ctx context.Context, key string) (*Retrieval, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Retrieval), args.Error(1)
}

func (m *MockCache) SetRetrieval(ctx context.Context, key string, result *Retrieval, ttl time.Duration) error {
	args := m.Called(ctx, key, result, ttl)
	return args.Error(0)
}

func (m *MockCache) InvalidateActivity(ctx context.Context, activityID uuid.UUID) error {
	args := m.Called(ctx, activityID)
	return args.Error(0)
}

func (m *MockCache) Close() error {
	args := m.Called()
	return args.Error(0)
}
