package llm

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of Client using testify/mock.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Answer(ctx context.Context, question, contextText string, history []Message) (string, error) {
	args := m.Called(ctx, question, contextText, history)
	return args.String(0), args.Error(1)
}

func (m *MockClient) Condense(ctx context.Context, question string, history []Message) (string, error) {
	args := m.Called(ctx, question, history)
	return args.String(0), args.Error(1)
}
