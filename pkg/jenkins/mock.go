package jenkins

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient 调度器客户端的 mock 实现
type MockClient struct {
	mock.Mock
}

// NewMockClient 创建 MockClient
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) NodeExists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockClient) CreateNode(ctx context.Context, node Node) error {
	args := m.Called(ctx, node)
	return args.Error(0)
}

func (m *MockClient) DisableNode(ctx context.Context, name, message string) error {
	args := m.Called(ctx, name, message)
	return args.Error(0)
}

func (m *MockClient) DeleteNode(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}
