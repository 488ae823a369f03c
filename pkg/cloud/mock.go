package cloud

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockDriver 是 Driver 的 mock 实现
// 用于测试，不需要真实的云提供商
type MockDriver struct {
	mock.Mock
}

var _ Driver = (*MockDriver)(nil)

// NewMockDriver 创建 MockDriver
func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

func (m *MockDriver) CreateServer(ctx context.Context, opts CreateServerOpts) (*Server, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Server), args.Error(1)
}

func (m *MockDriver) GetServer(ctx context.Context, id string) (*Server, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Server), args.Error(1)
}

func (m *MockDriver) DeleteServer(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDriver) CreateImage(ctx context.Context, serverID, name string) (string, error) {
	args := m.Called(ctx, serverID, name)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) GetImage(ctx context.Context, id string) (*Image, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Image), args.Error(1)
}

func (m *MockDriver) DeleteImage(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDriver) FindFlavor(ctx context.Context, minRAM int) (string, error) {
	args := m.Called(ctx, minRAM)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) NeedsFloatingIP() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockDriver) AttachFloatingIP(ctx context.Context, serverID string) (string, error) {
	args := m.Called(ctx, serverID)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) EnsureKeypair(ctx context.Context, name, publicKey string) (string, error) {
	args := m.Called(ctx, name, publicKey)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) Close() error {
	args := m.Called()
	return args.Error(0)
}
