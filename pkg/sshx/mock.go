package sshx

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProber Prober 的 mock 实现
type MockProber struct {
	mock.Mock
}

var _ Prober = (*MockProber)(nil)

// NewMockProber 创建 MockProber
func NewMockProber() *MockProber {
	return &MockProber{}
}

func (m *MockProber) Probe(ctx context.Context, address, user string) (bool, error) {
	args := m.Called(ctx, address, user)
	return args.Bool(0), args.Error(1)
}

func (m *MockProber) Run(ctx context.Context, address, user, command string) (string, error) {
	args := m.Called(ctx, address, user, command)
	return args.String(0), args.Error(1)
}
