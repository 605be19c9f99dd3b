package asr

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockHandle 模拟已加载的模型
type MockHandle struct {
	mock.Mock
}

func (m *MockHandle) Generate(ctx context.Context, opts GenerateOptions) ([]ResultRecord, error) {
	args := m.Called(ctx, opts)
	results, _ := args.Get(0).([]ResultRecord)
	return results, args.Error(1)
}

func (m *MockHandle) Close() error {
	return m.Called().Error(0)
}

// MockLoader 模拟模型加载器
type MockLoader struct {
	mock.Mock
}

func (m *MockLoader) Load(ctx context.Context, opts LoadOptions) (Handle, error) {
	args := m.Called(ctx, opts)
	handle, _ := args.Get(0).(Handle)
	return handle, args.Error(1)
}
