package mock

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/kiranshivaraju/genqueue/internal/ai/transport"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// MockProvider satisfies models.AIProvider for tests and local development.
type MockProvider struct {
	Name_        string
	GenerateFunc func(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error)

	calls atomic.Int64
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	m.calls.Add(1)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return models.GenerationResult{}, nil
}

// Calls returns how many times Generate ran.
func (m *MockProvider) Calls() int64 { return m.calls.Load() }

// NewMockProvider returns a MockProvider that echoes the prompt's last line.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
			lines := strings.Split(strings.TrimSpace(req.Prompt), "\n")
			return models.GenerationResult{
				Text:  "Mock output for: " + lines[len(lines)-1],
				Model: "mock-v1",
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ models.GenerationRequest) (models.GenerationResult, error) {
			return models.GenerationResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _ models.GenerationRequest) (models.GenerationResult, error) {
			<-ctx.Done()
			return models.GenerationResult{}, transport.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
