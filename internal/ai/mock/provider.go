package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/kbforge/internal/ai"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

// MockProvider satisfies models.AIProvider for testing.
type MockProvider struct {
	Name_                 string
	GenerateQuestionsFunc func(ctx context.Context, chunk string, n int) ([]string, error)

	mu     sync.Mutex
	chunks []string
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) GenerateQuestions(ctx context.Context, chunk string, n int) ([]string, error) {
	m.mu.Lock()
	m.chunks = append(m.chunks, chunk)
	m.mu.Unlock()
	if m.GenerateQuestionsFunc != nil {
		return m.GenerateQuestionsFunc(ctx, chunk, n)
	}
	return nil, nil
}

// Chunks returns every chunk the provider was asked about, in call order.
func (m *MockProvider) Chunks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.chunks...)
}

// NewMockProvider returns a MockProvider that answers n numbered questions per chunk.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		GenerateQuestionsFunc: func(_ context.Context, chunk string, n int) ([]string, error) {
			qs := make([]string, n)
			for i := range qs {
				qs[i] = fmt.Sprintf("question %d about %.20s", i+1, chunk)
			}
			return qs, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateQuestionsFunc: func(_ context.Context, _ string, _ int) ([]string, error) {
			return nil, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		GenerateQuestionsFunc: func(ctx context.Context, _ string, _ int) ([]string, error) {
			<-ctx.Done()
			return nil, ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
