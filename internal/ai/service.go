package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/kbforge/pkg/models"
)

// QuestionService wraps a provider with a per-call inference timeout and
// normalizes its output.
type QuestionService struct {
	provider models.AIProvider
	timeout  time.Duration
}

func NewQuestionService(provider models.AIProvider, timeout time.Duration) *QuestionService {
	return &QuestionService{provider: provider, timeout: timeout}
}

func (s *QuestionService) Name() string { return s.provider.Name() }

// GenerateQuestions returns at most n distinct questions for chunk.
func (s *QuestionService) GenerateQuestions(ctx context.Context, chunk string, n int) ([]string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	qs, err := s.provider.GenerateQuestions(ctx, chunk, n)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
		}
		return nil, err
	}

	seen := make(map[string]struct{}, len(qs))
	out := make([]string, 0, min(len(qs), n))
	for _, q := range qs {
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
		if len(out) == n {
			break
		}
	}

	slog.Debug("generated questions",
		"provider", s.provider.Name(),
		"requested", n,
		"returned", len(out),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

var _ models.AIProvider = (*QuestionService)(nil)
