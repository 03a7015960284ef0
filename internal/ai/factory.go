package ai

import (
	"fmt"

	"github.com/kiranshivaraju/kbforge/internal/ai/ollama"
	"github.com/kiranshivaraju/kbforge/internal/ai/openai"
	"github.com/kiranshivaraju/kbforge/internal/config"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.AIProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.InferenceTimeout), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, openai", cfg.Provider)
	}
}
