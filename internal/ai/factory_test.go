package ai_test

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/kbforge/internal/ai"
	"github.com/kiranshivaraju/kbforge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.AIConfig
		want    string
		wantErr string
	}{
		{
			name: "ollama",
			cfg: config.AIConfig{
				Provider:         "ollama",
				InferenceTimeout: time.Minute,
				Ollama:           config.OllamaConfig{BaseURL: "http://localhost:11434", Model: "llama3"},
			},
			want: "ollama",
		},
		{
			name: "openai",
			cfg: config.AIConfig{
				Provider: "openai",
				OpenAI:   config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o"},
			},
			want: "openai",
		},
		{name: "unknown", cfg: config.AIConfig{Provider: "bedrock"}, wantErr: `unknown AI provider "bedrock"`},
		{name: "empty", cfg: config.AIConfig{}, wantErr: "unknown AI provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ai.NewProvider(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}
