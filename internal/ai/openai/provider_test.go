package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/kbforge/internal/ai/llm"
	"github.com/kiranshivaraju/kbforge/internal/ai/openai"
	"github.com/kiranshivaraju/kbforge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateQuestions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body["model"])
		assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"questions\":[\"What is X?\",\"Why X?\"]}"}}]}`))
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o"}, 5*time.Second)
	qs, err := p.GenerateQuestions(context.Background(), "X is a thing.", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"What is X?", "Why X?"}, qs)
}

func TestGenerateQuestions_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{BaseURL: srv.URL, Model: "gpt-4o"}, 5*time.Second)
	_, err := p.GenerateQuestions(context.Background(), "chunk", 4)
	assert.ErrorIs(t, err, llm.ErrProviderUnavailable)
}

func TestGenerateQuestions_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{BaseURL: srv.URL, Model: "gpt-4o"}, 5*time.Second)
	_, err := p.GenerateQuestions(context.Background(), "chunk", 4)
	assert.ErrorIs(t, err, llm.ErrInvalidResponse)
}
