// Package models contains shared data models used across the kbforge codebase.
package models

import "context"

// AIProvider is the interface every LLM integration implements.
// Never call specific providers directly; inject this interface.
type AIProvider interface {
	// GenerateQuestions returns up to n questions answerable from chunk.
	GenerateQuestions(ctx context.Context, chunk string, n int) ([]string, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}
