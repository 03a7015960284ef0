// Package llm holds what every provider shares: sentinel errors, the question
// generation prompt and response parsing.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
)

// MaxChunkChars bounds the chunk text sent in a prompt.
const MaxChunkChars = 2000

const SystemPrompt = "You generate training data for a knowledge base search system. " +
	"Write diverse search questions a user might ask when looking for the information in the given text chunk."

const userPromptTemplate = `Given this text chunk from a knowledge base, generate %d diverse questions that a user might search for to find this information.

Requirements:
- Include factual questions (e.g. "What is...?", "How does...work?")
- Include conceptual questions (e.g. "Why would...?", "When should...?")
- Include terminology-based questions using specific terms from the chunk
- Questions should be natural search queries, not overly formal

Text chunk:
---
%s
---

Return a JSON object with a single key "questions" containing an array of question strings.`

// UserPrompt builds the request for n questions about chunk.
func UserPrompt(chunk string, n int) string {
	return fmt.Sprintf(userPromptTemplate, n, TruncateChars(chunk, MaxChunkChars))
}

// TruncateChars cuts s to at most n characters.
func TruncateChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ParseQuestions decodes a {"questions": [...]} completion, dropping blank
// and non-string entries.
func ParseQuestions(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var parsed struct {
		Questions []any `json:"questions"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	var out []string
	for _, q := range parsed.Questions {
		s, ok := q.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// ClassifyError maps transport failures onto the provider sentinels.
func ClassifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
