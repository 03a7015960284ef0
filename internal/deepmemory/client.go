// Package deepmemory talks to the external retrieval-tuning service that
// trains on question/chunk relevance pairs.
package deepmemory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Sentinel errors for training service failures.
var (
	ErrServiceUnreachable = errors.New("deep memory service unreachable")
	ErrServiceError       = errors.New("deep memory service error")
	ErrServiceTimeout     = errors.New("deep memory service timeout")
)

// External job states reported by Status.
const (
	StatusQueued    = "queued"
	StatusTraining  = "training"
	StatusCompleted = "completed"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusError     = "error"
)

// Relevance marks a chunk as relevant to a query with a score.
type Relevance struct {
	ChunkID string
	Score   float64
}

// MarshalJSON encodes a Relevance as the service's [chunk_id, score] tuple.
func (r Relevance) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.ChunkID, r.Score})
}

// Client is the interface for the training service.
type Client interface {
	Submit(ctx context.Context, datasetID string, queries []string, relevance [][]Relevance) (string, error)
	Status(ctx context.Context, handle string) (string, error)
	Evaluate(ctx context.Context, datasetID string, queries []string, relevance [][]Relevance, topK []int) (map[string]float64, error)
}

// HTTPClient implements Client over the service's JSON API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type trainRequest struct {
	DatasetID string        `json:"dataset_id"`
	Queries   []string      `json:"queries"`
	Relevance [][]Relevance `json:"relevance"`
}

type evaluateRequest struct {
	trainRequest
	TopK []int `json:"top_k"`
}

// Submit starts a training job and returns its handle.
func (c *HTTPClient) Submit(ctx context.Context, datasetID string, queries []string, relevance [][]Relevance) (string, error) {
	if len(queries) != len(relevance) {
		return "", fmt.Errorf("%d queries but %d relevance entries", len(queries), len(relevance))
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	req := trainRequest{DatasetID: datasetID, Queries: queries, Relevance: relevance}
	if err := c.do(ctx, http.MethodPost, "/v1/deep-memory/train", req, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("%w: empty job id", ErrServiceError)
	}
	return resp.JobID, nil
}

// Status returns the lower-cased state of a training job.
func (c *HTTPClient) Status(ctx context.Context, handle string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/deep-memory/jobs/"+url.PathEscape(handle), nil, &resp); err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(resp.Status)), nil
}

// Evaluate scores the trained model on held-out pairs. Nested metric groups
// are flattened to dotted keys, e.g. "with_model.recall@1".
func (c *HTTPClient) Evaluate(ctx context.Context, datasetID string, queries []string, relevance [][]Relevance, topK []int) (map[string]float64, error) {
	var resp map[string]any
	req := evaluateRequest{
		trainRequest: trainRequest{DatasetID: datasetID, Queries: queries, Relevance: relevance},
		TopK:         topK,
	}
	if err := c.do(ctx, http.MethodPost, "/v1/deep-memory/evaluate", req, &resp); err != nil {
		return nil, err
	}
	metrics := make(map[string]float64)
	flatten("", resp, metrics)
	return metrics, nil
}

func flatten(prefix string, in map[string]any, out map[string]float64) {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := strings.ReplaceAll(k, " ", "_")
		if prefix != "" {
			name = prefix + "." + name
		}
		switch v := in[k].(type) {
		case float64:
			out[name] = v
		case map[string]any:
			flatten(name, v, out)
		}
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%w: status %d", ErrServiceError, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrServiceTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrServiceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
}

var _ Client = (*HTTPClient)(nil)
