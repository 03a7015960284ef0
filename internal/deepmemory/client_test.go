package deepmemory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", "tok", 5*time.Second)
}

func TestSubmit_SendsPairsAsTuples(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/deep-memory/train", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "kb_owner", body["dataset_id"])
		assert.Equal(t, []any{"q1"}, body["queries"])
		assert.Equal(t, []any{[]any{[]any{"chunk-1", 1.0}}}, body["relevance"])

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"ext-42"}`))
	})

	handle, err := c.Submit(context.Background(), "kb_owner", []string{"q1"}, [][]Relevance{{{ChunkID: "chunk-1", Score: 1}}})
	require.NoError(t, err)
	assert.Equal(t, "ext-42", handle)
}

func TestSubmit_MismatchedLengths(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "", time.Second)
	_, err := c.Submit(context.Background(), "d", []string{"a", "b"}, [][]Relevance{{}})
	assert.Error(t, err)
}

func TestSubmit_EmptyHandle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := c.Submit(context.Background(), "d", nil, nil)
	assert.ErrorIs(t, err, ErrServiceError)
}

func TestStatus_Normalizes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/deep-memory/jobs/ext-42", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":" Completed "}`))
	})

	status, err := c.Status(context.Background(), "ext-42")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
}

func TestStatus_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Status(context.Background(), "x")
	assert.ErrorIs(t, err, ErrServiceError)
}

func TestStatus_Unreachable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "", time.Second)
	_, err := c.Status(context.Background(), "x")
	assert.ErrorIs(t, err, ErrServiceUnreachable)
}

func TestStatus_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"training"}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Status(ctx, "x")
	assert.ErrorIs(t, err, ErrServiceTimeout)
}

func TestEvaluate_FlattensNestedMetrics(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{1.0, 3.0, 5.0, 10.0}, body["top_k"])
		_, _ = w.Write([]byte(`{"with model":{"recall@1":0.5,"recall@3":0.75},"without model":{"recall@1":0.25},"note":"ignored"}`))
	})

	metrics, err := c.Evaluate(context.Background(), "d", []string{"q"}, [][]Relevance{{{ChunkID: "c", Score: 1}}}, []int{1, 3, 5, 10})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		"with_model.recall@1":    0.5,
		"with_model.recall@3":    0.75,
		"without_model.recall@1": 0.25,
	}, metrics)
}
