package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source types stored on every chunk.
const (
	SourceYouTube       = "youtube"
	SourceDocumentation = "documentation"
	SourceArticle       = "article"
)

const scrollPageSize = 256

// Document is one unit of content to be chunked and indexed.
type Document struct {
	SourceID   string
	SourceType string
	Title      string
	URL        string
	Text       string
}

// Chunk is an indexed slice of a Document.
type Chunk struct {
	ID         string `json:"chunk_id"`
	SourceID   string `json:"source_id"`
	SourceType string `json:"source_type"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Index      int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// Match is a search hit.
type Match struct {
	Chunk
	Score float64 `json:"score"`
}

// Index is the owner-scoped chunk index used by the pipelines and search.
type Index interface {
	AddDocuments(ctx context.Context, ownerID uuid.UUID, docs []Document) (int, error)
	ListChunks(ctx context.Context, ownerID uuid.UUID) ([]Chunk, error)
	DeleteBySource(ctx context.Context, ownerID uuid.UUID, sourceIDs []string) error
	Search(ctx context.Context, ownerID uuid.UUID, query string, k int) ([]Match, error)
}

// ChunkID is stable for a given source and position so that chunk coverage
// survives re-indexing of unchanged content.
func ChunkID(sourceID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceID+"#"+strconv.Itoa(index))).String()
}

// QdrantIndex implements Index over Qdrant's REST API with one collection per owner.
type QdrantIndex struct {
	baseURL        string
	apiKey         string
	prefix         string
	scoreThreshold float64
	splitter       Splitter
	embedder       Embedder
	client         *http.Client

	mu      sync.Mutex
	ensured map[string]bool
}

// QdrantOptions configures a QdrantIndex.
type QdrantOptions struct {
	BaseURL          string
	APIKey           string
	CollectionPrefix string
	ScoreThreshold   float64
	Timeout          time.Duration
}

func NewQdrantIndex(opts QdrantOptions, splitter Splitter, embedder Embedder) *QdrantIndex {
	return &QdrantIndex{
		baseURL:        opts.BaseURL,
		apiKey:         opts.APIKey,
		prefix:         opts.CollectionPrefix,
		scoreThreshold: opts.ScoreThreshold,
		splitter:       splitter,
		embedder:       embedder,
		client:         &http.Client{Timeout: opts.Timeout},
		ensured:        make(map[string]bool),
	}
}

func (q *QdrantIndex) collection(ownerID uuid.UUID) string {
	return q.prefix + ownerID.String()
}

type qdrantPoint struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector,omitempty"`
	Payload Chunk     `json:"payload"`
}

// AddDocuments splits, embeds and upserts docs. It returns the number of chunks written.
func (q *QdrantIndex) AddDocuments(ctx context.Context, ownerID uuid.UUID, docs []Document) (int, error) {
	var chunks []Chunk
	for _, d := range docs {
		for i, text := range q.splitter.Split(d.Text) {
			chunks = append(chunks, Chunk{
				ID:         ChunkID(d.SourceID, i),
				SourceID:   d.SourceID,
				SourceType: d.SourceType,
				Title:      d.Title,
				URL:        d.URL,
				Index:      i,
				Text:       text,
			})
		}
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := q.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding chunks: %w", err)
	}

	name := q.collection(ownerID)
	if err := q.ensureCollection(ctx, name, len(vectors[0])); err != nil {
		return 0, err
	}

	points := make([]qdrantPoint, len(chunks))
	for i, c := range chunks {
		points[i] = qdrantPoint{ID: c.ID, Vector: vectors[i], Payload: c}
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(name))
	if _, err := q.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil); err != nil {
		return 0, fmt.Errorf("upserting points: %w", err)
	}
	return len(chunks), nil
}

// ListChunks scrolls every chunk of the owner's collection.
func (q *QdrantIndex) ListChunks(ctx context.Context, ownerID uuid.UUID) ([]Chunk, error) {
	path := fmt.Sprintf("/collections/%s/points/scroll", url.PathEscape(q.collection(ownerID)))

	var chunks []Chunk
	var offset any
	for {
		req := map[string]any{"limit": scrollPageSize, "with_payload": true, "with_vector": false}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload Chunk `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		status, err := q.do(ctx, http.MethodPost, path, req, &resp)
		if status == http.StatusNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("scrolling points: %w", err)
		}
		for _, p := range resp.Result.Points {
			chunks = append(chunks, p.Payload)
		}
		if resp.Result.NextPageOffset == nil {
			return chunks, nil
		}
		offset = resp.Result.NextPageOffset
	}
}

// DeleteBySource removes every chunk whose source_id is in sourceIDs.
func (q *QdrantIndex) DeleteBySource(ctx context.Context, ownerID uuid.UUID, sourceIDs []string) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", url.PathEscape(q.collection(ownerID)))
	filter := map[string]any{
		"filter": map[string]any{
			"must": []any{
				map[string]any{"key": "source_id", "match": map[string]any{"any": sourceIDs}},
			},
		},
	}
	status, err := q.do(ctx, http.MethodPost, path, filter, nil)
	if status == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}
	return nil
}

// Search returns up to k chunks scoring above the configured threshold.
func (q *QdrantIndex) Search(ctx context.Context, ownerID uuid.UUID, query string, k int) ([]Match, error) {
	vectors, err := q.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(q.collection(ownerID)))
	req := map[string]any{
		"vector":          vectors[0],
		"limit":           k,
		"with_payload":    true,
		"score_threshold": q.scoreThreshold,
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload Chunk   `json:"payload"`
		} `json:"result"`
	}
	status, err := q.do(ctx, http.MethodPost, path, req, &resp)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("searching points: %w", err)
	}

	matches := make([]Match, len(resp.Result))
	for i, r := range resp.Result {
		matches[i] = Match{Chunk: r.Payload, Score: r.Score}
	}
	return matches, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, name string, dim int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured[name] {
		return nil
	}

	path := "/collections/" + url.PathEscape(name)
	status, err := q.do(ctx, http.MethodGet, path, nil, nil)
	switch {
	case err == nil:
	case status == http.StatusNotFound:
		body := map[string]any{"vectors": map[string]any{"size": dim, "distance": "Cosine"}}
		if _, err := q.do(ctx, http.MethodPut, path, body, nil); err != nil {
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
		idx := map[string]any{"field_name": "source_id", "field_schema": "keyword"}
		if _, err := q.do(ctx, http.MethodPut, path+"/index?wait=true", idx, nil); err != nil {
			return fmt.Errorf("indexing source_id on %s: %w", name, err)
		}
	default:
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	q.ensured[name] = true
	return nil
}

// do sends a JSON request and decodes a 200 response into out. The HTTP
// status is returned alongside ErrRequest so callers can treat 404 specially.
func (q *QdrantIndex) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return 0, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("%w: status %d", ErrRequest, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

var _ Index = (*QdrantIndex)(nil)
