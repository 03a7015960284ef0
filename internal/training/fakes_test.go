package training_test

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/deepmemory"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/internal/vectorstore"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

var allowed = map[string][]string{
	models.RunStatusGenerating: {models.RunStatusGenerating, models.RunStatusGenerated, models.RunStatusFailed},
	models.RunStatusGenerated:  {models.RunStatusGenerated, models.RunStatusTraining, models.RunStatusFailed},
	models.RunStatusTraining:   {models.RunStatusTraining, models.RunStatusCompleted, models.RunStatusFailed},
	models.RunStatusFailed:     {models.RunStatusFailed, models.RunStatusGenerating, models.RunStatusTraining},
}

// memRuns is an in-memory store.TrainingStore that enforces run status
// transitions like the Postgres store does.
type memRuns struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]*models.TrainingRun
	order    []uuid.UUID
	pairs    []*models.TrainingPair
	settings map[uuid.UUID]*models.DeepMemorySettings
	updates  int
}

func newMemRuns() *memRuns {
	return &memRuns{runs: map[uuid.UUID]*models.TrainingRun{}, settings: map[uuid.UUID]*models.DeepMemorySettings{}}
}

func (m *memRuns) CreateTrainingRun(_ context.Context, run *models.TrainingRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := *run
	m.runs[run.ID] = &r
	m.order = append(m.order, run.ID)
	return nil
}

func (m *memRuns) GetTrainingRun(_ context.Context, _ uuid.UUID, id uuid.UUID) (*models.TrainingRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRuns) ListTrainingRuns(_ context.Context, ownerID uuid.UUID) ([]*models.TrainingRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TrainingRun
	for i := len(m.order) - 1; i >= 0; i-- {
		r := m.runs[m.order[i]]
		if r.OwnerID == ownerID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRuns) UpdateTrainingRun(_ context.Context, run *models.TrainingRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.runs[run.ID]
	if !ok {
		return store.ErrNotFound
	}
	if !slices.Contains(allowed[cur.Status], run.Status) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, cur.Status, run.Status)
	}
	r := *run
	m.runs[run.ID] = &r
	m.updates++
	return nil
}

func (m *memRuns) FindBlockingRun(_ context.Context, ownerID uuid.UUID) (*models.TrainingRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		r := m.runs[m.order[i]]
		if r.OwnerID == ownerID && r.Blocking() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memRuns) HasCompletedRun(_ context.Context, ownerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.OwnerID == ownerID && r.Status == models.RunStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRuns) InsertTrainingPairs(_ context.Context, pairs []*models.TrainingPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs = append(m.pairs, pairs...)
	return nil
}

func (m *memRuns) ListRunPairs(_ context.Context, _ uuid.UUID, runID uuid.UUID, limit int) ([]*models.TrainingPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TrainingPair
	for _, p := range m.pairs {
		if p.RunID == runID {
			out = append(out, p)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memRuns) ListCompletedRunPairs(_ context.Context, ownerID, excludeRunID uuid.UUID) ([]*models.TrainingPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TrainingPair
	for _, p := range m.pairs {
		r := m.runs[p.RunID]
		if p.OwnerID == ownerID && p.RunID != excludeRunID && r != nil && r.Status == models.RunStatusCompleted {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memRuns) CoveredChunkIDs(_ context.Context, ownerID, runID uuid.UUID) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]struct{}{}
	for _, p := range m.pairs {
		r := m.runs[p.RunID]
		if p.OwnerID == ownerID && (p.RunID == runID || (r != nil && r.Status == models.RunStatusCompleted)) {
			out[p.ChunkID] = struct{}{}
		}
	}
	return out, nil
}

func (m *memRuns) GetDeepMemorySettings(_ context.Context, ownerID uuid.UUID) (*models.DeepMemorySettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.settings[ownerID]; ok {
		cp := *s
		return &cp, nil
	}
	return &models.DeepMemorySettings{OwnerID: ownerID}, nil
}

func (m *memRuns) UpsertDeepMemorySettings(_ context.Context, s *models.DeepMemorySettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.settings[s.OwnerID] = &cp
	return nil
}

func (m *memRuns) run(id uuid.UUID) *models.TrainingRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.runs[id]
	return &cp
}

func (m *memRuns) setStatus(id uuid.UUID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id].Status = status
}

var _ store.TrainingStore = (*memRuns)(nil)

type chunkIndex struct {
	chunks []vectorstore.Chunk
	err    error
}

func newChunkIndex(n int) *chunkIndex {
	idx := &chunkIndex{}
	for i := 0; i < n; i++ {
		idx.chunks = append(idx.chunks, vectorstore.Chunk{
			ID:       vectorstore.ChunkID("src", i),
			SourceID: "src",
			Index:    i,
			Text:     fmt.Sprintf("chunk number %d talks about iron condors", i),
		})
	}
	return idx
}

func (c *chunkIndex) AddDocuments(context.Context, uuid.UUID, []vectorstore.Document) (int, error) {
	return 0, nil
}

func (c *chunkIndex) ListChunks(context.Context, uuid.UUID) ([]vectorstore.Chunk, error) {
	return c.chunks, c.err
}

func (c *chunkIndex) DeleteBySource(context.Context, uuid.UUID, []string) error { return nil }

func (c *chunkIndex) Search(context.Context, uuid.UUID, string, int) ([]vectorstore.Match, error) {
	return nil, nil
}

// scriptedClient replays a fixed sequence of status replies.
type scriptedClient struct {
	mu        sync.Mutex
	statuses  []string
	statusErr []error
	polls     int
	submitted []string
	evaluated []string
	topK      []int
	submitErr error
	metrics   map[string]float64
}

func (c *scriptedClient) Submit(_ context.Context, _ string, queries []string, _ [][]deepmemory.Relevance) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return "", c.submitErr
	}
	c.submitted = queries
	return "ext-job-1", nil
}

func (c *scriptedClient) Status(context.Context, string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.polls
	c.polls++
	if i < len(c.statusErr) && c.statusErr[i] != nil {
		return "", c.statusErr[i]
	}
	if i >= len(c.statuses) {
		return c.statuses[len(c.statuses)-1], nil
	}
	return c.statuses[i], nil
}

func (c *scriptedClient) Evaluate(_ context.Context, _ string, queries []string, _ [][]deepmemory.Relevance, topK []int) (map[string]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluated = queries
	c.topK = topK
	return c.metrics, nil
}
