package training_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/ai/mock"
	"github.com/kiranshivaraju/kbforge/internal/clock"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/training"
	"github.com/kiranshivaraju/kbforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type genHarness struct {
	reg      *jobs.Registry
	runs     *memRuns
	index    *chunkIndex
	provider *mock.MockProvider
	clk      *clock.Fake
	cfg      training.GeneratorConfig
}

func newGenHarness(chunks int) *genHarness {
	return &genHarness{
		reg:      jobs.NewRegistry(jobs.NewBroker()),
		runs:     newMemRuns(),
		index:    newChunkIndex(chunks),
		provider: mock.NewMockProvider(),
		clk:      clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		cfg:      training.GeneratorConfig{QuestionsPerChunk: 4, MaxPairs: 5000, Delay: time.Second},
	}
}

func (h *genHarness) generator() *training.Generator {
	return training.NewGenerator(h.reg, h.runs, h.index, h.provider, h.clk, h.cfg)
}

func (h *genHarness) newRun(owner uuid.UUID) *models.TrainingRun {
	run := &models.TrainingRun{ID: uuid.New(), OwnerID: owner, Status: models.RunStatusGenerating}
	_ = h.runs.CreateTrainingRun(context.Background(), run)
	return run
}

func (h *genHarness) run(t *testing.T, run *models.TrainingRun) (jobs.Snapshot, error) {
	t.Helper()
	snap := h.reg.Create(jobs.CreateParams{Kind: jobs.KindPairGeneration, OwnerID: run.OwnerID})
	err := h.generator().Run(context.Background(), snap.ID, run)
	final, ok := h.reg.Get(snap.ID)
	require.True(t, ok)
	return final, err
}

func TestGenerator_GeneratesPairsForEveryChunk(t *testing.T) {
	h := newGenHarness(3)
	run := h.newRun(uuid.New())

	final, err := h.run(t, run)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, final.Status)
	p := final.Extra.(jobs.GenerationProgress)
	assert.Equal(t, training.PhaseGenerated, p.Phase)
	assert.Equal(t, 12, p.PairsGenerated)
	assert.Equal(t, 100.0, final.Progress())

	stored := h.runs.run(run.ID)
	assert.Equal(t, models.RunStatusGenerated, stored.Status)
	assert.Equal(t, 3, stored.TotalChunks)
	assert.Equal(t, 3, stored.ProcessedChunks)
	assert.Equal(t, 12, stored.PairCount)
	assert.Len(t, h.runs.pairs, 12)
	assert.Equal(t, 1.0, h.runs.pairs[0].RelevanceScore)

	// delay between chunks, none after the last
	assert.Equal(t, []time.Duration{time.Second, time.Second}, h.clk.Sleeps())
}

func TestGenerator_SkipsFailingChunks(t *testing.T) {
	h := newGenHarness(3)
	h.provider.GenerateQuestionsFunc = func(_ context.Context, chunk string, n int) ([]string, error) {
		if strings.Contains(chunk, "number 1 ") {
			return nil, errors.New("model overloaded")
		}
		return []string{"q1", "q2", "q3", "q4"}[:n], nil
	}
	run := h.newRun(uuid.New())

	final, err := h.run(t, run)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, final.Status)

	stored := h.runs.run(run.ID)
	assert.Equal(t, 3, stored.ProcessedChunks)
	assert.Equal(t, 8, stored.PairCount)
}

func TestGenerator_StopsAtMaxPairs(t *testing.T) {
	h := newGenHarness(5)
	h.cfg.MaxPairs = 5
	run := h.newRun(uuid.New())

	_, err := h.run(t, run)
	require.NoError(t, err)

	stored := h.runs.run(run.ID)
	assert.Equal(t, models.RunStatusGenerated, stored.Status)
	assert.Equal(t, 8, stored.PairCount)
	assert.Equal(t, 2, stored.ProcessedChunks)
	assert.Len(t, h.provider.Chunks(), 2)
}

func TestGenerator_ResumesWithinRun(t *testing.T) {
	h := newGenHarness(3)
	owner := uuid.New()
	run := h.newRun(owner)
	require.NoError(t, h.runs.InsertTrainingPairs(context.Background(), []*models.TrainingPair{
		{ID: uuid.New(), RunID: run.ID, OwnerID: owner, Question: "earlier", ChunkID: h.index.chunks[0].ID, RelevanceScore: 1},
	}))

	_, err := h.run(t, run)
	require.NoError(t, err)

	assert.Len(t, h.provider.Chunks(), 2, "the chunk covered earlier in this run is skipped")
	stored := h.runs.run(run.ID)
	assert.Equal(t, 3, stored.TotalChunks)
	assert.Equal(t, 3, stored.ProcessedChunks)
	assert.Equal(t, 9, stored.PairCount)
}

func TestGenerator_SkipsChunksFromCompletedRuns(t *testing.T) {
	h := newGenHarness(3)
	owner := uuid.New()

	first := h.newRun(owner)
	_, err := h.run(t, first)
	require.NoError(t, err)
	h.runs.setStatus(first.ID, models.RunStatusCompleted)

	second := h.newRun(owner)
	final, err := h.run(t, second)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, final.Status)
	stored := h.runs.run(second.ID)
	assert.Equal(t, 0, stored.TotalChunks)
	assert.Equal(t, 0, stored.PairCount)
	assert.Len(t, h.provider.Chunks(), 3, "only the first run asked for questions")
}

func TestGenerator_FailureMarksRunFailed(t *testing.T) {
	h := newGenHarness(3)
	h.index.err = errors.New(strings.Repeat("x", 800))
	run := h.newRun(uuid.New())

	final, err := h.run(t, run)
	require.Error(t, err)

	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.True(t, strings.HasPrefix(final.Message, "Generation failed: "))
	assert.LessOrEqual(t, len(final.Message), jobs.MaxMessageBytes)

	stored := h.runs.run(run.ID)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	require.NotNil(t, stored.FailedPhase)
	assert.Equal(t, models.PhaseGeneration, *stored.FailedPhase)
	require.NotNil(t, stored.ErrorMessage)
	assert.LessOrEqual(t, len(*stored.ErrorMessage), jobs.MaxMessageBytes)
}
