package training_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/clock"
	"github.com/kiranshivaraju/kbforge/internal/deepmemory"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/training"
	"github.com/kiranshivaraju/kbforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultPoll = training.PollConfig{Base: 5 * time.Second, Max: 60 * time.Second, Deadline: 2 * time.Hour}

type trainHarness struct {
	reg    *jobs.Registry
	runs   *memRuns
	client *scriptedClient
	clk    *clock.Fake
}

func newTrainHarness(statuses ...string) *trainHarness {
	return &trainHarness{
		reg:    jobs.NewRegistry(jobs.NewBroker()),
		runs:   newMemRuns(),
		client: &scriptedClient{statuses: statuses, metrics: map[string]float64{"with_model.recall@1": 0.8}},
		clk:    clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
}

// generatedRun stores a run awaiting training with n pairs.
func (h *trainHarness) generatedRun(owner uuid.UUID, n int) *models.TrainingRun {
	run := &models.TrainingRun{ID: uuid.New(), OwnerID: owner, Status: models.RunStatusGenerated, PairCount: n}
	_ = h.runs.CreateTrainingRun(context.Background(), run)
	h.addPairs(run, n)
	return run
}

func (h *trainHarness) addPairs(run *models.TrainingRun, n int) {
	pairs := make([]*models.TrainingPair, n)
	for i := range pairs {
		pairs[i] = &models.TrainingPair{
			ID:             uuid.New(),
			RunID:          run.ID,
			OwnerID:        run.OwnerID,
			Question:       fmt.Sprintf("%s question %d", run.ID, i),
			ChunkID:        fmt.Sprintf("chunk-%d", i),
			RelevanceScore: 1,
		}
	}
	_ = h.runs.InsertTrainingPairs(context.Background(), pairs)
}

func (h *trainHarness) train(t *testing.T, run *models.TrainingRun, poll training.PollConfig) (jobs.Snapshot, error) {
	t.Helper()
	snap := h.reg.Create(jobs.CreateParams{Kind: jobs.KindTraining, OwnerID: run.OwnerID})
	tr := training.NewTrainer(h.reg, h.runs, h.client, h.clk, poll)
	err := tr.Run(context.Background(), snap.ID, run)
	final, ok := h.reg.Get(snap.ID)
	require.True(t, ok)
	return final, err
}

func TestSplitPairs(t *testing.T) {
	mk := func(n int) []*models.TrainingPair {
		out := make([]*models.TrainingPair, n)
		for i := range out {
			out[i] = &models.TrainingPair{Question: fmt.Sprint(i)}
		}
		return out
	}

	small := training.SplitPairs(mk(19))
	assert.Len(t, small.Train, 19)
	assert.Empty(t, small.Test)

	s := training.SplitPairs(mk(20))
	assert.Len(t, s.Test, 2)
	assert.Len(t, s.Train, 18)
	assert.Equal(t, "0", s.Test[0].Question, "held-out pairs come from the front")

	s = training.SplitPairs(mk(105))
	assert.Len(t, s.Test, 10)
	assert.Len(t, s.Train, 95)
}

func TestTrainer_PollsWithCappedBackoff(t *testing.T) {
	h := newTrainHarness("training", "training", "training", "completed")
	run := h.generatedRun(uuid.New(), 30)

	final, err := h.train(t, run, defaultPoll)
	require.NoError(t, err)

	assert.Equal(t, 4, h.client.polls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, h.clk.Sleeps())
	assert.Equal(t, jobs.StatusCompleted, final.Status)

	p := final.Extra.(jobs.TrainingProgress)
	assert.Equal(t, training.PhaseCompleted, p.Phase)
	assert.Equal(t, "ext-job-1", p.ExternalJobID)
	assert.Equal(t, 4, p.Polls)
}

func TestTrainer_BackoffIsCapped(t *testing.T) {
	statuses := make([]string, 8)
	for i := range statuses {
		statuses[i] = "training"
	}
	statuses[7] = "success"
	h := newTrainHarness(statuses...)
	run := h.generatedRun(uuid.New(), 5)

	_, err := h.train(t, run, defaultPoll)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second,
		60 * time.Second, 60 * time.Second, 60 * time.Second,
	}, h.clk.Sleeps())
}

func TestTrainer_EvaluatesHeldOutSplitAndRecordsRun(t *testing.T) {
	h := newTrainHarness("completed")
	owner := uuid.New()

	earlier := &models.TrainingRun{ID: uuid.New(), OwnerID: owner, Status: models.RunStatusCompleted}
	require.NoError(t, h.runs.CreateTrainingRun(context.Background(), earlier))
	h.addPairs(earlier, 10)
	run := h.generatedRun(owner, 20)

	_, err := h.train(t, run, defaultPoll)
	require.NoError(t, err)

	assert.Len(t, h.client.submitted, 27)
	assert.Len(t, h.client.evaluated, 3)
	assert.Equal(t, training.EvalTopK, h.client.topK)

	stored := h.runs.run(run.ID)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Equal(t, 30, stored.PairCount)
	assert.Equal(t, 27, stored.TrainPairs)
	assert.Equal(t, 3, stored.TestPairs)
	assert.Equal(t, 0.8, stored.Metrics["with_model.recall@1"])
	require.NotNil(t, stored.ExternalJobID)
	assert.Equal(t, "ext-job-1", *stored.ExternalJobID)
	require.NotNil(t, stored.CompletedAt)

	settings, _ := h.runs.GetDeepMemorySettings(context.Background(), owner)
	require.NotNil(t, settings.LastTrainingRunID)
	assert.Equal(t, run.ID, *settings.LastTrainingRunID)
	assert.NotNil(t, settings.LastTrainedAt)
}

func TestTrainer_SkipsEvaluationForSmallCorpus(t *testing.T) {
	h := newTrainHarness("completed")
	run := h.generatedRun(uuid.New(), 8)

	_, err := h.train(t, run, defaultPoll)
	require.NoError(t, err)

	assert.Len(t, h.client.submitted, 8)
	assert.Nil(t, h.client.evaluated)
	assert.Empty(t, h.runs.run(run.ID).Metrics)
}

func TestTrainer_ServiceReportsFailure(t *testing.T) {
	h := newTrainHarness("training", "failed")
	run := h.generatedRun(uuid.New(), 5)

	final, err := h.train(t, run, defaultPoll)
	require.ErrorIs(t, err, training.ErrTrainingFailed)

	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.Contains(t, final.Message, "Training failed")
	stored := h.runs.run(run.ID)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	require.NotNil(t, stored.FailedPhase)
	assert.Equal(t, models.PhaseTraining, *stored.FailedPhase)
}

func TestTrainer_DeadlineForcesTimeout(t *testing.T) {
	h := newTrainHarness("training")
	run := h.generatedRun(uuid.New(), 5)

	final, err := h.train(t, run, training.PollConfig{Base: 5 * time.Second, Max: 60 * time.Second, Deadline: 5 * time.Minute})
	require.ErrorIs(t, err, training.ErrTrainingTimeout)

	assert.Equal(t, jobs.StatusFailed, final.Status)
	var slept time.Duration
	for _, d := range h.clk.Sleeps() {
		slept += d
	}
	assert.LessOrEqual(t, slept, 5*time.Minute)
	stored := h.runs.run(run.ID)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "timed out")
}

func TestTrainer_UnreachableStatusIsRetried(t *testing.T) {
	h := newTrainHarness("", "completed")
	h.client.statusErr = []error{deepmemory.ErrServiceUnreachable}
	run := h.generatedRun(uuid.New(), 5)

	final, err := h.train(t, run, defaultPoll)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, final.Status)
	assert.Equal(t, 2, h.client.polls)
}

func TestTrainer_NoPairs(t *testing.T) {
	h := newTrainHarness("completed")
	run := h.generatedRun(uuid.New(), 0)

	_, err := h.train(t, run, defaultPoll)
	assert.ErrorIs(t, err, training.ErrNoPairs)
	assert.Equal(t, 0, h.client.polls)
}

func TestTrainer_SubmitErrorIsFatal(t *testing.T) {
	h := newTrainHarness("completed")
	h.client.submitErr = deepmemory.ErrServiceError
	run := h.generatedRun(uuid.New(), 5)

	final, err := h.train(t, run, defaultPoll)
	assert.ErrorIs(t, err, deepmemory.ErrServiceError)
	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.Equal(t, 0, h.client.polls)
}
