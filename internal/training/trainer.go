package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/clock"
	"github.com/kiranshivaraju/kbforge/internal/deepmemory"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

const (
	PhasePreparing  = "preparing"
	PhaseSubmitting = "submitting"
	PhaseTraining   = "training"
	PhaseEvaluating = "evaluating"
	PhaseCompleted  = "completed"

	// minSplitPairs is the smallest corpus that gets a held-out split.
	minSplitPairs = 20
)

// EvalTopK are the cutoff ranks reported by evaluation.
var EvalTopK = []int{1, 3, 5, 10}

var ErrNoPairs = errors.New("no training pairs found for this run")

// Split holds the training and held-out portions of a pair corpus.
type Split struct {
	Train []*models.TrainingPair
	Test  []*models.TrainingPair
}

// SplitPairs holds out a tenth of pairs, at least one, from the front of the
// corpus. Corpora smaller than the minimum are trained on in full.
func SplitPairs(pairs []*models.TrainingPair) Split {
	if len(pairs) < minSplitPairs {
		return Split{Train: pairs}
	}
	n := max(1, len(pairs)/10)
	return Split{Train: pairs[n:], Test: pairs[:n]}
}

// Trainer submits a run's merged pairs to the training service and follows
// the external job to completion.
type Trainer struct {
	registry *jobs.Registry
	runs     store.TrainingStore
	client   deepmemory.Client
	clock    clock.Clock
	poll     PollConfig
}

func NewTrainer(registry *jobs.Registry, runs store.TrainingStore, client deepmemory.Client, clk clock.Clock, poll PollConfig) *Trainer {
	return &Trainer{registry: registry, runs: runs, client: client, clock: clk, poll: poll}
}

// DatasetID names the owner's dataset at the training service.
func DatasetID(ownerID uuid.UUID) string { return "kb-" + ownerID.String() }

// Run trains on run under jobID. On failure the run is marked failed in the
// training phase and the error is returned.
func (t *Trainer) Run(ctx context.Context, jobID uuid.UUID, run *models.TrainingRun) error {
	logger := slog.With("job_id", jobID, "owner_id", run.OwnerID, "run_id", run.ID)

	if err := t.train(ctx, jobID, run, logger); err != nil {
		msg := jobs.Truncate(err.Error(), jobs.MaxMessageBytes)
		markFailed(ctx, t.runs, run, models.PhaseTraining, msg, logger)
		t.registry.Update(jobID, func(j *jobs.Job) {
			j.Status = jobs.StatusFailed
			j.Message = jobs.Truncate("Training failed: "+err.Error(), jobs.MaxMessageBytes)
		})
		return fmt.Errorf("training run: %w", err)
	}
	return nil
}

func (t *Trainer) train(ctx context.Context, jobID uuid.UUID, run *models.TrainingRun, logger *slog.Logger) error {
	progress := jobs.TrainingProgress{Phase: PhasePreparing, TrainingRunID: run.ID}
	t.setProgress(jobID, progress, "Loading training pairs...", jobs.StatusInProgress)

	run.Status = models.RunStatusTraining
	run.FailedPhase = nil
	run.ErrorMessage = nil
	if err := t.runs.UpdateTrainingRun(ctx, run); err != nil {
		return err
	}

	current, err := t.runs.ListRunPairs(ctx, run.OwnerID, run.ID, 0)
	if err != nil {
		return err
	}
	if len(current) == 0 {
		return ErrNoPairs
	}
	historical, err := t.runs.ListCompletedRunPairs(ctx, run.OwnerID, run.ID)
	if err != nil {
		return err
	}
	merged := append(append([]*models.TrainingPair(nil), current...), historical...)
	split := SplitPairs(merged)

	run.PairCount = len(merged)
	run.TrainPairs = len(split.Train)
	run.TestPairs = len(split.Test)
	if err := t.runs.UpdateTrainingRun(ctx, run); err != nil {
		return err
	}

	progress.Phase = PhaseSubmitting
	progress.TrainPairs = run.TrainPairs
	progress.TestPairs = run.TestPairs
	t.setProgress(jobID, progress, fmt.Sprintf(
		"Starting training with %d pairs (%d new + %d historical, %d held out for evaluation)...",
		len(split.Train), len(current), len(historical), len(split.Test)), "")

	queries, relevance := toRequest(split.Train)
	handle, err := t.client.Submit(ctx, DatasetID(run.OwnerID), queries, relevance)
	if err != nil {
		return fmt.Errorf("submitting training job: %w", err)
	}
	run.ExternalJobID = &handle
	if err := t.runs.UpdateTrainingRun(ctx, run); err != nil {
		return err
	}
	logger.Info("training job submitted", "external_job_id", handle, "train_pairs", run.TrainPairs, "test_pairs", run.TestPairs)

	progress.Phase = PhaseTraining
	progress.ExternalJobID = handle
	t.setProgress(jobID, progress, "Training submitted", "")

	p := &poller{client: t.client, clock: t.clock, cfg: t.poll, onStatus: func(polls int, status string) {
		progress.Polls = polls
		progress.ExternalStatus = status
		t.setProgress(jobID, progress, fmt.Sprintf("Training in progress (%s)", status), "")
	}}
	if _, err := p.wait(ctx, handle); err != nil {
		return err
	}

	metrics := map[string]float64{}
	if len(split.Test) > 0 {
		progress.Phase = PhaseEvaluating
		t.setProgress(jobID, progress, fmt.Sprintf("Evaluating on %d held-out pairs...", len(split.Test)), "")

		q, rel := toRequest(split.Test)
		metrics, err = t.client.Evaluate(ctx, DatasetID(run.OwnerID), q, rel, EvalTopK)
		if err != nil {
			return fmt.Errorf("evaluating trained model: %w", err)
		}
	} else {
		logger.Info("skipping evaluation, corpus too small for a held-out split", "pairs", len(merged))
	}

	now := t.clock.Now().UTC()
	run.Status = models.RunStatusCompleted
	run.Metrics = metrics
	run.CompletedAt = &now
	if err := t.runs.UpdateTrainingRun(ctx, run); err != nil {
		return err
	}

	settings, err := t.runs.GetDeepMemorySettings(ctx, run.OwnerID)
	if err != nil {
		return err
	}
	runID := run.ID
	settings.LastTrainedAt = &now
	settings.LastTrainingRunID = &runID
	if err := t.runs.UpsertDeepMemorySettings(ctx, settings); err != nil {
		return err
	}

	progress.Phase = PhaseCompleted
	progress.Metrics = metrics
	t.setProgress(jobID, progress, "Training completed", jobs.StatusCompleted)
	logger.Info("training finished", "metrics", metrics)
	return nil
}

func (t *Trainer) setProgress(jobID uuid.UUID, p jobs.TrainingProgress, msg string, status jobs.Status) {
	t.registry.Update(jobID, func(j *jobs.Job) {
		if status != "" {
			j.Status = status
		}
		j.Message = msg
		j.Extra = p
	})
}

func toRequest(pairs []*models.TrainingPair) ([]string, [][]deepmemory.Relevance) {
	queries := make([]string, len(pairs))
	relevance := make([][]deepmemory.Relevance, len(pairs))
	for i, p := range pairs {
		queries[i] = p.Question
		relevance[i] = []deepmemory.Relevance{{ChunkID: p.ChunkID, Score: p.RelevanceScore}}
	}
	return queries, relevance
}
