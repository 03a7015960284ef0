package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/internal/vectorstore"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

var (
	ErrNoChunks        = errors.New("no chunks in vector store")
	ErrRunNotGenerated = errors.New("training run must be in 'generated' status")
	ErrNotResumable    = errors.New("training run cannot be resumed")
	ErrNoCompletedRun  = errors.New("cannot enable deep memory: no completed training run exists")

	// ErrRunBlocking is returned when another run is still in flight.
	ErrRunBlocking = fmt.Errorf("%w: another training run is in progress", jobs.ErrConflict)
)

const samplePairLimit = 10

// Service starts generation and training jobs and reports on runs.
type Service struct {
	registry   *jobs.Registry
	dispatcher *jobs.Dispatcher
	runs       store.TrainingStore
	index      vectorstore.Index
	generator  *Generator
	trainer    *Trainer
}

func NewService(registry *jobs.Registry, dispatcher *jobs.Dispatcher, runs store.TrainingStore,
	index vectorstore.Index, generator *Generator, trainer *Trainer) *Service {
	return &Service{
		registry:   registry,
		dispatcher: dispatcher,
		runs:       runs,
		index:      index,
		generator:  generator,
		trainer:    trainer,
	}
}

// Started describes a dispatched deep memory job. TotalChunks is the number
// of chunks the run targets, which excludes chunks completed runs covered.
type Started struct {
	JobID         uuid.UUID `json:"job_id"`
	TrainingRunID uuid.UUID `json:"training_run_id"`
	TotalChunks   int       `json:"total_chunks"`
	Message       string    `json:"message"`
}

// Generate creates a training run and starts pair generation for it.
func (s *Service) Generate(ctx context.Context, ownerID uuid.UUID) (*Started, error) {
	if err := s.registry.Guard(jobs.TrainingKey(ownerID)); err != nil {
		return nil, err
	}
	blocking, err := s.runs.FindBlockingRun(ctx, ownerID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunBlocking, blocking.ID, blocking.Status)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	chunks, err := s.index.ListChunks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	runID := uuid.New()
	uncovered, err := s.uncoveredChunks(ctx, ownerID, runID, chunks)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &models.TrainingRun{
		ID:          runID,
		OwnerID:     ownerID,
		Status:      models.RunStatusGenerating,
		TotalChunks: uncovered,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.runs.CreateTrainingRun(ctx, run); err != nil {
		return nil, err
	}

	snap, err := s.startGeneration(ctx, run)
	if err != nil {
		markFailed(ctx, s.runs, run, models.PhaseGeneration, err.Error(), slog.Default())
		return nil, err
	}
	return &Started{
		JobID:         snap.ID,
		TrainingRunID: run.ID,
		TotalChunks:   uncovered,
		Message:       "Training data generation started",
	}, nil
}

// uncoveredChunks counts the chunks that neither run runID nor any completed
// run has pairs for.
func (s *Service) uncoveredChunks(ctx context.Context, ownerID, runID uuid.UUID, chunks []vectorstore.Chunk) (int, error) {
	covered, err := s.runs.CoveredChunkIDs(ctx, ownerID, runID)
	if err != nil {
		return 0, fmt.Errorf("loading covered chunks: %w", err)
	}
	n := 0
	for _, c := range chunks {
		if _, ok := covered[c.ID]; !ok {
			n++
		}
	}
	return n, nil
}

// Resume continues generation for a run that stopped while generating.
func (s *Service) Resume(ctx context.Context, ownerID, runID uuid.UUID) (*Started, error) {
	run, err := s.runs.GetTrainingRun(ctx, ownerID, runID)
	if err != nil {
		return nil, err
	}
	resumable := run.Status == models.RunStatusGenerating ||
		(run.Status == models.RunStatusFailed && run.FailedPhase != nil && *run.FailedPhase == models.PhaseGeneration)
	if !resumable {
		return nil, fmt.Errorf("%w: status is %s", ErrNotResumable, run.Status)
	}

	snap, err := s.startGeneration(ctx, run)
	if err != nil {
		return nil, err
	}
	return &Started{
		JobID:         snap.ID,
		TrainingRunID: run.ID,
		TotalChunks:   run.TotalChunks,
		Message:       "Training data generation resumed",
	}, nil
}

func (s *Service) startGeneration(_ context.Context, run *models.TrainingRun) (jobs.Snapshot, error) {
	snap, ok := s.registry.CreateExclusive(jobs.CreateParams{
		Kind:        jobs.KindPairGeneration,
		OwnerID:     run.OwnerID,
		ResourceKey: jobs.TrainingKey(run.OwnerID),
		Message:     "Training data generation queued",
		Extra:       jobs.GenerationProgress{Phase: PhaseGenerating, TrainingRunID: run.ID},
	})
	if !ok {
		return jobs.Snapshot{}, fmt.Errorf("%w: job %s is already running", jobs.ErrConflict, snap.ID)
	}
	s.dispatcher.Go(snap.ID, func(ctx context.Context) error {
		return s.generator.Run(ctx, snap.ID, run)
	})
	return snap, nil
}

// Train starts training a generated run.
func (s *Service) Train(ctx context.Context, ownerID, runID uuid.UUID) (*Started, error) {
	run, err := s.runs.GetTrainingRun(ctx, ownerID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusGenerated {
		return nil, fmt.Errorf("%w, currently '%s'", ErrRunNotGenerated, run.Status)
	}

	snap, ok := s.registry.CreateExclusive(jobs.CreateParams{
		Kind:        jobs.KindTraining,
		OwnerID:     ownerID,
		ResourceKey: jobs.TrainingKey(ownerID),
		Message:     "Deep memory training queued",
		Extra:       jobs.TrainingProgress{Phase: PhasePreparing, TrainingRunID: run.ID},
	})
	if !ok {
		return nil, fmt.Errorf("%w: job %s is already running", jobs.ErrConflict, snap.ID)
	}
	s.dispatcher.Go(snap.ID, func(ctx context.Context) error {
		return s.trainer.Run(ctx, snap.ID, run)
	})
	return &Started{
		JobID:         snap.ID,
		TrainingRunID: run.ID,
		TotalChunks:   run.TotalChunks,
		Message:       "Deep Memory training started",
	}, nil
}

func (s *Service) Runs(ctx context.Context, ownerID uuid.UUID) ([]*models.TrainingRun, error) {
	return s.runs.ListTrainingRuns(ctx, ownerID)
}

// RunStatistics summarizes generation coverage for a run.
type RunStatistics struct {
	AvgQuestionsPerChunk float64 `json:"avg_questions_per_chunk"`
	ChunkCoveragePct     float64 `json:"chunk_coverage_pct"`
}

// RunDetail is a run with a sample of its pairs.
type RunDetail struct {
	*models.TrainingRun
	SamplePairs []*models.TrainingPair `json:"sample_pairs"`
	Statistics  RunStatistics          `json:"statistics"`
}

func (s *Service) RunDetail(ctx context.Context, ownerID, runID uuid.UUID) (*RunDetail, error) {
	run, err := s.runs.GetTrainingRun(ctx, ownerID, runID)
	if err != nil {
		return nil, err
	}
	pairs, err := s.runs.ListRunPairs(ctx, ownerID, runID, samplePairLimit)
	if err != nil {
		return nil, err
	}
	if pairs == nil {
		pairs = []*models.TrainingPair{}
	}
	return &RunDetail{TrainingRun: run, SamplePairs: pairs, Statistics: statistics(run)}, nil
}

func statistics(run *models.TrainingRun) RunStatistics {
	var st RunStatistics
	if run.ProcessedChunks > 0 {
		st.AvgQuestionsPerChunk = round1(float64(run.PairCount) / float64(run.ProcessedChunks))
	}
	if run.TotalChunks > 0 {
		st.ChunkCoveragePct = round1(float64(run.ProcessedChunks) / float64(run.TotalChunks) * 100)
	}
	return st
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// SettingsView is the owner's deep memory state as shown to clients.
type SettingsView struct {
	Enabled           bool       `json:"enabled"`
	LastTrainedAt     *time.Time `json:"last_trained_at"`
	LastTrainingRunID *uuid.UUID `json:"last_training_run_id"`
	CanEnable         bool       `json:"can_enable"`
	TotalChunks       int        `json:"total_chunks"`
	TrainedChunkCount int        `json:"trained_chunk_count"`
	HasBlockingRun    bool       `json:"has_blocking_run"`
	BlockingRunID     *uuid.UUID `json:"blocking_run_id,omitempty"`
	BlockingRunStatus string     `json:"blocking_run_status,omitempty"`
}

func (s *Service) Settings(ctx context.Context, ownerID uuid.UUID) (*SettingsView, error) {
	st, err := s.runs.GetDeepMemorySettings(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	canEnable, err := s.runs.HasCompletedRun(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.index.ListChunks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}

	view := &SettingsView{
		Enabled:           st.Enabled,
		LastTrainedAt:     st.LastTrainedAt,
		LastTrainingRunID: st.LastTrainingRunID,
		CanEnable:         canEnable,
		TotalChunks:       len(chunks),
	}
	if st.LastTrainingRunID != nil {
		pairs, err := s.runs.ListRunPairs(ctx, ownerID, *st.LastTrainingRunID, 0)
		if err != nil {
			return nil, err
		}
		distinct := make(map[string]struct{}, len(pairs))
		for _, p := range pairs {
			distinct[p.ChunkID] = struct{}{}
		}
		view.TrainedChunkCount = len(distinct)
	}

	blocking, err := s.runs.FindBlockingRun(ctx, ownerID)
	switch {
	case err == nil:
		view.HasBlockingRun = true
		view.BlockingRunID = &blocking.ID
		view.BlockingRunStatus = blocking.Status
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	return view, nil
}

// SetEnabled toggles deep memory search. Enabling requires a completed run.
func (s *Service) SetEnabled(ctx context.Context, ownerID uuid.UUID, enabled bool) error {
	if enabled {
		ok, err := s.runs.HasCompletedRun(ctx, ownerID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoCompletedRun
		}
	}
	st, err := s.runs.GetDeepMemorySettings(ctx, ownerID)
	if err != nil {
		return err
	}
	st.Enabled = enabled
	return s.runs.UpsertDeepMemorySettings(ctx, st)
}
