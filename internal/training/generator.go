// Package training generates question/chunk relevance pairs from an owner's
// corpus and trains the external retrieval model on them.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/clock"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/internal/vectorstore"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

const (
	PhaseGenerating = "generating"
	PhaseGenerated  = "generated"
	PhaseFailed     = "failed"

	previewChars = 200
)

// GeneratorConfig bounds pair generation.
type GeneratorConfig struct {
	QuestionsPerChunk int
	MaxPairs          int
	Delay             time.Duration
}

// Generator produces training pairs for the chunks not yet covered by the
// run itself or by any completed run of the owner.
type Generator struct {
	registry  *jobs.Registry
	runs      store.TrainingStore
	index     vectorstore.Index
	questions models.AIProvider
	clock     clock.Clock
	cfg       GeneratorConfig
}

func NewGenerator(registry *jobs.Registry, runs store.TrainingStore, index vectorstore.Index,
	questions models.AIProvider, clk clock.Clock, cfg GeneratorConfig) *Generator {
	return &Generator{registry: registry, runs: runs, index: index, questions: questions, clock: clk, cfg: cfg}
}

// Run generates pairs for run under jobID. On failure the run is marked
// failed in the generation phase and the error is returned.
func (g *Generator) Run(ctx context.Context, jobID uuid.UUID, run *models.TrainingRun) error {
	logger := slog.With("job_id", jobID, "owner_id", run.OwnerID, "run_id", run.ID)

	if err := g.generate(ctx, jobID, run, logger); err != nil {
		msg := jobs.Truncate(err.Error(), jobs.MaxMessageBytes)
		markFailed(ctx, g.runs, run, models.PhaseGeneration, msg, logger)
		g.registry.Update(jobID, func(j *jobs.Job) {
			j.Status = jobs.StatusFailed
			j.Message = jobs.Truncate("Generation failed: "+err.Error(), jobs.MaxMessageBytes)
			if p, ok := j.Extra.(jobs.GenerationProgress); ok {
				p.Phase = PhaseFailed
				j.Extra = p
			}
		})
		return fmt.Errorf("generating pairs: %w", err)
	}
	return nil
}

func (g *Generator) generate(ctx context.Context, jobID uuid.UUID, run *models.TrainingRun, logger *slog.Logger) error {
	progress := jobs.GenerationProgress{Phase: PhaseGenerating, TrainingRunID: run.ID, MaxPairs: g.cfg.MaxPairs}
	g.registry.Update(jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusInProgress
		j.Message = "Loading corpus chunks..."
		j.Extra = progress
	})

	chunks, err := g.index.ListChunks(ctx, run.OwnerID)
	if err != nil {
		return fmt.Errorf("listing chunks: %w", err)
	}
	covered, err := g.runs.CoveredChunkIDs(ctx, run.OwnerID, run.ID)
	if err != nil {
		return err
	}
	own, err := g.runs.ListRunPairs(ctx, run.OwnerID, run.ID, 0)
	if err != nil {
		return err
	}
	ownChunks := make(map[string]struct{}, len(own))
	for _, p := range own {
		ownChunks[p.ChunkID] = struct{}{}
	}

	var pending []vectorstore.Chunk
	for _, c := range chunks {
		if _, ok := covered[c.ID]; !ok {
			pending = append(pending, c)
		}
	}

	run.Status = models.RunStatusGenerating
	run.TotalChunks = len(ownChunks) + len(pending)
	run.ProcessedChunks = len(ownChunks)
	run.PairCount = len(own)
	run.FailedPhase = nil
	run.ErrorMessage = nil
	if err := g.runs.UpdateTrainingRun(ctx, run); err != nil {
		return err
	}

	progress.TotalChunks = run.TotalChunks
	progress.ProcessedChunks = run.ProcessedChunks
	progress.PairsGenerated = run.PairCount
	g.registry.Update(jobID, func(j *jobs.Job) {
		j.Message = fmt.Sprintf("Generating questions for %d chunks...", len(pending))
		j.Extra = progress
	})
	logger.Info("pair generation started", "pending_chunks", len(pending), "already_covered", len(covered))

	for i, chunk := range pending {
		if run.PairCount >= g.cfg.MaxPairs {
			logger.Info("pair cap reached, stopping generation", "max_pairs", g.cfg.MaxPairs)
			break
		}

		n, err := g.generateForChunk(ctx, run, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("question generation failed, skipping chunk", "chunk_id", chunk.ID, "error", err)
		}
		run.PairCount += n
		run.ProcessedChunks++
		if err := g.runs.UpdateTrainingRun(ctx, run); err != nil {
			return err
		}

		progress.ProcessedChunks = run.ProcessedChunks
		progress.PairsGenerated = run.PairCount
		g.registry.Update(jobID, func(j *jobs.Job) {
			j.Message = fmt.Sprintf("Processed chunk %d of %d", progress.ProcessedChunks, progress.TotalChunks)
			j.Extra = progress
		})

		if i < len(pending)-1 {
			if err := g.clock.Sleep(ctx, g.cfg.Delay); err != nil {
				return err
			}
		}
	}

	run.Status = models.RunStatusGenerated
	if err := g.runs.UpdateTrainingRun(ctx, run); err != nil {
		return err
	}
	progress.Phase = PhaseGenerated
	g.registry.Update(jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusCompleted
		j.Message = fmt.Sprintf("Generated %d training pairs from %d chunks", run.PairCount, run.ProcessedChunks)
		j.Extra = progress
	})
	logger.Info("pair generation finished", "pairs", run.PairCount, "processed_chunks", run.ProcessedChunks)
	return nil
}

// generateForChunk asks for questions about chunk and stores them as pairs.
func (g *Generator) generateForChunk(ctx context.Context, run *models.TrainingRun, chunk vectorstore.Chunk) (int, error) {
	questions, err := g.questions.GenerateQuestions(ctx, chunk.Text, g.cfg.QuestionsPerChunk)
	if err != nil {
		return 0, err
	}
	if len(questions) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	preview := truncateRunes(chunk.Text, previewChars)
	pairs := make([]*models.TrainingPair, len(questions))
	for i, q := range questions {
		pairs[i] = &models.TrainingPair{
			ID:             uuid.New(),
			RunID:          run.ID,
			OwnerID:        run.OwnerID,
			Question:       q,
			ChunkID:        chunk.ID,
			ChunkPreview:   preview,
			RelevanceScore: 1.0,
			CreatedAt:      now,
		}
	}
	if err := g.runs.InsertTrainingPairs(ctx, pairs); err != nil {
		return 0, err
	}
	return len(pairs), nil
}

// markFailed records a failure on the run. It uses a fresh context so that a
// cancelled pipeline can still persist why it stopped.
func markFailed(ctx context.Context, runs store.TrainingStore, run *models.TrainingRun, phase, msg string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	run.Status = models.RunStatusFailed
	run.FailedPhase = &phase
	run.ErrorMessage = &msg
	if err := runs.UpdateTrainingRun(ctx, run); err != nil {
		logger.Error("failed to record run failure", "error", err)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
