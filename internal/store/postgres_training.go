package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

// --- Training runs ---

const runColumns = `id, owner_id, status, total_chunks, processed_chunks, pair_count, train_pairs, test_pairs,
	external_job_id, COALESCE(metrics, '{}'::jsonb), failed_phase, error_message, completed_at, created_at, updated_at`

// validRunTransitions lists the statuses a run may move to from each status.
// Failed runs can be resumed, either by continuing generation or by
// retrying training.
var validRunTransitions = map[string][]string{
	models.RunStatusGenerating: {models.RunStatusGenerating, models.RunStatusGenerated, models.RunStatusFailed},
	models.RunStatusGenerated:  {models.RunStatusGenerated, models.RunStatusTraining, models.RunStatusFailed},
	models.RunStatusTraining:   {models.RunStatusTraining, models.RunStatusCompleted, models.RunStatusFailed},
	models.RunStatusFailed:     {models.RunStatusFailed, models.RunStatusGenerating, models.RunStatusTraining},
}

// ErrInvalidTransition is returned when a run status change is not allowed.
var ErrInvalidTransition = errors.New("invalid training run status transition")

func scanRun(row pgx.Row) (*models.TrainingRun, error) {
	var r models.TrainingRun
	err := row.Scan(&r.ID, &r.OwnerID, &r.Status, &r.TotalChunks, &r.ProcessedChunks, &r.PairCount,
		&r.TrainPairs, &r.TestPairs, &r.ExternalJobID, &r.Metrics, &r.FailedPhase, &r.ErrorMessage,
		&r.CompletedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateTrainingRun(ctx context.Context, run *models.TrainingRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO training_runs (id, owner_id, status, total_chunks, processed_chunks, pair_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.OwnerID, run.Status, run.TotalChunks, run.ProcessedChunks, run.PairCount, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create training run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTrainingRun(ctx context.Context, ownerID, id uuid.UUID) (*models.TrainingRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM training_runs WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get training run: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListTrainingRuns(ctx context.Context, ownerID uuid.UUID) ([]*models.TrainingRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM training_runs WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list training runs: %w", err)
	}
	defer rows.Close()

	var out []*models.TrainingRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan training run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateTrainingRun persists the run's mutable fields after checking the
// status transition against the stored status.
func (s *PostgresStore) UpdateTrainingRun(ctx context.Context, run *models.TrainingRun) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update training run: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM training_runs WHERE id = $1 AND owner_id = $2 FOR UPDATE`, run.ID, run.OwnerID,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get training run status: %w", err)
	}

	if !slices.Contains(validRunTransitions[current], run.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, run.Status)
	}

	_, err = tx.Exec(ctx,
		`UPDATE training_runs SET status = $3, total_chunks = $4, processed_chunks = $5, pair_count = $6,
		   train_pairs = $7, test_pairs = $8, external_job_id = $9, metrics = $10, failed_phase = $11,
		   error_message = $12, completed_at = $13, updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2`,
		run.ID, run.OwnerID, run.Status, run.TotalChunks, run.ProcessedChunks, run.PairCount,
		run.TrainPairs, run.TestPairs, run.ExternalJobID, run.Metrics, run.FailedPhase,
		run.ErrorMessage, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("update training run: %w", err)
	}
	return tx.Commit(ctx)
}

// FindBlockingRun returns the newest run still generating, awaiting
// training, or training.
func (s *PostgresStore) FindBlockingRun(ctx context.Context, ownerID uuid.UUID) (*models.TrainingRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM training_runs
		 WHERE owner_id = $1 AND status IN ('generating', 'generated', 'training')
		 ORDER BY created_at DESC LIMIT 1`, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find blocking run: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) HasCompletedRun(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM training_runs WHERE owner_id = $1 AND status = 'completed')`, ownerID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check completed run: %w", err)
	}
	return exists, nil
}

// --- Training pairs ---

func (s *PostgresStore) InsertTrainingPairs(ctx context.Context, pairs []*models.TrainingPair) error {
	if len(pairs) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"training_pairs"},
		[]string{"id", "run_id", "owner_id", "question", "chunk_id", "chunk_preview", "relevance_score", "created_at"},
		pgx.CopyFromSlice(len(pairs), func(i int) ([]any, error) {
			p := pairs[i]
			return []any{p.ID, p.RunID, p.OwnerID, p.Question, p.ChunkID, p.ChunkPreview, p.RelevanceScore, p.CreatedAt}, nil
		}))
	if err != nil {
		return fmt.Errorf("insert training pairs: %w", err)
	}
	return nil
}

// ListRunPairs returns the run's pairs oldest first; limit <= 0 means all.
func (s *PostgresStore) ListRunPairs(ctx context.Context, ownerID, runID uuid.UUID, limit int) ([]*models.TrainingPair, error) {
	query := `SELECT id, run_id, owner_id, question, chunk_id, chunk_preview, relevance_score, created_at
		 FROM training_pairs WHERE owner_id = $1 AND run_id = $2 ORDER BY created_at, id`
	args := []any{ownerID, runID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list run pairs: %w", err)
	}
	return scanPairs(rows)
}

// ListCompletedRunPairs returns every pair belonging to a completed run of
// the owner other than excludeRunID.
func (s *PostgresStore) ListCompletedRunPairs(ctx context.Context, ownerID, excludeRunID uuid.UUID) ([]*models.TrainingPair, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.run_id, p.owner_id, p.question, p.chunk_id, p.chunk_preview, p.relevance_score, p.created_at
		 FROM training_pairs p JOIN training_runs r ON r.id = p.run_id
		 WHERE p.owner_id = $1 AND r.status = 'completed' AND p.run_id <> $2
		 ORDER BY p.created_at, p.id`, ownerID, excludeRunID)
	if err != nil {
		return nil, fmt.Errorf("list completed run pairs: %w", err)
	}
	return scanPairs(rows)
}

// CoveredChunkIDs returns the chunks that already have pairs, either in
// runID itself or in any completed run of the owner.
func (s *PostgresStore) CoveredChunkIDs(ctx context.Context, ownerID, runID uuid.UUID) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT p.chunk_id
		 FROM training_pairs p JOIN training_runs r ON r.id = p.run_id
		 WHERE p.owner_id = $1 AND (p.run_id = $2 OR r.status = 'completed')`, ownerID, runID)
	if err != nil {
		return nil, fmt.Errorf("covered chunk ids: %w", err)
	}
	defer rows.Close()

	covered := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		covered[id] = struct{}{}
	}
	return covered, rows.Err()
}

func scanPairs(rows pgx.Rows) ([]*models.TrainingPair, error) {
	defer rows.Close()
	var out []*models.TrainingPair
	for rows.Next() {
		var p models.TrainingPair
		if err := rows.Scan(&p.ID, &p.RunID, &p.OwnerID, &p.Question, &p.ChunkID, &p.ChunkPreview,
			&p.RelevanceScore, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan training pair: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// --- Deep memory settings ---

// GetDeepMemorySettings returns the owner's settings, or disabled defaults
// when none were saved yet.
func (s *PostgresStore) GetDeepMemorySettings(ctx context.Context, ownerID uuid.UUID) (*models.DeepMemorySettings, error) {
	st := models.DeepMemorySettings{OwnerID: ownerID}
	err := s.pool.QueryRow(ctx,
		`SELECT enabled, last_trained_at, last_training_run_id, updated_at
		 FROM deep_memory_settings WHERE owner_id = $1`, ownerID,
	).Scan(&st.Enabled, &st.LastTrainedAt, &st.LastTrainingRunID, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get deep memory settings: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) UpsertDeepMemorySettings(ctx context.Context, st *models.DeepMemorySettings) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deep_memory_settings (owner_id, enabled, last_trained_at, last_training_run_id, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (owner_id) DO UPDATE SET
		   enabled = EXCLUDED.enabled,
		   last_trained_at = EXCLUDED.last_trained_at,
		   last_training_run_id = EXCLUDED.last_training_run_id,
		   updated_at = NOW()`,
		st.OwnerID, st.Enabled, st.LastTrainedAt, st.LastTrainingRunID)
	if err != nil {
		return fmt.Errorf("upsert deep memory settings: %w", err)
	}
	return nil
}
