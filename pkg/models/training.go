package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusGenerating = "generating"
	RunStatusGenerated  = "generated"
	RunStatusTraining   = "training"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
)

// Phases a run can fail in.
const (
	PhaseGeneration = "generation"
	PhaseTraining   = "training"
)

// TrainingRun is one invocation of the pair generation and training pipeline.
type TrainingRun struct {
	ID              uuid.UUID          `db:"id"               json:"id"`
	OwnerID         uuid.UUID          `db:"owner_id"         json:"owner_id"`
	Status          string             `db:"status"           json:"status"`
	TotalChunks     int                `db:"total_chunks"     json:"total_chunks"`
	ProcessedChunks int                `db:"processed_chunks" json:"processed_chunks"`
	PairCount       int                `db:"pair_count"       json:"pair_count"`
	TrainPairs      int                `db:"train_pairs"      json:"train_pairs"`
	TestPairs       int                `db:"test_pairs"       json:"test_pairs"`
	ExternalJobID   *string            `db:"external_job_id"  json:"external_job_id,omitempty"`
	Metrics         map[string]float64 `db:"metrics"          json:"metrics,omitempty"`
	FailedPhase     *string            `db:"failed_phase"     json:"failed_phase,omitempty"`
	ErrorMessage    *string            `db:"error_message"    json:"error_message,omitempty"`
	CompletedAt     *time.Time         `db:"completed_at"     json:"completed_at,omitempty"`
	CreatedAt       time.Time          `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at"       json:"updated_at"`
}

// Blocking reports whether the run prevents a new generation from starting.
func (r *TrainingRun) Blocking() bool {
	switch r.Status {
	case RunStatusGenerating, RunStatusGenerated, RunStatusTraining:
		return true
	}
	return false
}

// TrainingPair links a generated question to the chunk that answers it.
type TrainingPair struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	RunID          uuid.UUID `db:"run_id"          json:"run_id"`
	OwnerID        uuid.UUID `db:"owner_id"        json:"owner_id"`
	Question       string    `db:"question"        json:"question"`
	ChunkID        string    `db:"chunk_id"        json:"chunk_id"`
	ChunkPreview   string    `db:"chunk_preview"   json:"chunk_preview"`
	RelevanceScore float64   `db:"relevance_score" json:"relevance_score"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
}

// DeepMemorySettings is the per-owner retrieval tuning state.
type DeepMemorySettings struct {
	OwnerID           uuid.UUID  `db:"owner_id"             json:"owner_id"`
	Enabled           bool       `db:"enabled"              json:"enabled"`
	LastTrainedAt     *time.Time `db:"last_trained_at"      json:"last_trained_at,omitempty"`
	LastTrainingRunID *uuid.UUID `db:"last_training_run_id" json:"last_training_run_id,omitempty"`
	UpdatedAt         time.Time  `db:"updated_at"           json:"updated_at"`
}
