package jobs_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotJSON_MergesExtra(t *testing.T) {
	runID := uuid.New()
	snap := jobs.Snapshot{
		ID:        uuid.New(),
		Kind:      jobs.KindPairGeneration,
		Status:    jobs.StatusInProgress,
		Succeeded: []string{},
		Failed:    []string{},
		Message:   "Processing chunk 2/4",
		Extra: jobs.GenerationProgress{
			Phase:           "generating",
			TrainingRunID:   runID,
			TotalChunks:     4,
			ProcessedChunks: 2,
			PairsGenerated:  8,
		},
	}

	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "in_progress", got["status"])
	assert.Equal(t, "generating", got["phase"])
	assert.Equal(t, runID.String(), got["training_run_id"])
	assert.EqualValues(t, 8, got["pairs_generated"])
	assert.EqualValues(t, 50, got["progress"], "progress comes from the payload when there are no units")
}

func TestSnapshotJSON_IngestPayload(t *testing.T) {
	snap := jobs.Snapshot{Status: jobs.StatusCompleted, Extra: jobs.IngestProgress{ChannelID: "UC1", Indexed: 12}}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "completed", got["status"])
	assert.Equal(t, "UC1", got["channel_id"])
	assert.EqualValues(t, 12, got["chunks_indexed"])
}

func TestSnapshotProgress(t *testing.T) {
	assert.Equal(t, 40.0, jobs.Snapshot{TotalUnits: 5, ProcessedUnits: 2}.Progress())
	assert.Equal(t, 0.0, jobs.Snapshot{}.Progress())
	assert.Equal(t, 20.0, jobs.Snapshot{Extra: jobs.TrainingProgress{Phase: "training"}}.Progress())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, jobs.StatusPending.Terminal())
	assert.False(t, jobs.StatusInProgress.Terminal())
	assert.True(t, jobs.StatusCompleted.Terminal())
	assert.True(t, jobs.StatusFailed.Terminal())
}
