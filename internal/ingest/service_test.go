package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/clock"
	"github.com/kiranshivaraju/kbforge/internal/ingest"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/storage"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceHarness struct {
	reg        *jobs.Registry
	dispatcher *jobs.Dispatcher
	channels   *memChannels
	artifacts  *memArtifacts
	index      *fakeIndex
	svc        *ingest.Service
}

func newServiceHarness() *serviceHarness {
	h := &serviceHarness{
		reg:       jobs.NewRegistry(jobs.NewBroker()),
		channels:  newMemChannels(),
		artifacts: newMemArtifacts(),
		index:     &fakeIndex{},
	}
	h.dispatcher = jobs.NewDispatcher(context.Background(), h.reg)
	clk := clock.NewFake(time.Now())
	p := ingest.NewPipeline(h.reg, &fakeFetcher{}, h.artifacts, h.channels, h.index, clk, time.Second)
	h.svc = ingest.NewService(h.reg, h.dispatcher, h.channels, p, h.index, h.artifacts)
	return h
}

func addBatch(owner uuid.UUID) ingest.Batch {
	return ingest.Batch{
		OwnerID:      owner,
		ChannelID:    "UC123",
		ChannelTitle: "Options Hour",
		Items:        []ingest.Item{{VideoID: "v1", Title: "One"}, {VideoID: "v2", Title: "Two"}},
	}
}

func TestAdd_DispatchesAndCompletes(t *testing.T) {
	h := newServiceHarness()
	owner := uuid.New()

	snap, err := h.svc.Add(context.Background(), addBatch(owner))
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, snap.Status)
	assert.Equal(t, 2, snap.TotalUnits)

	require.True(t, h.dispatcher.Wait(time.Second))
	final, _ := h.reg.Get(snap.ID)
	assert.Equal(t, jobs.StatusCompleted, final.Status)
	assert.Len(t, h.channels.videos, 2)
}

func TestAdd_NoVideos(t *testing.T) {
	h := newServiceHarness()
	_, err := h.svc.Add(context.Background(), ingest.Batch{OwnerID: uuid.New(), ChannelID: "UC1"})
	assert.ErrorIs(t, err, ingest.ErrNoVideos)
}

func TestAdd_RejectsConcurrentIngestForChannel(t *testing.T) {
	h := newServiceHarness()
	owner := uuid.New()
	ctx := context.Background()

	ch, err := h.channels.UpsertChannel(ctx, &models.Channel{ID: uuid.New(), OwnerID: owner, ExternalID: "UC123"})
	require.NoError(t, err)
	held := h.reg.Create(jobs.CreateParams{Kind: jobs.KindTranscriptIngest, ResourceKey: jobs.ChannelKey(ch.ID)})

	_, err = h.svc.Add(ctx, addBatch(owner))
	assert.ErrorIs(t, err, jobs.ErrConflict)
	assert.Contains(t, err.Error(), held.ID.String())
}

func TestDeleteChannel_GuardedByActiveJob(t *testing.T) {
	h := newServiceHarness()
	owner := uuid.New()
	ctx := context.Background()

	ch, err := h.channels.UpsertChannel(ctx, &models.Channel{ID: uuid.New(), OwnerID: owner, ExternalID: "UC123"})
	require.NoError(t, err)
	held := h.reg.Create(jobs.CreateParams{Kind: jobs.KindTranscriptIngest, ResourceKey: jobs.ChannelKey(ch.ID)})
	h.reg.Update(held.ID, func(j *jobs.Job) { j.Status = jobs.StatusInProgress })

	_, err = h.svc.DeleteChannel(ctx, owner, "UC123")
	assert.ErrorIs(t, err, jobs.ErrConflict)

	h.reg.Update(held.ID, func(j *jobs.Job) { j.Status = jobs.StatusCompleted })
	res, err := h.svc.DeleteChannel(ctx, owner, "UC123")
	require.NoError(t, err)
	assert.Equal(t, "UC123", res.ChannelID)
}

func TestDeleteChannel_RemovesVectorsArtifactsAndRows(t *testing.T) {
	h := newServiceHarness()
	owner := uuid.New()
	ctx := context.Background()

	snap, err := h.svc.Add(ctx, addBatch(owner))
	require.NoError(t, err)
	require.True(t, h.dispatcher.Wait(time.Second))
	final, _ := h.reg.Get(snap.ID)
	require.Equal(t, jobs.StatusCompleted, final.Status)

	res, err := h.svc.DeleteChannel(ctx, owner, "UC123")
	require.NoError(t, err)
	assert.Equal(t, 2, res.VideosDeleted)
	assert.Equal(t, 2, res.ArtifactsDeleted)
	assert.ElementsMatch(t, []string{"v1", "v2"}, h.index.deleted)
	assert.ElementsMatch(t, []string{storage.TranscriptKey(owner, "v1"), storage.TranscriptKey(owner, "v2")}, h.artifacts.deleted)
	assert.Empty(t, h.channels.channels)
}

func TestDeleteChannel_NotFound(t *testing.T) {
	h := newServiceHarness()
	_, err := h.svc.DeleteChannel(context.Background(), uuid.New(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
