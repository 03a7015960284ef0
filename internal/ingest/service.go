package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/storage"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/internal/vectorstore"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

var ErrNoVideos = errors.New("no videos selected")

// Service accepts ingestion requests and channel deletions.
type Service struct {
	registry   *jobs.Registry
	dispatcher *jobs.Dispatcher
	channels   store.ChannelStore
	pipeline   *Pipeline
	index      vectorstore.Index
	artifacts  storage.ArtifactStore
}

func NewService(registry *jobs.Registry, dispatcher *jobs.Dispatcher, channels store.ChannelStore,
	pipeline *Pipeline, index vectorstore.Index, artifacts storage.ArtifactStore) *Service {
	return &Service{
		registry:   registry,
		dispatcher: dispatcher,
		channels:   channels,
		pipeline:   pipeline,
		index:      index,
		artifacts:  artifacts,
	}
}

// Add records the channel and its videos, then starts ingestion in the
// background. Only one ingestion per channel may run at a time.
func (s *Service) Add(ctx context.Context, b Batch) (jobs.Snapshot, error) {
	if len(b.Items) == 0 {
		return jobs.Snapshot{}, ErrNoVideos
	}

	now := time.Now().UTC()
	ch, err := s.channels.UpsertChannel(ctx, &models.Channel{
		ID:         uuid.New(),
		OwnerID:    b.OwnerID,
		ExternalID: b.ChannelID,
		Title:      b.ChannelTitle,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return jobs.Snapshot{}, fmt.Errorf("saving channel: %w", err)
	}

	videos := make([]*models.Video, len(b.Items))
	for i, it := range b.Items {
		videos[i] = &models.Video{
			ID:         uuid.New(),
			OwnerID:    b.OwnerID,
			ChannelID:  ch.ID,
			ExternalID: it.VideoID,
			Title:      it.Title,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	if err := s.channels.UpsertVideos(ctx, videos); err != nil {
		return jobs.Snapshot{}, fmt.Errorf("saving videos: %w", err)
	}

	snap, ok := s.registry.CreateExclusive(jobs.CreateParams{
		Kind:        jobs.KindTranscriptIngest,
		OwnerID:     b.OwnerID,
		TotalUnits:  len(b.Items),
		ResourceKey: jobs.ChannelKey(ch.ID),
		Message:     "Knowledge base update started",
		Extra:       jobs.IngestProgress{ChannelID: b.ChannelID},
	})
	if !ok {
		return jobs.Snapshot{}, fmt.Errorf("%w: channel %s is already being ingested by job %s", jobs.ErrConflict, b.ChannelID, snap.ID)
	}

	s.dispatcher.Go(snap.ID, func(ctx context.Context) error {
		return s.pipeline.Run(ctx, snap.ID, b)
	})
	return snap, nil
}

// DeleteResult reports what a channel deletion removed.
type DeleteResult struct {
	ChannelID        string `json:"channel_id"`
	VideosDeleted    int    `json:"videos_deleted"`
	ArtifactsDeleted int    `json:"artifacts_deleted"`
}

// DeleteChannel removes a channel's vectors, transcripts and rows. It is
// rejected while an ingestion job for the channel is active.
func (s *Service) DeleteChannel(ctx context.Context, ownerID uuid.UUID, externalID string) (*DeleteResult, error) {
	ch, err := s.channels.GetChannel(ctx, ownerID, externalID)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Guard(jobs.ChannelKey(ch.ID)); err != nil {
		return nil, err
	}

	videos, err := s.channels.ListVideos(ctx, ownerID, ch.ID)
	if err != nil {
		return nil, err
	}

	logger := slog.With("owner_id", ownerID, "channel_id", externalID)
	sourceIDs := make([]string, 0, len(videos))
	var keys []string
	for _, v := range videos {
		sourceIDs = append(sourceIDs, v.ExternalID)
		if v.ArtifactKey != nil {
			keys = append(keys, *v.ArtifactKey)
		}
	}

	if err := s.index.DeleteBySource(ctx, ownerID, sourceIDs); err != nil {
		logger.Warn("failed to delete channel vectors", "error", err)
	}
	artifacts := len(keys)
	if err := s.artifacts.Delete(ctx, keys); err != nil {
		logger.Warn("failed to delete channel transcripts", "error", err)
		artifacts = 0
	}

	if err := s.channels.DeleteChannel(ctx, ownerID, ch.ID); err != nil {
		return nil, err
	}
	logger.Info("channel deleted", "videos", len(videos), "artifacts", artifacts)
	return &DeleteResult{ChannelID: externalID, VideosDeleted: len(videos), ArtifactsDeleted: artifacts}, nil
}
