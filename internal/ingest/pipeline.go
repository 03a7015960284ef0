// Package ingest adds video transcripts to an owner's corpus one video at a
// time.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/clock"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/storage"
	"github.com/kiranshivaraju/kbforge/internal/transcript"
	"github.com/kiranshivaraju/kbforge/internal/vectorstore"
)

// Item is one video to ingest.
type Item struct {
	VideoID string
	Title   string
}

// Batch is the work handed to the pipeline.
type Batch struct {
	OwnerID      uuid.UUID
	ChannelID    string
	ChannelTitle string
	Items        []Item
}

// VideoMarker records a stored transcript against its video row.
type VideoMarker interface {
	MarkVideoTranscribed(ctx context.Context, ownerID uuid.UUID, externalID, artifactKey string) error
}

// Pipeline fetches, stores and indexes transcripts sequentially.
type Pipeline struct {
	registry  *jobs.Registry
	fetcher   transcript.Fetcher
	artifacts storage.ArtifactStore
	videos    VideoMarker
	index     vectorstore.Index
	clock     clock.Clock
	delay     time.Duration
}

func NewPipeline(registry *jobs.Registry, fetcher transcript.Fetcher, artifacts storage.ArtifactStore,
	videos VideoMarker, index vectorstore.Index, clk clock.Clock, delay time.Duration) *Pipeline {
	return &Pipeline{
		registry:  registry,
		fetcher:   fetcher,
		artifacts: artifacts,
		videos:    videos,
		index:     index,
		clock:     clk,
		delay:     delay,
	}
}

// Run processes b under jobID. A single video failing never stops the batch;
// a failure to index the fetched transcripts fails the whole job.
func (p *Pipeline) Run(ctx context.Context, jobID uuid.UUID, b Batch) error {
	logger := slog.With("job_id", jobID, "owner_id", b.OwnerID, "channel_id", b.ChannelID)
	n := len(b.Items)

	p.registry.Update(jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusInProgress
		j.TotalUnits = n
		j.Message = fmt.Sprintf("Processing %d videos...", n)
	})

	var docs []vectorstore.Document
	for i, item := range b.Items {
		doc, err := p.ingestOne(ctx, b, item)
		if err != nil {
			logger.Warn("video ingestion failed", "video_id", item.VideoID, "error", err)
		} else {
			docs = append(docs, doc)
		}

		p.registry.Update(jobID, func(j *jobs.Job) {
			if err != nil {
				j.Fail(item.VideoID)
			} else {
				j.Succeed(item.VideoID)
			}
			j.Message = fmt.Sprintf("Processed %d/%d: %s", i+1, n, jobs.Truncate(item.Title, 50))
		})

		if i < n-1 {
			if err := p.clock.Sleep(ctx, p.delay); err != nil {
				return fmt.Errorf("ingestion interrupted: %w", err)
			}
		}
	}

	indexed := 0
	if len(docs) > 0 {
		var err error
		indexed, err = p.index.AddDocuments(ctx, b.OwnerID, docs)
		if err != nil {
			return fmt.Errorf("indexing transcripts: %w", err)
		}
	}

	succeeded := len(docs)
	failed := n - succeeded
	p.registry.Update(jobID, func(j *jobs.Job) {
		j.Extra = jobs.IngestProgress{ChannelID: b.ChannelID, Indexed: indexed}
		switch {
		case succeeded == 0:
			j.Status = jobs.StatusFailed
			j.Message = fmt.Sprintf("Failed: none of the %d videos could be transcribed", n)
		case failed > 0:
			j.Status = jobs.StatusCompleted
			j.Message = fmt.Sprintf("Completed: %d of %d videos added, %d failed", succeeded, n, failed)
		default:
			j.Status = jobs.StatusCompleted
			j.Message = "Knowledge base updated successfully"
		}
	})
	logger.Info("ingestion finished", "succeeded", succeeded, "failed", failed, "chunks_indexed", indexed)
	return nil
}

func (p *Pipeline) ingestOne(ctx context.Context, b Batch, item Item) (vectorstore.Document, error) {
	text, err := p.fetcher.Fetch(ctx, item.VideoID)
	if err != nil {
		return vectorstore.Document{}, fmt.Errorf("fetching transcript: %w", err)
	}

	key := storage.TranscriptKey(b.OwnerID, item.VideoID)
	if err := p.artifacts.Put(ctx, key, transcript.Markdown(item.VideoID, item.Title, text)); err != nil {
		return vectorstore.Document{}, fmt.Errorf("storing transcript: %w", err)
	}
	if err := p.videos.MarkVideoTranscribed(ctx, b.OwnerID, item.VideoID, key); err != nil {
		return vectorstore.Document{}, fmt.Errorf("marking video transcribed: %w", err)
	}

	return vectorstore.Document{
		SourceID:   item.VideoID,
		SourceType: vectorstore.SourceYouTube,
		Title:      item.Title,
		URL:        transcript.VideoURL(item.VideoID),
		Text:       text,
	}, nil
}
