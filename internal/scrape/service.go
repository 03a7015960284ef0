package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/internal/vectorstore"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

var (
	// ErrConflict is returned when the collection is held by an active job.
	ErrConflict = jobs.ErrConflict

	ErrNoPages       = errors.New("no pages selected")
	ErrNotRetryable  = errors.New("collection has no failed pages to retry")
	ErrNothingFailed = errors.New("no failed pages found")
)

// Request describes a new documentation collection.
type Request struct {
	OwnerID   uuid.UUID
	Name      string
	SourceURL string
	Pages     []PageRef
}

// PageRef is a page selected for scraping.
type PageRef struct {
	URL   string
	Title string
}

// Service accepts scrape requests and collection deletions.
type Service struct {
	registry   *jobs.Registry
	dispatcher *jobs.Dispatcher
	docs       store.DocStore
	pipeline   *Pipeline
	index      vectorstore.Index
}

func NewService(registry *jobs.Registry, dispatcher *jobs.Dispatcher, docs store.DocStore,
	pipeline *Pipeline, index vectorstore.Index) *Service {
	return &Service{registry: registry, dispatcher: dispatcher, docs: docs, pipeline: pipeline, index: index}
}

// Scrape creates the collection with its pending pages and starts the
// fan-out in the background.
func (s *Service) Scrape(ctx context.Context, req Request) (jobs.Snapshot, *models.DocCollection, error) {
	if len(req.Pages) == 0 {
		return jobs.Snapshot{}, nil, ErrNoPages
	}

	now := time.Now().UTC()
	c := &models.DocCollection{
		ID:         uuid.New(),
		OwnerID:    req.OwnerID,
		Name:       req.Name,
		SourceURL:  req.SourceURL,
		Status:     models.CollectionStatusPending,
		TotalPages: len(req.Pages),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	pages := make([]*models.DocPage, len(req.Pages))
	for i, ref := range req.Pages {
		pages[i] = &models.DocPage{
			ID:           uuid.New(),
			CollectionID: c.ID,
			OwnerID:      req.OwnerID,
			URL:          ref.URL,
			Title:        ref.Title,
			Status:       models.PageStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}
	if err := s.docs.CreateCollection(ctx, c, pages); err != nil {
		return jobs.Snapshot{}, nil, fmt.Errorf("saving collection: %w", err)
	}

	snap, err := s.start(c, pages, fmt.Sprintf("Scraping %d documentation pages...", len(pages)))
	if err != nil {
		return jobs.Snapshot{}, nil, err
	}
	return snap, c, nil
}

// RetryFailed re-scrapes the failed pages of a partially scraped collection.
// The collection is claimed before any page is reset, so a losing request
// leaves the pages untouched.
func (s *Service) RetryFailed(ctx context.Context, ownerID, collectionID uuid.UUID) (jobs.Snapshot, error) {
	c, err := s.docs.GetCollection(ctx, ownerID, collectionID)
	if err != nil {
		return jobs.Snapshot{}, err
	}
	if c.Status != models.CollectionStatusPartial {
		return jobs.Snapshot{}, fmt.Errorf("%w: status is %s", ErrNotRetryable, c.Status)
	}

	snap, err := s.claim(c, c.FailedPages, fmt.Sprintf("Retrying %d failed pages...", c.FailedPages))
	if err != nil {
		return jobs.Snapshot{}, err
	}

	pages, err := s.docs.ResetFailedPages(ctx, ownerID, collectionID)
	if err == nil && len(pages) == 0 {
		err = ErrNothingFailed
	}
	if err != nil {
		s.registry.Update(snap.ID, func(j *jobs.Job) {
			j.Status = jobs.StatusFailed
			j.Message = jobs.Truncate("Retry not started: "+err.Error(), jobs.MaxMessageBytes)
		})
		return jobs.Snapshot{}, err
	}

	s.dispatch(snap.ID, c, pages)
	return snap, nil
}

func (s *Service) start(c *models.DocCollection, pages []*models.DocPage, msg string) (jobs.Snapshot, error) {
	snap, err := s.claim(c, len(pages), msg)
	if err != nil {
		return jobs.Snapshot{}, err
	}
	s.dispatch(snap.ID, c, pages)
	return snap, nil
}

// claim registers the job that holds the collection for the run.
func (s *Service) claim(c *models.DocCollection, units int, msg string) (jobs.Snapshot, error) {
	snap, ok := s.registry.CreateExclusive(jobs.CreateParams{
		Kind:        jobs.KindDocScrape,
		OwnerID:     c.OwnerID,
		TotalUnits:  units,
		ResourceKey: jobs.CollectionKey(c.ID),
		Message:     msg,
		Extra:       jobs.ScrapeProgress{CollectionID: c.ID, CollectionStatus: c.Status},
	})
	if !ok {
		return jobs.Snapshot{}, fmt.Errorf("%w: collection %s is held by job %s", ErrConflict, c.ID, snap.ID)
	}
	return snap, nil
}

func (s *Service) dispatch(jobID uuid.UUID, c *models.DocCollection, pages []*models.DocPage) {
	s.dispatcher.Go(jobID, func(ctx context.Context) error {
		return s.pipeline.Run(ctx, jobID, c, pages)
	})
}

// DeleteCollection removes a collection, its pages and their vectors. It is
// rejected while a job for the collection is active.
func (s *Service) DeleteCollection(ctx context.Context, ownerID, collectionID uuid.UUID) error {
	c, err := s.docs.GetCollection(ctx, ownerID, collectionID)
	if err != nil {
		return err
	}
	if err := s.registry.Guard(jobs.CollectionKey(c.ID)); err != nil {
		return err
	}

	pages, err := s.docs.ListPages(ctx, ownerID, collectionID)
	if err != nil {
		return err
	}
	ids := make([]string, len(pages))
	for i, p := range pages {
		ids[i] = p.ID.String()
	}
	if err := s.index.DeleteBySource(ctx, ownerID, ids); err != nil {
		slog.Warn("failed to delete collection vectors", "collection_id", collectionID, "error", err)
	}

	if err := s.docs.DeleteCollection(ctx, ownerID, collectionID); err != nil {
		return err
	}
	slog.Info("collection deleted", "owner_id", ownerID, "collection_id", collectionID, "pages", len(pages))
	return nil
}

// Collection returns a collection with its pages.
func (s *Service) Collection(ctx context.Context, ownerID, collectionID uuid.UUID) (*models.DocCollection, []*models.DocPage, error) {
	c, err := s.docs.GetCollection(ctx, ownerID, collectionID)
	if err != nil {
		return nil, nil, err
	}
	pages, err := s.docs.ListPages(ctx, ownerID, collectionID)
	if err != nil {
		return nil, nil, err
	}
	return c, pages, nil
}
