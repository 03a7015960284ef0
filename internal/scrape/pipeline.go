// Package scrape fetches the pages of a documentation collection with a
// bounded number of concurrent requests.
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/clock"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/scraper"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/internal/vectorstore"
	"github.com/kiranshivaraju/kbforge/pkg/metrics"
	"github.com/kiranshivaraju/kbforge/pkg/models"
	"golang.org/x/sync/errgroup"
)

// DeriveCollectionStatus maps page outcomes to the collection status.
func DeriveCollectionStatus(total, failed int) string {
	switch {
	case total > 0 && failed == total:
		return models.CollectionStatusFailed
	case failed > 0:
		return models.CollectionStatusPartial
	default:
		return models.CollectionStatusCompleted
	}
}

// Pipeline scrapes pages under a concurrency cap.
type Pipeline struct {
	registry    *jobs.Registry
	fetcher     scraper.Fetcher
	docs        store.DocStore
	index       vectorstore.Index
	clock       clock.Clock
	concurrency int
	delay       time.Duration
}

func NewPipeline(registry *jobs.Registry, fetcher scraper.Fetcher, docs store.DocStore, index vectorstore.Index,
	clk clock.Clock, concurrency int, delay time.Duration) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		registry:    registry,
		fetcher:     fetcher,
		docs:        docs,
		index:       index,
		clock:       clk,
		concurrency: concurrency,
		delay:       delay,
	}
}

// Run scrapes pages of collection c under jobID. Page failures are recorded
// on the page and never stop sibling pages. The collection status is derived
// from every page of the collection once all tasks are done.
func (p *Pipeline) Run(ctx context.Context, jobID uuid.UUID, c *models.DocCollection, pages []*models.DocPage) error {
	logger := slog.With("job_id", jobID, "owner_id", c.OwnerID, "collection_id", c.ID)
	n := len(pages)

	p.registry.Update(jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusInProgress
		j.TotalUnits = n
		j.Message = fmt.Sprintf("Scraping %d documentation pages...", n)
		j.Extra = jobs.ScrapeProgress{CollectionID: c.ID, CollectionStatus: models.CollectionStatusScraping}
	})
	if err := p.docs.UpdateCollectionStatus(ctx, c.OwnerID, c.ID, models.CollectionStatusScraping,
		c.SucceededPages, c.FailedPages); err != nil {
		return fmt.Errorf("marking collection scraping: %w", err)
	}

	var (
		mu   sync.Mutex
		docs []vectorstore.Document
	)
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, page := range pages {
		g.Go(func() error {
			doc, err := p.scrapeOne(ctx, page)
			if err != nil {
				logger.Warn("page scrape failed", "page_id", page.ID, "url", page.URL, "error", err)
				metrics.IncreasePageOutcome(models.PageStatusFailed)
			} else {
				mu.Lock()
				docs = append(docs, doc)
				mu.Unlock()
				metrics.IncreasePageOutcome(models.PageStatusCompleted)
			}

			p.registry.Update(jobID, func(j *jobs.Job) {
				if err != nil {
					j.Fail(page.ID.String())
				} else {
					j.Succeed(page.ID.String())
				}
				j.Message = fmt.Sprintf("Scraping page %d of %d...", j.ProcessedUnits, j.TotalUnits)
			})

			// The slot is held through the delay so the cap also bounds request rate.
			_ = p.clock.Sleep(ctx, p.delay)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scrape interrupted: %w", err)
	}

	all, err := p.docs.ListPages(ctx, c.OwnerID, c.ID)
	if err != nil {
		return fmt.Errorf("listing pages: %w", err)
	}
	succeeded, failed := countOutcomes(all)
	status := DeriveCollectionStatus(len(all), failed)
	if err := p.docs.UpdateCollectionStatus(ctx, c.OwnerID, c.ID, status, succeeded, failed); err != nil {
		return fmt.Errorf("updating collection status: %w", err)
	}

	indexed := 0
	if len(docs) > 0 {
		indexed, err = p.index.AddDocuments(ctx, c.OwnerID, docs)
		if err != nil {
			logger.Error("failed to index documentation pages", "pages", len(docs), "error", err)
			indexed = 0
		}
	}

	p.registry.Update(jobID, func(j *jobs.Job) {
		j.Extra = jobs.ScrapeProgress{CollectionID: c.ID, CollectionStatus: status, Indexed: indexed}
		ok, bad := len(j.Succeeded), len(j.Failed)
		switch {
		case n > 0 && bad == n:
			j.Status = jobs.StatusFailed
			j.Message = fmt.Sprintf("Failed: all %d pages failed to scrape", n)
		case bad > 0:
			j.Status = jobs.StatusCompleted
			j.Message = fmt.Sprintf("Completed: %d of %d pages scraped successfully", ok, n)
		default:
			j.Status = jobs.StatusCompleted
			j.Message = fmt.Sprintf("Completed: all %d pages scraped successfully", n)
		}
	})
	logger.Info("scrape finished", "collection_status", status, "succeeded", succeeded, "failed", failed,
		"chunks_indexed", indexed)
	return nil
}

// scrapeOne fetches a page and records the outcome on its row. Any failure
// leaves the row failed so the derived collection status agrees with the job.
func (p *Pipeline) scrapeOne(ctx context.Context, page *models.DocPage) (vectorstore.Document, error) {
	row := *page
	doc, err := p.fetchInto(ctx, &row)
	if err != nil {
		p.recordFailure(ctx, row, err)
		return vectorstore.Document{}, err
	}
	return doc, nil
}

func (p *Pipeline) fetchInto(ctx context.Context, row *models.DocPage) (vectorstore.Document, error) {
	row.Status = models.PageStatusScraping
	if err := p.docs.UpdatePage(ctx, row); err != nil {
		return vectorstore.Document{}, fmt.Errorf("marking page scraping: %w", err)
	}

	res, err := p.fetcher.Fetch(ctx, row.URL)
	if err != nil {
		return vectorstore.Document{}, err
	}

	now := time.Now().UTC()
	if res.Title != "" {
		row.Title = res.Title
	}
	row.Content = res.Markdown
	row.Status = models.PageStatusCompleted
	row.ErrorMessage = nil
	row.ScrapedAt = &now
	if err := p.docs.UpdatePage(ctx, row); err != nil {
		return vectorstore.Document{}, fmt.Errorf("saving page content: %w", err)
	}

	return vectorstore.Document{
		SourceID:   row.ID.String(),
		SourceType: vectorstore.SourceDocumentation,
		Title:      row.Title,
		URL:        row.URL,
		Text:       res.Markdown,
	}, nil
}

// recordFailure uses a detached context so a cancelled run still leaves the row failed.
func (p *Pipeline) recordFailure(ctx context.Context, row models.DocPage, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	msg := jobs.Truncate(cause.Error(), jobs.MaxMessageBytes)
	row.Status = models.PageStatusFailed
	row.Content = ""
	row.ScrapedAt = nil
	row.ErrorMessage = &msg
	if err := p.docs.UpdatePage(ctx, &row); err != nil {
		slog.Warn("failed to record page failure", "page_id", row.ID, "error", err)
	}
}

// countOutcomes treats every page that is not completed as failed, including
// rows a lost write left pending or scraping.
func countOutcomes(pages []*models.DocPage) (succeeded, failed int) {
	for _, pg := range pages {
		if pg.Status == models.PageStatusCompleted {
			succeeded++
		}
	}
	return succeeded, len(pages) - succeeded
}
