// Package articles scrapes single web pages into the knowledge base. Each
// scrape is a one-unit job.
package articles

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/scraper"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/internal/vectorstore"
	"github.com/kiranshivaraju/kbforge/pkg/metrics"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

// ErrConflict is returned when the article is held by an active job.
var ErrConflict = jobs.ErrConflict

type Service struct {
	registry   *jobs.Registry
	dispatcher *jobs.Dispatcher
	articles   store.ArticleStore
	fetcher    scraper.Fetcher
	index      vectorstore.Index
}

func NewService(registry *jobs.Registry, dispatcher *jobs.Dispatcher, articles store.ArticleStore,
	fetcher scraper.Fetcher, index vectorstore.Index) *Service {
	return &Service{registry: registry, dispatcher: dispatcher, articles: articles, fetcher: fetcher, index: index}
}

// Scrape records a pending article and fetches it in the background.
func (s *Service) Scrape(ctx context.Context, ownerID uuid.UUID, url string) (jobs.Snapshot, *models.Article, error) {
	now := time.Now().UTC()
	a := &models.Article{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		URL:       url,
		Status:    models.ArticleStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.articles.CreateArticle(ctx, a); err != nil {
		return jobs.Snapshot{}, nil, fmt.Errorf("saving article: %w", err)
	}

	snap := s.registry.Create(jobs.CreateParams{
		Kind:        jobs.KindArticleScrape,
		OwnerID:     ownerID,
		TotalUnits:  1,
		ResourceKey: jobs.ArticleKey(a.ID),
		Message:     "Article scraping started",
		Extra:       jobs.ArticleProgress{ArticleID: a.ID, URL: url},
	})
	row := *a
	s.dispatcher.Go(snap.ID, func(ctx context.Context) error {
		s.run(ctx, snap.ID, &row)
		return nil
	})
	return snap, a, nil
}

func (s *Service) run(ctx context.Context, jobID uuid.UUID, a *models.Article) {
	logger := slog.With("job_id", jobID, "owner_id", a.OwnerID, "article_id", a.ID)
	s.registry.Update(jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusInProgress
		j.Message = "Scraping article..."
	})

	if err := s.fetchInto(ctx, a); err != nil {
		s.recordFailure(ctx, *a, err)
		metrics.IncreasePageOutcome(models.ArticleStatusFailed)
		logger.Warn("article scrape failed", "url", a.URL, "error", err)
		s.registry.Update(jobID, func(j *jobs.Job) {
			j.Fail(a.ID.String())
			j.Status = jobs.StatusFailed
			j.Message = jobs.Truncate("Failed to scrape article: "+err.Error(), jobs.MaxMessageBytes)
		})
		return
	}
	metrics.IncreasePageOutcome(models.ArticleStatusCompleted)

	indexed, err := s.index.AddDocuments(ctx, a.OwnerID, []vectorstore.Document{{
		SourceID:   a.ID.String(),
		SourceType: vectorstore.SourceArticle,
		Title:      a.Title,
		URL:        a.URL,
		Text:       a.Content,
	}})
	if err != nil {
		logger.Error("failed to index article", "error", err)
		indexed = 0
	}

	label := a.Title
	if label == "" {
		label = a.URL
	}
	s.registry.Update(jobID, func(j *jobs.Job) {
		j.Succeed(a.ID.String())
		j.Status = jobs.StatusCompleted
		j.Message = jobs.Truncate("Article scraped: "+label, jobs.MaxMessageBytes)
		j.Extra = jobs.ArticleProgress{ArticleID: a.ID, URL: a.URL, Truncated: a.IsTruncated, Indexed: indexed}
	})
	logger.Info("article scraped", "truncated", a.IsTruncated, "chunks_indexed", indexed)
}

func (s *Service) fetchInto(ctx context.Context, a *models.Article) error {
	a.Status = models.ArticleStatusScraping
	if err := s.articles.UpdateArticle(ctx, a); err != nil {
		return fmt.Errorf("marking article scraping: %w", err)
	}

	page, err := s.fetcher.Fetch(ctx, a.URL)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	a.Title = page.Title
	a.Content = page.Markdown
	a.IsTruncated = page.Truncated
	a.Status = models.ArticleStatusCompleted
	a.ErrorMessage = nil
	a.ScrapedAt = &now
	if err := s.articles.UpdateArticle(ctx, a); err != nil {
		return fmt.Errorf("saving article content: %w", err)
	}
	return nil
}

// recordFailure writes on a detached context so a cancelled job still
// leaves the row failed.
func (s *Service) recordFailure(ctx context.Context, a models.Article, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	msg := jobs.Truncate(cause.Error(), jobs.MaxMessageBytes)
	a.Status = models.ArticleStatusFailed
	a.Content = ""
	a.IsTruncated = false
	a.ScrapedAt = nil
	a.ErrorMessage = &msg
	if err := s.articles.UpdateArticle(ctx, &a); err != nil {
		slog.Warn("failed to record article failure", "article_id", a.ID, "error", err)
	}
}

func (s *Service) Article(ctx context.Context, ownerID, id uuid.UUID) (*models.Article, error) {
	return s.articles.GetArticle(ctx, ownerID, id)
}

func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]*models.Article, error) {
	return s.articles.ListArticles(ctx, ownerID)
}

// Delete removes an article and its vectors. It is rejected while the
// article's scrape job is active.
func (s *Service) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	if _, err := s.articles.GetArticle(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.registry.Guard(jobs.ArticleKey(id)); err != nil {
		return err
	}
	if err := s.index.DeleteBySource(ctx, ownerID, []string{id.String()}); err != nil {
		slog.Warn("failed to delete article vectors", "article_id", id, "error", err)
	}
	if err := s.articles.DeleteArticle(ctx, ownerID, id); err != nil {
		return err
	}
	slog.Info("article deleted", "owner_id", ownerID, "article_id", id)
	return nil
}
