package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/api/response"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

// ArticleScraper is the article service as seen by the handlers.
type ArticleScraper interface {
	Scrape(ctx context.Context, ownerID uuid.UUID, url string) (jobs.Snapshot, *models.Article, error)
	Article(ctx context.Context, ownerID, id uuid.UUID) (*models.Article, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]*models.Article, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
}

type scrapeArticleRequest struct {
	URL string `json:"url" validate:"required,http_url,public_url"`
}

// NewScrapeArticleHandler returns an http.HandlerFunc for POST /api/v1/knowledge/articles.
func NewScrapeArticleHandler(svc ArticleScraper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		var req scrapeArticleRequest
		if !decode(w, r, &req) {
			return
		}
		snap, a, err := svc.Scrape(r.Context(), owner, req.URL)
		if err != nil {
			serviceError(w, err)
			return
		}
		response.Accepted(w, map[string]any{
			"job_id":     snap.ID,
			"article_id": a.ID,
			"message":    snap.Message,
		})
	}
}

func NewListArticlesHandler(svc ArticleScraper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		items, err := svc.List(r.Context(), owner)
		if err != nil {
			serviceError(w, err)
			return
		}
		response.List(w, items)
	}
}

func NewGetArticleHandler(svc ArticleScraper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "articleID")
		if !ok {
			return
		}
		a, err := svc.Article(r.Context(), owner, id)
		if err != nil {
			serviceError(w, err)
			return
		}
		response.JSON(w, a)
	}
}

// NewDeleteArticleHandler returns an http.HandlerFunc for DELETE /api/v1/articles/{articleID}.
func NewDeleteArticleHandler(svc ArticleScraper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "articleID")
		if !ok {
			return
		}
		if err := svc.Delete(r.Context(), owner, id); err != nil {
			serviceError(w, err)
			return
		}
		response.NoContent(w)
	}
}
