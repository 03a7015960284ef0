package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/api/response"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/scrape"
	"github.com/kiranshivaraju/kbforge/internal/scraper"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

// Scraper is the documentation service as seen by the handlers.
type Scraper interface {
	Scrape(ctx context.Context, req scrape.Request) (jobs.Snapshot, *models.DocCollection, error)
	RetryFailed(ctx context.Context, ownerID, collectionID uuid.UUID) (jobs.Snapshot, error)
	DeleteCollection(ctx context.Context, ownerID, collectionID uuid.UUID) error
	Collection(ctx context.Context, ownerID, collectionID uuid.UUID) (*models.DocCollection, []*models.DocPage, error)
}

// Discoverer reads the page list of a documentation site from its entry page.
type Discoverer interface {
	Discover(ctx context.Context, entry string) (*scraper.Discovery, error)
}

type discoverRequest struct {
	URL string `json:"url" validate:"required,http_url,public_url"`
}

// NewDiscoverHandler returns an http.HandlerFunc for POST /api/v1/documentation/discover.
// An entry page without same-site links answers 422.
func NewDiscoverHandler(d Discoverer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ownerFrom(w, r); !ok {
			return
		}
		var req discoverRequest
		if !decode(w, r, &req) {
			return
		}
		found, err := d.Discover(r.Context(), req.URL)
		if err != nil {
			serviceError(w, err)
			return
		}
		response.JSON(w, found)
	}
}

type scrapeRequest struct {
	Name      string `json:"name"       validate:"required,max=200"`
	SourceURL string `json:"source_url" validate:"omitempty,url"`
	Pages     []struct {
		URL   string `json:"url"   validate:"required,http_url,public_url"`
		Title string `json:"title"`
	} `json:"pages" validate:"required,min=1,max=500,dive"`
}

// NewScrapeHandler returns an http.HandlerFunc for POST /api/v1/documentation/scrape.
func NewScrapeHandler(svc Scraper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		var req scrapeRequest
		if !decode(w, r, &req) {
			return
		}

		sreq := scrape.Request{OwnerID: owner, Name: req.Name, SourceURL: req.SourceURL}
		for _, p := range req.Pages {
			sreq.Pages = append(sreq.Pages, scrape.PageRef{URL: p.URL, Title: p.Title})
		}
		snap, c, err := svc.Scrape(r.Context(), sreq)
		if err != nil {
			serviceError(w, err)
			return
		}
		response.Accepted(w, map[string]any{
			"job_id":        snap.ID,
			"collection_id": c.ID,
			"total_pages":   c.TotalPages,
			"message":       snap.Message,
		})
	}
}

// NewRetryHandler returns an http.HandlerFunc for POST /api/v1/documentation/{collectionID}/retry.
func NewRetryHandler(svc Scraper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "collectionID")
		if !ok {
			return
		}
		snap, err := svc.RetryFailed(r.Context(), owner, id)
		if err != nil {
			serviceError(w, err)
			return
		}
		response.Accepted(w, map[string]any{
			"job_id":        snap.ID,
			"collection_id": id,
			"total_pages":   snap.TotalUnits,
			"message":       snap.Message,
		})
	}
}

// NewDeleteCollectionHandler returns an http.HandlerFunc for DELETE /api/v1/documentation/{collectionID}.
func NewDeleteCollectionHandler(svc Scraper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "collectionID")
		if !ok {
			return
		}
		if err := svc.DeleteCollection(r.Context(), owner, id); err != nil {
			serviceError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// NewListPagesHandler returns an http.HandlerFunc for GET /api/v1/documentation/{collectionID}/pages.
func NewListPagesHandler(svc Scraper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "collectionID")
		if !ok {
			return
		}
		c, pages, err := svc.Collection(r.Context(), owner, id)
		if err != nil {
			serviceError(w, err)
			return
		}
		if pages == nil {
			pages = []*models.DocPage{}
		}
		response.JSON(w, map[string]any{"collection": c, "pages": pages})
	}
}
