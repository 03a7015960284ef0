package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/kbforge/internal/api/middleware"
	"github.com/kiranshivaraju/kbforge/internal/api/response"
	"github.com/kiranshivaraju/kbforge/pkg/metrics"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Metrics   *metrics.Middleware

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	AddYouTube    http.HandlerFunc
	DeleteChannel http.HandlerFunc

	ScrapeArticle http.HandlerFunc
	ListArticles  http.HandlerFunc
	GetArticle    http.HandlerFunc
	DeleteArticle http.HandlerFunc

	DiscoverDocs     http.HandlerFunc
	ScrapeDocs       http.HandlerFunc
	RetryDocs        http.HandlerFunc
	DeleteCollection http.HandlerFunc
	ListPages        http.HandlerFunc

	GeneratePairs  http.HandlerFunc
	TrainModel     http.HandlerFunc
	ResumeRun      http.HandlerFunc
	ListRuns       http.HandlerFunc
	GetRun         http.HandlerFunc
	GetSettings    http.HandlerFunc
	UpdateSettings http.HandlerFunc

	GetJob       http.HandlerFunc
	StreamEvents http.HandlerFunc

	Search http.HandlerFunc

	CreateKey http.HandlerFunc
	ListKeys  http.HandlerFunc
	RevokeKey http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler)
	}

	// Public endpoints
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeRead))

			r.Get("/api/v1/articles", orNotImplemented(deps.ListArticles))
			r.Get("/api/v1/articles/{articleID}", orNotImplemented(deps.GetArticle))
			r.Get("/api/v1/documentation/{collectionID}/pages", orNotImplemented(deps.ListPages))

			r.Get("/api/v1/deep-memory/runs", orNotImplemented(deps.ListRuns))
			r.Get("/api/v1/deep-memory/runs/{runID}", orNotImplemented(deps.GetRun))
			r.Get("/api/v1/deep-memory/settings", orNotImplemented(deps.GetSettings))

			r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))
			r.Get("/api/v1/events/{jobID}", orNotImplemented(deps.StreamEvents))

			// Search only reads the index.
			r.Post("/api/v1/search", orNotImplemented(deps.Search))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeWrite))

			r.Post("/api/v1/knowledge/youtube", orNotImplemented(deps.AddYouTube))
			r.Post("/api/v1/knowledge/articles", orNotImplemented(deps.ScrapeArticle))
			r.Delete("/api/v1/channels/{channelID}", orNotImplemented(deps.DeleteChannel))
			r.Delete("/api/v1/articles/{articleID}", orNotImplemented(deps.DeleteArticle))

			r.Post("/api/v1/documentation/discover", orNotImplemented(deps.DiscoverDocs))
			r.Post("/api/v1/documentation/scrape", orNotImplemented(deps.ScrapeDocs))
			r.Post("/api/v1/documentation/{collectionID}/retry", orNotImplemented(deps.RetryDocs))
			r.Delete("/api/v1/documentation/{collectionID}", orNotImplemented(deps.DeleteCollection))

			r.Post("/api/v1/deep-memory/generate", orNotImplemented(deps.GeneratePairs))
			r.Post("/api/v1/deep-memory/train", orNotImplemented(deps.TrainModel))
			r.Post("/api/v1/deep-memory/runs/{runID}/resume", orNotImplemented(deps.ResumeRun))
			r.Put("/api/v1/deep-memory/settings", orNotImplemented(deps.UpdateSettings))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeAdmin))

			r.Post("/api/v1/keys", orNotImplemented(deps.CreateKey))
			r.Get("/api/v1/keys", orNotImplemented(deps.ListKeys))
			r.Delete("/api/v1/keys/{keyID}", orNotImplemented(deps.RevokeKey))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not yet implemented", nil)
	}
}
